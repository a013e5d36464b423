// internal/certs/inspector.go
package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"hostwatch/internal/database"
)

var ErrNoCertificate = errors.New("no certificate presented")

// Inspector reads the leaf certificate a domain presents.
type Inspector interface {
	Inspect(ctx context.Context, domain string) (*x509.Certificate, error)
}

type TLSInspector struct {
	timeout time.Duration
}

func NewTLSInspector(timeout time.Duration) *TLSInspector {
	return &TLSInspector{timeout: timeout}
}

// Inspect connects to domain on 443, or to the given port when domain is host:port.
// Chain verification is skipped so that expired and self-signed certificates
// can still be classified.
func (i *TLSInspector) Inspect(ctx context.Context, domain string) (*x509.Certificate, error) {
	host, addr := splitTarget(domain)

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: i.timeout},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", addr, err)
	}
	defer conn.Close()

	peers := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return nil, ErrNoCertificate
	}
	return peers[0], nil
}

func splitTarget(domain string) (host, addr string) {
	if h, _, err := net.SplitHostPort(domain); err == nil {
		return h, domain
	}
	return domain, net.JoinHostPort(domain, "443")
}

// Validity is the part of a certificate classification depends on.
type Validity struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func ValidityOf(cert *x509.Certificate) *Validity {
	if cert == nil {
		return nil
	}
	return &Validity{NotBefore: cert.NotBefore, NotAfter: cert.NotAfter}
}

// Classify maps a validity window to a status at now. A nil window is not_found.
// Days are whole days remaining, rounded down, and negative once expired.
func Classify(now time.Time, v *Validity, warningDays int) (database.CertStatus, *int) {
	if v == nil {
		return database.CertNotFound, nil
	}

	days := int(math.Floor(v.NotAfter.Sub(now).Hours() / 24))

	switch {
	case !now.Before(v.NotAfter):
		return database.CertExpired, &days
	case now.Before(v.NotBefore):
		return database.CertNotYetValid, &days
	case days <= warningDays:
		return database.CertExpiringSoon, &days
	default:
		return database.CertValid, &days
	}
}
