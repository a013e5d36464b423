// internal/certs/acme.go
package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme"

	"hostwatch/internal/config"
)

// Issued is a freshly issued certificate and its private key.
type Issued struct {
	CertPEM []byte
	KeyPEM  []byte
	Leaf    *x509.Certificate
}

// Issuer obtains a certificate for a domain from an external provider.
type Issuer interface {
	Issue(ctx context.Context, domain string) (*Issued, error)
}

// ChallengeStore holds pending HTTP-01 key authorizations by token.
type ChallengeStore struct {
	tokens sync.Map
}

func (s *ChallengeStore) Put(token, keyAuth string) {
	s.tokens.Store(token, keyAuth)
}

func (s *ChallengeStore) Delete(token string) {
	s.tokens.Delete(token)
}

func (s *ChallengeStore) Lookup(token string) (string, bool) {
	v, ok := s.tokens.Load(token)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// ACMEIssuer runs the HTTP-01 order flow. The challenge responses are served
// from Challenges by the web server on /.well-known/acme-challenge/.
type ACMEIssuer struct {
	cfg        *config.ACMEConfig
	Challenges *ChallengeStore

	mu         sync.Mutex
	client     *acme.Client
	registered bool
}

func NewACMEIssuer(cfg *config.ACMEConfig, challenges *ChallengeStore) *ACMEIssuer {
	return &ACMEIssuer{cfg: cfg, Challenges: challenges}
}

func (a *ACMEIssuer) Issue(ctx context.Context, domain string) (*Issued, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	client, err := a.account(ctx)
	if err != nil {
		return nil, err
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domain))
	if err != nil {
		return nil, fmt.Errorf("authorize order: %w", err)
	}

	for _, authzURL := range order.AuthzURLs {
		if err := a.authorize(ctx, client, authzURL); err != nil {
			return nil, err
		}
	}

	order, err = client.WaitOrder(ctx, order.URI)
	if err != nil {
		return nil, fmt.Errorf("wait order: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: []string{domain},
	}, key)
	if err != nil {
		return nil, fmt.Errorf("create csr: %w", err)
	}

	der, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}
	if len(der) == 0 {
		return nil, errors.New("provider returned an empty certificate chain")
	}

	leaf, err := x509.ParseCertificate(der[0])
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate: %w", err)
	}

	var certPEM []byte
	for _, b := range der {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b})...)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"domain":    domain,
		"not_after": leaf.NotAfter,
	}).Info("ACME certificate issued")

	return &Issued{
		CertPEM: certPEM,
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		Leaf:    leaf,
	}, nil
}

func (a *ACMEIssuer) authorize(ctx context.Context, client *acme.Client, authzURL string) error {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("get authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}

	var chal *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "http-01" {
			chal = c
			break
		}
	}
	if chal == nil {
		return fmt.Errorf("no http-01 challenge offered for %s", authz.Identifier.Value)
	}

	keyAuth, err := client.HTTP01ChallengeResponse(chal.Token)
	if err != nil {
		return err
	}
	a.Challenges.Put(chal.Token, keyAuth)
	defer a.Challenges.Delete(chal.Token)

	if _, err := client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("accept challenge: %w", err)
	}
	if _, err := client.WaitAuthorization(ctx, authzURL); err != nil {
		return fmt.Errorf("wait authorization: %w", err)
	}
	return nil
}

// account returns a client with a registered account, loading or creating the key on first use.
func (a *ACMEIssuer) account(ctx context.Context) (*acme.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil && a.registered {
		return a.client, nil
	}

	if a.client == nil {
		key, err := loadOrCreateAccountKey(a.cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("account key: %w", err)
		}
		a.client = &acme.Client{
			Key:          key,
			DirectoryURL: a.cfg.DirectoryURL,
			UserAgent:    "hostwatch",
		}
	}

	acct := &acme.Account{}
	if a.cfg.Email != "" {
		acct.Contact = []string{"mailto:" + a.cfg.Email}
	}
	if _, err := a.client.Register(ctx, acct, acme.AcceptTOS); err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil, fmt.Errorf("register account: %w", err)
	}
	a.registered = true
	return a.client, nil
}

func loadOrCreateAccountKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%s: no PEM data", path)
		}
		return x509.ParseECPrivateKey(block.Bytes)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		return nil, err
	}
	logrus.WithField("path", path).Info("Created ACME account key")
	return key, nil
}

// Files written per domain under the certificate directory.
const (
	certFile = "cert.pem"
	keyFile  = "key.pem"
)

func writeCertificate(dir, domain string, issued *Issued) (string, error) {
	target := filepath.Join(dir, domain)
	if err := os.MkdirAll(target, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(target, keyFile), issued.KeyPEM, 0o600); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(target, certFile), issued.CertPEM, 0o644); err != nil {
		return "", err
	}
	return target, nil
}

var _ Issuer = (*ACMEIssuer)(nil)
