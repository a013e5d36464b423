// internal/certs/manager.go
package certs

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
	"hostwatch/internal/notifications"
)

var (
	ErrIssuanceDisabled = errors.New("certificate issuance is not configured")
	ErrInvalidDomain    = errors.New("invalid domain")
)

// IssuanceError is returned when the provider rejects or times out an issuance.
// Certificate state is left as it was.
type IssuanceError struct {
	Domain string
	Err    error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issuance for %s failed: %v", e.Domain, e.Err)
}

func (e *IssuanceError) Unwrap() error {
	return e.Err
}

// Notifier delivers certificate expiry notifications.
type Notifier interface {
	Send(ctx context.Context, event *notifications.Event) error
}

type Options struct {
	WarningDays int
	Concurrency int
	CertDir     string
}

// Manager tracks certificate state per domain.
type Manager struct {
	store     database.Store
	hosting   database.HostingLookup
	inspector Inspector
	issuer    Issuer
	metrics   *metrics.Collector
	notifier  Notifier
	opts      Options
	now       func() time.Time

	// per-domain guard around load, classify and store of CertificateState
	locks domainLocks
}

func NewManager(store database.Store, hosting database.HostingLookup, inspector Inspector, issuer Issuer, collector *metrics.Collector, notifier Notifier, opts Options) *Manager {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Manager{
		store:     store,
		hosting:   hosting,
		inspector: inspector,
		issuer:    issuer,
		metrics:   collector,
		notifier:  notifier,
		opts:      opts,
		now:       time.Now,
		locks:     domainLocks{locks: make(map[string]*sync.Mutex)},
	}
}

// DiscoverReport summarises one fleet sweep.
type DiscoverReport struct {
	Checked int                         `json:"checked"`
	Skipped []string                    `json:"skipped"`
	States  []database.CertificateState `json:"states"`
}

// NormalizeDomain lowercases and trims a domain, keeping an optional port.
func NormalizeDomain(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	d = strings.TrimPrefix(strings.TrimPrefix(d, "https://"), "http://")
	d = strings.TrimSuffix(d, "/")
	host := d
	if h, _, err := net.SplitHostPort(d); err == nil {
		host = h
	}
	if host == "" || strings.ContainsAny(host, "/ ") {
		return "", fmt.Errorf("%w %q", ErrInvalidDomain, domain)
	}
	return d, nil
}

func (m *Manager) Get(ctx context.Context, domain string) (*database.CertificateState, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	return m.store.GetCertificate(ctx, d)
}

func (m *Manager) List(ctx context.Context) ([]database.CertificateState, error) {
	return m.store.GetCertificates(ctx)
}

// Check refreshes one domain's state from the network. Unreachable domains are
// recorded as not_found.
func (m *Manager) Check(ctx context.Context, domain string) (*database.CertificateState, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	cert, inspectErr := m.inspector.Inspect(ctx, d)
	return m.refresh(ctx, d, cert, inspectErr, "")
}

// Add registers a domain for certificate monitoring without a hosting record.
// Adding a known domain returns its current state.
func (m *Manager) Add(ctx context.Context, domain string) (*database.CertificateState, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	if existing, err := m.store.GetCertificate(ctx, d); err == nil {
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	cert, inspectErr := m.inspector.Inspect(ctx, d)
	state, err := m.refresh(ctx, d, cert, inspectErr, database.CertSourceManual)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"domain": d, "status": state.Status}).Info("Added domain to certificate monitoring")
	return state, nil
}

// Discover checks every hosted domain plus every domain already tracked.
// Domains that are unreachable and not yet tracked are skipped.
func (m *Manager) Discover(ctx context.Context) (*DiscoverReport, error) {
	domains, err := m.candidateDomains(ctx)
	if err != nil {
		return nil, err
	}

	report := &DiscoverReport{Skipped: []string{}, States: []database.CertificateState{}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, m.opts.Concurrency)

	for domain, known := range domains {
		wg.Add(1)
		go func(domain string, known bool) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			cert, inspectErr := m.inspector.Inspect(ctx, domain)
			if inspectErr != nil && !known {
				logrus.WithError(inspectErr).WithField("domain", domain).Debug("Skipping unreachable domain")
				mu.Lock()
				report.Skipped = append(report.Skipped, domain)
				mu.Unlock()
				return
			}

			state, err := m.refresh(ctx, domain, cert, inspectErr, database.CertSourceHosting)
			if err != nil {
				logrus.WithError(err).WithField("domain", domain).Error("Failed to store certificate state")
				return
			}
			mu.Lock()
			report.Checked++
			report.States = append(report.States, *state)
			mu.Unlock()
		}(domain, known)
	}
	wg.Wait()

	sort.Strings(report.Skipped)
	sort.Slice(report.States, func(i, j int) bool { return report.States[i].Domain < report.States[j].Domain })

	logrus.WithFields(logrus.Fields{
		"checked": report.Checked,
		"skipped": len(report.Skipped),
	}).Info("Certificate discovery finished")
	return report, ctx.Err()
}

// Issue obtains a new certificate from the issuer. On success the validity
// window and last-renewed time are updated; on failure an *IssuanceError is
// returned and state is not touched.
func (m *Manager) Issue(ctx context.Context, domain string) (*database.CertificateState, error) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	if m.issuer == nil {
		return nil, &IssuanceError{Domain: d, Err: ErrIssuanceDisabled}
	}

	logrus.WithField("domain", d).Info("Requesting certificate issuance")
	issued, err := m.issuer.Issue(ctx, d)
	m.metrics.RecordIssuance(err)
	if err != nil {
		logrus.WithError(err).WithField("domain", d).Error("Certificate issuance failed")
		return nil, &IssuanceError{Domain: d, Err: err}
	}

	if m.opts.CertDir != "" {
		path, err := writeCertificate(m.opts.CertDir, d, issued)
		if err != nil {
			return nil, fmt.Errorf("certificate issued but could not be written: %w", err)
		}
		logrus.WithFields(logrus.Fields{"domain": d, "path": path}).Info("Stored issued certificate")
	}

	defer m.locks.Lock(d)()

	state, err := m.loadOrNew(ctx, d, database.CertSourceManual)
	if err != nil {
		return nil, err
	}
	prev := state.Status

	now := m.now()
	state.LastRenewedAt = &now
	m.apply(state, issued.Leaf, now)
	state.LastError = ""

	if err := m.store.PutCertificate(ctx, state); err != nil {
		return nil, err
	}
	m.metrics.UpdateCertificate(state)
	m.notifyIfWorse(state, prev)
	return state, nil
}

func (m *Manager) refresh(ctx context.Context, domain string, cert *x509.Certificate, inspectErr error, source string) (*database.CertificateState, error) {
	defer m.locks.Lock(domain)()

	if source == "" {
		source = m.sourceFor(ctx, domain)
	}
	state, err := m.loadOrNew(ctx, domain, source)
	if err != nil {
		return nil, err
	}
	prev := state.Status

	now := m.now()
	state.LastCheckedAt = &now
	if inspectErr != nil {
		cert = nil
		state.LastError = inspectErr.Error()
	} else {
		state.LastError = ""
	}
	m.apply(state, cert, now)

	if err := m.store.PutCertificate(ctx, state); err != nil {
		return nil, err
	}
	m.metrics.UpdateCertificate(state)
	m.notifyIfWorse(state, prev)

	logrus.WithFields(logrus.Fields{
		"domain": domain,
		"status": state.Status,
	}).Debug("Certificate checked")
	return state, nil
}

func (m *Manager) apply(state *database.CertificateState, cert *x509.Certificate, now time.Time) {
	v := ValidityOf(cert)
	status, days := Classify(now, v, m.opts.WarningDays)
	state.Status = status
	state.DaysUntilExpiry = days

	if v == nil {
		state.ValidFrom, state.ValidTo = nil, nil
		state.Issuer, state.Subject = "", ""
		return
	}
	from, to := v.NotBefore, v.NotAfter
	state.ValidFrom, state.ValidTo = &from, &to
	state.Issuer = displayName(cert.Issuer)
	state.Subject = displayName(cert.Subject)
}

func (m *Manager) loadOrNew(ctx context.Context, domain, source string) (*database.CertificateState, error) {
	state, err := m.store.GetCertificate(ctx, domain)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	return &database.CertificateState{Domain: domain, Status: database.CertNotFound, Source: source}, nil
}

func (m *Manager) sourceFor(ctx context.Context, domain string) string {
	records, err := m.hosting.GetHostingRecords(ctx)
	if err != nil {
		return database.CertSourceManual
	}
	for _, rec := range records {
		if strings.EqualFold(rec.Domain, domain) {
			return database.CertSourceHosting
		}
	}
	return database.CertSourceManual
}

// candidateDomains maps every domain to check to whether it is already tracked.
func (m *Manager) candidateDomains(ctx context.Context) (map[string]bool, error) {
	domains := make(map[string]bool)

	records, err := m.hosting.GetHostingRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosting records: %w", err)
	}
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		if d, err := NormalizeDomain(rec.Domain); err == nil {
			domains[d] = false
		}
	}

	known, err := m.store.GetCertificates(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range known {
		domains[c.Domain] = true
	}
	return domains, nil
}

func (m *Manager) notifyIfWorse(state *database.CertificateState, prev database.CertStatus) {
	if m.notifier == nil || state.Status == prev {
		return
	}

	var eventType, summary string
	switch state.Status {
	case database.CertExpiringSoon:
		eventType = notifications.EventCertExpiring
		summary = "certificate expires " + humanize.Time(*state.ValidTo)
	case database.CertExpired:
		eventType = notifications.EventCertExpired
		summary = "certificate expired " + humanize.Time(*state.ValidTo)
	default:
		return
	}

	ev := &notifications.Event{
		Type:      eventType,
		Key:       "cert:" + state.Domain,
		Domain:    state.Domain,
		Summary:   summary,
		Detail:    state.Issuer,
		Timestamp: m.now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.notifier.Send(ctx, ev); err != nil {
			logrus.WithError(err).WithField("domain", state.Domain).Error("Failed to send certificate notification")
		}
	}()
}

// domainLocks hands out one mutex per domain. Domains are never forgotten,
// matching CertificateState which is never deleted.
type domainLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (d *domainLocks) Lock(domain string) func() {
	d.mu.Lock()
	m, ok := d.locks[domain]
	if !ok {
		m = &sync.Mutex{}
		d.locks[domain] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func displayName(n pkix.Name) string {
	if n.CommonName != "" {
		return n.CommonName
	}
	return n.String()
}
