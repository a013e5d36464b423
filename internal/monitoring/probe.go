// internal/monitoring/probe.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"hostwatch/internal/database"
)

// Outcome is the raw result of one probe. Transport failures are outcomes, not errors.
type Outcome struct {
	StartedAt    time.Time
	StatusCode   int // zero on transport failure
	ResponseTime time.Duration
	Err          error
	Healthy      bool
	Body         []byte // captured only for unhealthy responses
}

func (o *Outcome) TransportFailure() bool {
	return o.Err != nil
}

// Prober performs a single check against a target.
type Prober interface {
	Probe(ctx context.Context, target *database.MonitorTarget) *Outcome
}

type HTTPProber struct {
	client    *http.Client
	policy    *StatusPolicy
	maxBody   int64
	userAgent string
}

func NewHTTPProber(timeout time.Duration, policy *StatusPolicy, maxBody int64, userAgent string) *HTTPProber {
	if policy == nil {
		policy = DefaultStatusPolicy()
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			// a redirect is an answer; report it rather than follow it
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		policy:    policy,
		maxBody:   maxBody,
		userAgent: userAgent,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target *database.MonitorTarget) *Outcome {
	out := &Outcome{StartedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		out.Err = fmt.Errorf("invalid probe URL: %w", err)
		return out
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		out.Err = classifyTransportError(err)
		return out
	}
	defer resp.Body.Close()

	out.ResponseTime = time.Since(out.StartedAt)
	out.StatusCode = resp.StatusCode
	out.Healthy = p.policy.Healthy(resp.StatusCode)

	if !out.Healthy && p.maxBody > 0 {
		// a partial body is still evidence
		out.Body, _ = io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	}
	return out
}

func classifyTransportError(err error) error {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timeout: %w", err)
	case errors.As(err, &dnsErr):
		return fmt.Errorf("dns: %w", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("timeout: %w", err)
	default:
		return err
	}
}
