// internal/monitoring/policy.go
package monitoring

import (
	"fmt"
	"strconv"
	"strings"
)

type statusRange struct {
	lo, hi int
}

// StatusPolicy decides which HTTP status codes count as healthy.
type StatusPolicy struct {
	ranges []statusRange
}

// DefaultStatusPolicy treats every 2xx and 3xx response as healthy.
func DefaultStatusPolicy() *StatusPolicy {
	return &StatusPolicy{ranges: []statusRange{{200, 399}}}
}

// ParseStatusPolicy accepts classes ("2xx"), exact codes ("304") and
// inclusive ranges ("200-299").
func ParseStatusPolicy(specs []string) (*StatusPolicy, error) {
	if len(specs) == 0 {
		return DefaultStatusPolicy(), nil
	}

	p := &StatusPolicy{}
	for _, raw := range specs {
		s := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case len(s) == 3 && strings.HasSuffix(s, "xx"):
			class, err := strconv.Atoi(s[:1])
			if err != nil || class < 1 || class > 5 {
				return nil, fmt.Errorf("invalid status class %q", raw)
			}
			p.ranges = append(p.ranges, statusRange{class * 100, class*100 + 99})
		case strings.Contains(s, "-"):
			lo, hi, _ := strings.Cut(s, "-")
			l, err1 := strconv.Atoi(lo)
			h, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || l > h {
				return nil, fmt.Errorf("invalid status range %q", raw)
			}
			p.ranges = append(p.ranges, statusRange{l, h})
		default:
			code, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("invalid status code %q", raw)
			}
			p.ranges = append(p.ranges, statusRange{code, code})
		}
	}
	return p, nil
}

func (p *StatusPolicy) Healthy(code int) bool {
	for _, r := range p.ranges {
		if code >= r.lo && code <= r.hi {
			return true
		}
	}
	return false
}
