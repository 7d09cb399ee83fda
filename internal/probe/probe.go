package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

// Prober performs a single bounded probe of a target.
//
// Implementations must return within t.Timeout (or earlier if ctx ends) and
// must report failures through the Outcome, never by panicking.
type Prober interface {
	Probe(ctx context.Context, t domain.Target) domain.Outcome
}

// Validator is implemented by probers that have kind-specific checks beyond
// domain.Target.Validate.
type Validator interface {
	Validate(t domain.Target) error
}

type Options struct {
	UserAgent      string
	ICMPPrivileged bool
	DNSServer      string // host:port, empty means resolv.conf
}

// Registry maps each probe kind to its strategy.
type Registry map[domain.Kind]Prober

func NewRegistry(opts Options) Registry {
	return Registry{
		domain.KindHTTP: NewHTTPProber(opts.UserAgent),
		domain.KindICMP: NewICMPProber(opts.ICMPPrivileged),
		domain.KindTCP:  NewTCPProber(),
		domain.KindDNS:  NewDNSProber(opts.DNSServer),
		domain.KindUDP:  NewUDPProber(),
	}
}

// For returns the prober for t after running every static check on t.
func (r Registry) For(t domain.Target) (Prober, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	p, ok := r[t.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no prober for kind %q", domain.ErrInvalidTarget, t.ID, t.Kind)
	}
	if v, ok := p.(Validator); ok {
		if err := v.Validate(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func success(t domain.Target, start time.Time, latency time.Duration) domain.Outcome {
	return domain.Outcome{TargetID: t.ID, At: start, Success: true, Latency: latency}
}

func failure(t domain.Target, start time.Time, class domain.ErrorClass, msg string) domain.Outcome {
	return domain.Outcome{TargetID: t.ID, At: start, Class: class, Error: msg}
}
