package scheduler

import (
	"context"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/uptimed/internal/domain"
)

type Checked struct {
	Target  domain.Target  `json:"target" yaml:"target"`
	Outcome domain.Outcome `json:"outcome" yaml:"outcome"`
}

// ProbeAll probes every target once, at most concurrency at a time, and
// returns the results in input order. Targets the resolver rejects are
// skipped and their errors combined into the returned error.
func ProbeAll(ctx context.Context, probers Resolver, targets []domain.Target, concurrency int) ([]Checked, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	var invalid error
	valid := make([]Checked, 0, len(targets))
	for _, t := range targets {
		if _, err := probers.For(t); err != nil {
			invalid = multierr.Append(invalid, err)
			continue
		}
		valid = append(valid, Checked{Target: t})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range valid {
		g.Go(func() error {
			t := valid[i].Target
			p, _ := probers.For(t)
			pctx, cancel := context.WithTimeout(gctx, t.Timeout)
			defer cancel()
			out := p.Probe(pctx, t)
			out.TargetID = t.ID
			valid[i].Outcome = out
			return nil
		})
	}
	_ = g.Wait()
	return valid, invalid
}
