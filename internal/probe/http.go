package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

const defaultUserAgent = "uptimed/1"

type HTTPProber struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPProber returns a prober whose deadline comes from each target's
// timeout through the request context, so one client serves all targets.
func NewHTTPProber(userAgent string) *HTTPProber {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 2
	return &HTTPProber{
		Client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		UserAgent: userAgent,
	}
}

func (h *HTTPProber) Validate(t domain.Target) error {
	switch strings.ToUpper(t.Method) {
	case "", http.MethodGet, http.MethodHead:
		return nil
	}
	return fmt.Errorf("%w: %s: method %q must be GET or HEAD", domain.ErrInvalidTarget, t.ID, t.Method)
}

func (h *HTTPProber) Probe(ctx context.Context, t domain.Target) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	method := strings.ToUpper(t.Method)
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	resp, err := h.do(ctx, method, t.Address)
	if err == nil && method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = h.do(ctx, http.MethodGet, t.Address)
	}
	latency := time.Since(start)
	if err != nil {
		return failure(t, start, classify(err), describe(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if !t.Accepts(resp.StatusCode) {
		out := failure(t, start, domain.ClassBadStatus, resp.Status)
		out.StatusCode = resp.StatusCode
		return out
	}
	out := success(t, start, latency)
	out.StatusCode = resp.StatusCode
	return out
}

func (h *HTTPProber) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", h.UserAgent)
	return h.Client.Do(req)
}
