package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

// TCPProber succeeds when a connection is accepted and, if the target sets
// ExpectBanner, the server's greeting contains it (e.g. "SSH-"). Send is
// written first for servers that wait for the client to speak.
type TCPProber struct {
	Dialer net.Dialer
}

func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

func (p *TCPProber) Probe(ctx context.Context, t domain.Target) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	start := time.Now()

	conn, err := p.Dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failure(t, start, classify(err), describe(err))
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if len(t.Send) > 0 {
		if _, err := conn.Write(t.Send); err != nil {
			return failure(t, start, classify(err), "send: "+describe(err))
		}
	}
	if t.ExpectBanner == "" {
		return success(t, start, time.Since(start))
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return failure(t, start, classify(err), "read banner: "+describe(err))
	}
	if !strings.Contains(string(buf[:n]), t.ExpectBanner) {
		return failure(t, start, domain.ClassProtocolError,
			fmt.Sprintf("banner %q does not contain %q", strings.TrimSpace(string(buf[:n])), t.ExpectBanner))
	}
	return success(t, start, time.Since(start))
}
