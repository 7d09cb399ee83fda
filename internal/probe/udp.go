package probe

import (
	"context"
	"net"
	"time"

	"github.com/hamed0406/uptimed/internal/domain"
)

// teamSpeakInit is the TeamSpeak 3 INIT1 handshake datagram. A voice server
// answers it without any prior session.
var teamSpeakInit = []byte{
	0x54, 0x53, 0x33, 0x49, 0x4e, 0x49, 0x54, 0x31, 0x00, 0x65, 0x00, 0x00,
	0x88, 0x0e, 0xf9, 0x67, 0xa5, 0x00, 0x61, 0x3f, 0x9e, 0x69, 0x66, 0x78,
	0x8d, 0x48, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// UDPProber sends one datagram and succeeds on any non-empty reply within
// the timeout. Silence is a timeout failure.
type UDPProber struct {
	// Payload is sent when the target has no Send of its own.
	Payload []byte
}

func NewUDPProber() *UDPProber {
	return &UDPProber{Payload: teamSpeakInit}
}

func (p *UDPProber) Probe(ctx context.Context, t domain.Target) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	start := time.Now()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", t.Address)
	if err != nil {
		return failure(t, start, classify(err), describe(err))
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	payload := t.Send
	if len(payload) == 0 {
		payload = p.Payload
	}
	if _, err := conn.Write(payload); err != nil {
		return failure(t, start, classify(err), "send: "+describe(err))
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return failure(t, start, classify(err), "no reply: "+describe(err))
	}
	if n == 0 {
		return failure(t, start, domain.ClassProtocolError, "empty reply")
	}
	return success(t, start, time.Since(start))
}
