package probe

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/uptimed/internal/domain"
)

func udpTarget(addr string) domain.Target {
	return domain.Target{
		ID:               "udp",
		Kind:             domain.KindUDP,
		Address:          addr,
		Interval:         time.Second,
		Timeout:          500 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}
}

// udpServer answers every datagram with answer(datagram); a nil answer
// stays silent. Received datagrams are sent on the returned channel.
func udpServer(t *testing.T, answer func([]byte) []byte) (string, <-chan []byte) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	got := make(chan []byte, 8)
	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			in := append([]byte(nil), buf[:n]...)
			got <- in
			if out := answer(in); out != nil {
				_, _ = pc.WriteTo(out, from)
			}
		}
	}()
	return pc.LocalAddr().String(), got
}

func TestUDPProber_DefaultPayloadIsTeamSpeakInit(t *testing.T) {
	addr, got := udpServer(t, func(in []byte) []byte { return []byte("TS3INIT1") })

	out := NewUDPProber().Probe(context.Background(), udpTarget(addr))
	assert.True(t, out.Success, "%+v", out)

	sent := <-got
	assert.Len(t, sent, 34)
	assert.True(t, bytes.HasPrefix(sent, []byte("TS3INIT1")), "%x", sent)
}

func TestUDPProber_CustomPayload(t *testing.T) {
	addr, got := udpServer(t, func(in []byte) []byte { return in })

	tg := udpTarget(addr)
	tg.Send = []byte("ping")
	out := NewUDPProber().Probe(context.Background(), tg)
	assert.True(t, out.Success, "%+v", out)
	assert.Equal(t, []byte("ping"), <-got)
}

func TestUDPProber_SilenceIsTimeout(t *testing.T) {
	addr, _ := udpServer(t, func([]byte) []byte { return nil })

	tg := udpTarget(addr)
	tg.Timeout = 50 * time.Millisecond
	start := time.Now()
	out := NewUDPProber().Probe(context.Background(), tg)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ClassTimeout, out.Class)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestUDPProber_ClosedPortIsNotSuccess(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	pc.Close()

	tg := udpTarget(addr)
	tg.Timeout = 200 * time.Millisecond
	out := NewUDPProber().Probe(context.Background(), tg)
	assert.False(t, out.Success)
	assert.Contains(t, []domain.ErrorClass{domain.ClassUnreachable, domain.ClassTimeout}, out.Class)
}
