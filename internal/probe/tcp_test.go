package probe

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/uptimed/internal/domain"
)

func tcpTarget(addr string) domain.Target {
	return domain.Target{
		ID:               "tcp",
		Kind:             domain.KindTCP,
		Address:          addr,
		Interval:         time.Second,
		Timeout:          500 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 1,
	}
}

func listen(t *testing.T, greeting string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			if greeting != "" {
				_, _ = c.Write([]byte(greeting))
			}
			time.Sleep(200 * time.Millisecond)
			c.Close()
		}
	}()
	return ln
}

func TestTCPProber_Connects(t *testing.T) {
	ln := listen(t, "")
	out := NewTCPProber().Probe(context.Background(), tcpTarget(ln.Addr().String()))
	assert.True(t, out.Success, "%+v", out)
	assert.Equal(t, domain.ClassNone, out.Class)
}

func TestTCPProber_Banner(t *testing.T) {
	ln := listen(t, "SSH-2.0-OpenSSH_9.6\r\n")

	tg := tcpTarget(ln.Addr().String())
	tg.ExpectBanner = "SSH-"
	out := NewTCPProber().Probe(context.Background(), tg)
	assert.True(t, out.Success, "%+v", out)

	tg.ExpectBanner = "SMTP"
	out = NewTCPProber().Probe(context.Background(), tg)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ClassProtocolError, out.Class)
}

func TestTCPProber_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	out := NewTCPProber().Probe(context.Background(), tcpTarget(addr))
	assert.False(t, out.Success)
	assert.Equal(t, domain.ClassUnreachable, out.Class)
}

func TestTCPProber_SilentServerTimesOutOnBanner(t *testing.T) {
	ln := listen(t, "")
	tg := tcpTarget(ln.Addr().String())
	tg.Timeout = 30 * time.Millisecond
	tg.ExpectBanner = "SSH-"
	out := NewTCPProber().Probe(context.Background(), tg)
	assert.False(t, out.Success)
	assert.Equal(t, domain.ClassTimeout, out.Class)
}

func TestTCPProber_SendsBeforeReadingBanner(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				// speaks only after the client identifies itself
				line, err := bufio.NewReader(c).ReadString('\n')
				if err == nil && line == "SSH-2.0-uptimed\r\n" {
					_, _ = c.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
					time.Sleep(100 * time.Millisecond)
				}
			}(c)
		}
	}()

	tg := tcpTarget(ln.Addr().String())
	tg.ExpectBanner = "SSH-"
	tg.Timeout = 200 * time.Millisecond

	out := NewTCPProber().Probe(context.Background(), tg)
	assert.False(t, out.Success, "silent server should not pass without send")
	assert.Equal(t, domain.ClassTimeout, out.Class)

	tg.Send = []byte("SSH-2.0-uptimed\r\n")
	out = NewTCPProber().Probe(context.Background(), tg)
	assert.True(t, out.Success, "%+v", out)
}
