package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/uptimed/internal/domain"
)

func TestRegistry_For(t *testing.T) {
	r := NewRegistry(Options{DNSServer: "127.0.0.1:53"})

	p, err := r.For(tcpTarget("db.internal:5432"))
	require.NoError(t, err)
	assert.IsType(t, &TCPProber{}, p)

	p, err = r.For(udpTarget("voice.example.com:9987"))
	require.NoError(t, err)
	assert.IsType(t, &UDPProber{}, p)

	bad := httpTarget("https://example.com", time.Second)
	bad.Method = "DELETE"
	_, err = r.For(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	unknown := tcpTarget("db.internal:5432")
	unknown.Kind = "smtp"
	_, err = r.For(unknown)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	delete(r, domain.KindTCP)
	_, err = r.For(tcpTarget("db.internal:5432"))
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.ErrorClass
	}{
		{"nil", nil, domain.ClassNone},
		{"deadline", context.DeadlineExceeded, domain.ClassTimeout},
		{"os deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), domain.ClassTimeout},
		{"dns", &net.DNSError{Name: "nope.invalid", IsNotFound: true}, domain.ClassDNSError},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, domain.ClassUnreachable},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), domain.ClassUnreachable},
		{"other", errors.New("malformed response"), domain.ClassProtocolError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestDescribe(t *testing.T) {
	nx := &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}
	assert.Contains(t, describe(nx), "NXDOMAIN: ")

	tmp := &net.DNSError{Err: "server misbehaving", Name: "flaky.test", IsTemporary: true}
	assert.Contains(t, describe(tmp), "SERVFAIL_or_TIMEOUT: ")

	assert.Equal(t, "boom", describe(errors.New("boom")))
}
