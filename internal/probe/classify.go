package probe

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/hamed0406/uptimed/internal/domain"
)

// classify maps a transport error onto the failure taxonomy.
func classify(err error) domain.ErrorClass {
	if err == nil {
		return domain.ClassNone
	}

	var de *net.DNSError
	if errors.As(err, &de) {
		return domain.ClassDNSError
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ClassTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return domain.ClassUnreachable
	}
	var oe *net.OpError
	if errors.As(err, &oe) && oe.Op == "dial" {
		return domain.ClassUnreachable
	}
	return domain.ClassProtocolError
}

// describe renders err for State.LastError, adding the resolver verdict for
// lookup failures (NXDOMAIN vs SERVFAIL_or_TIMEOUT).
func describe(err error) string {
	var de *net.DNSError
	if errors.As(err, &de) {
		switch {
		case de.IsNotFound:
			return "NXDOMAIN: " + err.Error()
		case de.IsTemporary || de.Timeout():
			return "SERVFAIL_or_TIMEOUT: " + err.Error()
		}
	}
	return err.Error()
}
