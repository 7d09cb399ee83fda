package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/hamed0406/uptimed/internal/domain"
)

const (
	protoICMP   = 1
	protoICMPv6 = 58
)

// ICMPProber sends one echo request per probe and waits for the matching
// reply. Unprivileged mode uses datagram ICMP sockets (Linux
// net.ipv4.ping_group_range); privileged mode needs raw sockets.
type ICMPProber struct {
	Privileged bool
	Resolver   *net.Resolver

	seq atomic.Uint32
}

func NewICMPProber(privileged bool) *ICMPProber {
	return &ICMPProber{Privileged: privileged, Resolver: net.DefaultResolver}
}

func (p *ICMPProber) Probe(ctx context.Context, t domain.Target) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	start := time.Now()

	ip, err := p.resolve(ctx, t.Address)
	if err != nil {
		return failure(t, start, classify(err), describe(err))
	}

	v4 := ip.To4() != nil
	network, laddr := "udp6", "::"
	proto, echo := protoICMPv6, icmp.Type(ipv6.ICMPTypeEchoRequest)
	if v4 {
		network, laddr = "udp4", "0.0.0.0"
		proto, echo = protoICMP, ipv4.ICMPTypeEcho
	}
	if p.Privileged {
		network = "ip4:icmp"
		if !v4 {
			network = "ip6:ipv6-icmp"
		}
	}

	conn, err := icmp.ListenPacket(network, laddr)
	if err != nil {
		return failure(t, start, domain.ClassProtocolError, fmt.Sprintf("icmp socket: %v", err))
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	id := os.Getpid() & 0xffff
	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: echo,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("uptimed-probe")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return failure(t, start, domain.ClassProtocolError, err.Error())
	}

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if p.Privileged {
		dst = &net.IPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return failure(t, start, classify(err), describe(err))
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return failure(t, start, domain.ClassTimeout, "no echo reply within "+t.Timeout.String())
			}
			return failure(t, start, classify(err), describe(err))
		}
		if matchEcho(proto, rb[:n], id, seq, p.Privileged) {
			return success(t, start, time.Since(start))
		}
	}
}

// matchEcho reports whether b is the echo reply to request id/seq. Anything
// else read from the socket (other replies, errors, junk) is ignored.
func matchEcho(proto int, b []byte, id, seq int, privileged bool) bool {
	rm, err := icmp.ParseMessage(proto, b)
	if err != nil {
		return false
	}
	var reply icmp.Type = ipv6.ICMPTypeEchoReply
	if proto == protoICMP {
		reply = ipv4.ICMPTypeEchoReply
	}
	if rm.Type != reply {
		return false
	}
	body, ok := rm.Body.(*icmp.Echo)
	if !ok || body.Seq != seq {
		return false
	}
	// datagram sockets get their echo id rewritten by the kernel
	return !privileged || body.ID == id
}

func (p *ICMPProber) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := p.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	return addrs[0].IP, nil
}
