package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/hamed0406/uptimed/internal/domain"
)

const fallbackDNSServer = "8.8.8.8:53"

// DNSProber asks a resolver for the target name and succeeds on a NOERROR
// answer with at least one record of the requested type.
type DNSProber struct {
	Server string
}

// NewDNSProber uses server when set, else the first nameserver from
// /etc/resolv.conf.
func NewDNSProber(server string) *DNSProber {
	if server == "" {
		server = fallbackDNSServer
		if cc, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cc.Servers) > 0 {
			server = net.JoinHostPort(cc.Servers[0], cc.Port)
		}
	}
	return &DNSProber{Server: server}
}

func (p *DNSProber) Validate(t domain.Target) error {
	if _, ok := recordType(t.RecordType); !ok {
		return fmt.Errorf("%w: %s: unknown record type %q", domain.ErrInvalidTarget, t.ID, t.RecordType)
	}
	if t.Server != "" {
		if _, _, err := net.SplitHostPort(t.Server); err != nil {
			return fmt.Errorf("%w: %s: dns server %q is not host:port", domain.ErrInvalidTarget, t.ID, t.Server)
		}
	}
	return nil
}

func (p *DNSProber) Probe(ctx context.Context, t domain.Target) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	start := time.Now()

	server := t.Server
	if server == "" {
		server = p.Server
	}
	qtype, _ := recordType(t.RecordType)

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(t.Address), qtype)
	client := &dns.Client{Timeout: t.Timeout}

	resp, rtt, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		class := classify(err)
		if class == domain.ClassDNSError {
			class = domain.ClassUnreachable
		}
		return failure(t, start, class, fmt.Sprintf("query %s: %v", server, err))
	}
	if resp.Rcode != dns.RcodeSuccess {
		return failure(t, start, domain.ClassDNSError, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == qtype {
			return success(t, start, rtt)
		}
	}
	return failure(t, start, domain.ClassDNSError, "NO_"+dns.TypeToString[qtype]+"_RECORD")
}

func recordType(s string) (uint16, bool) {
	if s == "" {
		return dns.TypeA, true
	}
	qt, ok := dns.StringToType[strings.ToUpper(s)]
	return qt, ok
}
