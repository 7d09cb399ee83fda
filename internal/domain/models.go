package domain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type TargetID string

// Kind selects the probe strategy for a target.
type Kind string

const (
	KindICMP Kind = "icmp"
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
	KindDNS  Kind = "dns"
	KindUDP  Kind = "udp"
)

// ErrInvalidTarget marks a target that can never be probed (bad address,
// unknown kind, nonsensical thresholds). Such targets are excluded, not retried.
var ErrInvalidTarget = errors.New("invalid target")

// StatusRange is an inclusive range of acceptable HTTP status codes.
type StatusRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// AnyResponse accepts every status a server can send.
var AnyResponse = []StatusRange{{Min: 100, Max: 599}}

// ParseStatusRange parses "200-399" or a single code like "204".
func ParseStatusRange(s string) (StatusRange, error) {
	s = strings.TrimSpace(s)
	lo, hi, found := strings.Cut(s, "-")
	min, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return StatusRange{}, fmt.Errorf("status range %q: %w", s, err)
	}
	max := min
	if found {
		if max, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return StatusRange{}, fmt.Errorf("status range %q: %w", s, err)
		}
	}
	if min < 100 || max > 599 || min > max {
		return StatusRange{}, fmt.Errorf("status range %q out of bounds", s)
	}
	return StatusRange{Min: min, Max: max}, nil
}

func (r StatusRange) String() string {
	if r.Min == r.Max {
		return strconv.Itoa(r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

type Target struct {
	ID               TargetID      `json:"id"`
	Name             string        `json:"name,omitempty"`
	Kind             Kind          `json:"kind"`
	Address          string        `json:"address"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`

	// HTTP only.
	Method       string        `json:"method,omitempty"`
	AcceptStatus []StatusRange `json:"accept_status,omitempty"`

	// TCP only: when set, the first bytes read after connecting must contain it.
	ExpectBanner string `json:"expect_banner,omitempty"`

	// TCP and UDP: written right after connecting. For UDP an empty Send
	// means the prober's default datagram.
	Send []byte `json:"send,omitempty"`

	// DNS only.
	Server     string `json:"server,omitempty"`
	RecordType string `json:"record_type,omitempty"`
}

// Accepts reports whether an HTTP status code counts as a successful probe.
func (t Target) Accepts(code int) bool {
	ranges := t.AcceptStatus
	if len(ranges) == 0 {
		ranges = AnyResponse
	}
	for _, r := range ranges {
		if code >= r.Min && code <= r.Max {
			return true
		}
	}
	return false
}

// Validate checks everything that can be known without touching the network.
func (t Target) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTarget)
	}
	if t.Interval <= 0 {
		return fmt.Errorf("%w: %s: interval must be positive", ErrInvalidTarget, t.ID)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidTarget, t.ID)
	}
	if t.FailureThreshold < 1 || t.SuccessThreshold < 1 {
		return fmt.Errorf("%w: %s: thresholds must be >= 1", ErrInvalidTarget, t.ID)
	}

	addr := strings.TrimSpace(t.Address)
	if addr == "" {
		return fmt.Errorf("%w: %s: empty address", ErrInvalidTarget, t.ID)
	}
	switch t.Kind {
	case KindHTTP:
		u, err := url.Parse(addr)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s: %q is not an http(s) URL", ErrInvalidTarget, t.ID, addr)
		}
	case KindICMP, KindDNS:
		if strings.ContainsAny(addr, "/: ") && net.ParseIP(addr) == nil {
			return fmt.Errorf("%w: %s: %q is not a host name or IP", ErrInvalidTarget, t.ID, addr)
		}
	case KindTCP, KindUDP:
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" {
			return fmt.Errorf("%w: %s: %q is not host:port", ErrInvalidTarget, t.ID, addr)
		}
		if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("%w: %s: bad port %q", ErrInvalidTarget, t.ID, port)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidTarget, t.ID, t.Kind)
	}
	return nil
}

// Verdict is the current health classification of a target.
type Verdict string

const (
	VerdictUnknown Verdict = "UNKNOWN"
	VerdictUp      Verdict = "UP"
	VerdictDown    Verdict = "DOWN"
)

// ErrorClass classifies a failed probe for diagnostics. All classes count the
// same toward hysteresis.
type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassTimeout       ErrorClass = "timeout"
	ClassUnreachable   ErrorClass = "unreachable"
	ClassProtocolError ErrorClass = "protocol_error"
	ClassDNSError      ErrorClass = "dns_error"
	// ClassBadStatus is a soft failure: the server answered, but with a
	// status outside the target's accept ranges.
	ClassBadStatus ErrorClass = "bad_status"
)

// Outcome is the result of one probe attempt.
type Outcome struct {
	TargetID   TargetID      `json:"target_id"`
	At         time.Time     `json:"at"`
	Success    bool          `json:"success"`
	Latency    time.Duration `json:"latency"`
	Class      ErrorClass    `json:"class,omitempty"`
	Error      string        `json:"error,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
}

// State is the current health record for a target.
type State struct {
	TargetID             TargetID      `json:"target_id"`
	Verdict              Verdict       `json:"verdict"`
	LastTransition       time.Time     `json:"last_transition"`
	LastChecked          time.Time     `json:"last_checked"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	LastLatency          time.Duration `json:"last_latency"`
	LastError            string        `json:"last_error,omitempty"`
	LastClass            ErrorClass    `json:"last_class,omitempty"`
	LastStatusCode       int           `json:"last_status_code,omitempty"`
}

type Transition struct {
	TargetID TargetID  `json:"target_id"`
	From     Verdict   `json:"from"`
	To       Verdict   `json:"to"`
	At       time.Time `json:"at"`
	State    State     `json:"state"`
}
