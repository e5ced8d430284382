// Package address normalizes user-supplied "host:port" broker
// addresses, accepting IPv4, bracketed IPv6, and bracket-less IPv6
// forms.
package address

import (
	"net"
	"strconv"
	"strings"

	"github.com/flwr-go/flower-node/internal/errs"
)

// Parsed is a normalized broker address.
type Parsed struct {
	Host string
	Port uint16
	IPv6 bool
}

// String renders the canonical form: "[host]:port" when IPv6, else
// "host:port".
func (p Parsed) String() string {
	if p.IPv6 {
		return "[" + p.Host + "]:" + strconv.Itoa(int(p.Port))
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// Parse accepts "host:port", "[v6]:port", or a bracket-less v6 address
// followed by ":port" (the last colon-separated field is always the
// port). Malformed input is a non-recoverable *errs.ConfigError.
func Parse(raw string) (Parsed, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Parsed{}, errs.NewConfigError("address: empty")
	}

	if strings.HasPrefix(raw, "[") {
		host, portStr, err := net.SplitHostPort(raw)
		if err != nil {
			return Parsed{}, errs.NewConfigError("address: %v", err)
		}
		port, err := parsePort(portStr)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Host: host, Port: port, IPv6: true}, nil
	}

	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return Parsed{}, errs.NewConfigError("address: %q missing port", raw)
	}
	host, portStr := raw[:idx], raw[idx+1:]
	port, err := parsePort(portStr)
	if err != nil {
		return Parsed{}, err
	}

	if host == "" {
		return Parsed{}, errs.NewConfigError("address: %q missing host", raw)
	}

	ip := net.ParseIP(host)
	isV6 := ip != nil && strings.Contains(host, ":")
	if ip == nil && strings.Contains(host, ":") {
		// bracket-less form with multiple colons but not a valid IP.
		return Parsed{}, errs.NewConfigError("address: %q is not a valid host", raw)
	}

	return Parsed{Host: host, Port: port, IPv6: isV6}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, errs.NewConfigError("address: invalid port %q", s)
	}
	return uint16(n), nil
}
