package sshconn

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a host identity carries no port.
const DefaultPort = 22

// HostSpec is a parsed "[user@]host[:port]" identity.
type HostSpec struct {
	User string // empty means use the dialer's default user
	Host string
	Port int
}

// ParseHost parses a host identity. IPv6 literals with a port must be
// bracketed ("[::1]:2222").
func ParseHost(identity string) (HostSpec, error) {
	var spec HostSpec

	rest := identity
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		spec.User = rest[:i]
		rest = rest[i+1:]
		if spec.User == "" {
			return HostSpec{}, fmt.Errorf("parse host %q: empty user", identity)
		}
	}

	spec.Port = DefaultPort
	switch {
	case strings.HasPrefix(rest, "["):
		host, port, err := net.SplitHostPort(rest)
		if err != nil {
			// "[::1]" without a port
			if strings.HasSuffix(rest, "]") {
				host = rest[1 : len(rest)-1]
				port = ""
			} else {
				return HostSpec{}, fmt.Errorf("parse host %q: %w", identity, err)
			}
		}
		spec.Host = host
		if port != "" {
			p, err := parsePort(port)
			if err != nil {
				return HostSpec{}, fmt.Errorf("parse host %q: %w", identity, err)
			}
			spec.Port = p
		}
	case strings.Count(rest, ":") == 1:
		host, port, _ := strings.Cut(rest, ":")
		p, err := parsePort(port)
		if err != nil {
			return HostSpec{}, fmt.Errorf("parse host %q: %w", identity, err)
		}
		spec.Host = host
		spec.Port = p
	default:
		// Plain name, or an unbracketed IPv6 literal.
		spec.Host = rest
	}

	if spec.Host == "" {
		return HostSpec{}, fmt.Errorf("parse host %q: empty hostname", identity)
	}
	return spec, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}

// Addr returns the host:port dial address.
func (h HostSpec) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// String renders the identity back in "[user@]host[:port]" form, omitting
// the default port.
func (h HostSpec) String() string {
	var b strings.Builder
	if h.User != "" {
		b.WriteString(h.User)
		b.WriteByte('@')
	}
	if h.Port == DefaultPort || h.Port == 0 {
		if strings.Contains(h.Host, ":") {
			b.WriteString("[" + h.Host + "]")
		} else {
			b.WriteString(h.Host)
		}
	} else {
		b.WriteString(h.Addr())
	}
	return b.String()
}
