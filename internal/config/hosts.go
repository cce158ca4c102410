package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/praekelt/sshtail/internal/sshconn"
)

// HostMap maps a host identity ("[user@]host[:port]") to the files to tail
// on it.
type HostMap map[string][]string

// Add appends path to host's files, skipping duplicates.
func (m HostMap) Add(host, path string) {
	for _, p := range m[host] {
		if p == path {
			return
		}
	}
	m[host] = append(m[host], path)
}

// Merge adds every entry of other to m.
func (m HostMap) Merge(other HostMap) {
	for host, paths := range other {
		for _, p := range paths {
			m.Add(host, p)
		}
	}
}

// Hosts returns the host identities in sorted order.
func (m HostMap) Hosts() []string {
	hosts := make([]string, 0, len(m))
	for h := range m {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Files counts the (host, path) pairs.
func (m HostMap) Files() int {
	n := 0
	for _, paths := range m {
		n += len(paths)
	}
	return n
}

type hostsFile struct {
	Hosts map[string][]string `yaml:"hosts"`
}

// LoadHosts reads a YAML host map:
//
//	hosts:
//	  web1.example.com:
//	    - /var/log/nginx/access.log
//	  ops@db1:2222:
//	    - /var/log/postgresql/main.log
func LoadHosts(path string) (HostMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hosts file: %w", err)
	}
	return ParseHosts(data)
}

// ParseHosts decodes and validates a YAML host map.
func ParseHosts(data []byte) (HostMap, error) {
	var f hostsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse hosts file: %w", err)
	}
	m := make(HostMap)
	for host, paths := range f.Hosts {
		if _, err := sshconn.ParseHost(host); err != nil {
			return nil, fmt.Errorf("hosts file: %w", err)
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("hosts file: no files listed for %q", host)
		}
		for _, p := range paths {
			if p == "" {
				return nil, fmt.Errorf("hosts file: empty path for %q", host)
			}
			m.Add(host, p)
		}
	}
	return m, nil
}

var errTargetSyntax = errors.New("want [user@]host[:port]:path")

// ParseTarget splits a command-line target "[user@]host[:port]:path". A
// numeric segment between the host and a second colon is the port;
// bracketed IPv6 literals must be followed by ":".
func ParseTarget(s string) (host, path string, err error) {
	at := strings.LastIndex(s, "@")
	// An "@" inside the path is not a user separator.
	if c := strings.Index(s, ":"); c >= 0 && at > c {
		at = -1
	}
	prefix, rest := s[:at+1], s[at+1:]

	var hostPart string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 || end+1 >= len(rest) || rest[end+1] != ':' {
			return "", "", fmt.Errorf("parse target %q: %w", s, errTargetSyntax)
		}
		hostPart, rest = rest[:end+1], rest[end+2:]
	} else {
		var ok bool
		hostPart, rest, ok = strings.Cut(rest, ":")
		if !ok {
			return "", "", fmt.Errorf("parse target %q: %w", s, errTargetSyntax)
		}
	}
	if port, after, ok := strings.Cut(rest, ":"); ok && isDigits(port) {
		hostPart += ":" + port
		rest = after
	}

	host = prefix + hostPart
	if rest == "" {
		return "", "", fmt.Errorf("parse target %q: empty path", s)
	}
	if _, err := sshconn.ParseHost(host); err != nil {
		return "", "", fmt.Errorf("parse target %q: %w", s, err)
	}
	return host, rest, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
