package xmemcache

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrNoServers is returned by ParseServers for an empty list.
var ErrNoServers = errors.New("memcache: no servers")

// Server is a memcached address with its routing weight.
// A weight of zero counts as one.
type Server struct {
	Addr   string
	Weight int
}

func (s Server) weight() int {
	if s.Weight <= 0 {
		return 1
	}
	return s.Weight
}

// StaticServers builds a server list with equal weights.
func StaticServers(addrs ...string) []Server {
	servers := make([]Server, len(addrs))
	for i, addr := range addrs {
		servers[i] = Server{Addr: addr, Weight: 1}
	}
	return servers
}

// ParseServers parses a whitespace or comma separated list of "host:port"
// entries, each optionally followed by "=weight":
//
//	"10.0.0.1:11211=2 10.0.0.2:11211"
func ParseServers(list string) ([]Server, error) {
	entries := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(entries) == 0 {
		return nil, ErrNoServers
	}

	servers := make([]Server, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		addr, weightStr, hasWeight := strings.Cut(entry, "=")
		weight := 1
		if hasWeight {
			w, err := strconv.Atoi(weightStr)
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("memcache: invalid weight in %q", entry)
			}
			weight = w
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return nil, fmt.Errorf("memcache: invalid server address %q: %w", addr, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("%w: %s", ErrServerExists, addr)
		}
		seen[addr] = struct{}{}
		servers = append(servers, Server{Addr: addr, Weight: weight})
	}
	return servers, nil
}
