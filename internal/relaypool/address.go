package relaypool

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseEntry parses an upload entry of the form "address:port" or
// "kind://address:port" into a fresh relay for source.
func ParseEntry(entry, source string) (Relay, error) {
	raw := strings.TrimSpace(entry)
	if raw == "" {
		return Relay{}, fmt.Errorf("%w: empty entry", ErrMalformed)
	}

	var kind string
	if i := strings.Index(raw, "://"); i >= 0 {
		kind = strings.ToLower(raw[:i])
		raw = raw[i+3:]
		if kind == "" {
			return Relay{}, fmt.Errorf("%w: %q has an empty scheme", ErrMalformed, entry)
		}
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return Relay{}, fmt.Errorf("%w: %q: %v", ErrMalformed, entry, err)
	}
	if host == "" {
		return Relay{}, fmt.Errorf("%w: %q has no address", ErrMalformed, entry)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Relay{}, fmt.Errorf("%w: %q has invalid port %q", ErrMalformed, entry, portStr)
	}

	return Relay{
		Address: host,
		Port:    port,
		Source:  source,
		Kind:    kind,
	}, nil
}

// normalizeAddress drops surrounding space and any kind:// prefix, leaving
// the form relays are keyed by.
func normalizeAddress(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.Index(query, "://"); i >= 0 {
		query = query[i+3:]
	}
	return query
}

// matchesAddress reports whether query names the relay. A query with a port
// must equal the relay's address:port; a bare host matches every port of it.
func matchesAddress(r Relay, query string) bool {
	query = normalizeAddress(query)
	if query == r.String() {
		return true
	}
	if _, _, err := net.SplitHostPort(query); err == nil {
		return false
	}
	return strings.Trim(query, "[]") == r.Address
}
