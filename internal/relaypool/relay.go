package relaypool

import (
	"net"
	"strconv"
	"time"
)

// Relay is one proxy endpoint scoped to a source, together with its
// cooldown deadline and cumulative failure count.
type Relay struct {
	Address     string
	Port        int
	Source      string
	Kind        string    // transport tag (http, socks5, ...), opaque to the pool
	AvailableAt time.Time // zero means always available
	Failures    int
}

// String returns the address:port form used as the relay key.
func (r Relay) String() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

// MarkCooldown makes the relay unavailable until now+d.
func (r *Relay) MarkCooldown(now time.Time, d time.Duration) {
	r.AvailableAt = now.Add(d)
}

// MarkFailureCooldown cools the relay down and records one more failure.
func (r *Relay) MarkFailureCooldown(now time.Time, d time.Duration) {
	r.MarkCooldown(now, d)
	r.Failures++
}

// IsAvailable reports whether the relay may be selected at now.
func (r Relay) IsAvailable(now time.Time) bool {
	return r.AvailableAt.IsZero() || !r.AvailableAt.After(now)
}
