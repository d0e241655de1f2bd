// Package util collects small helpers shared across the object layer:
// id generation, pointer dereferencing and duration formatting, in the
// spirit of the teacher repo's own util package.
package util

import (
	"net"
	"strings"
	"time"

	"github.com/rs/xid"
)

// NewID returns a fresh opaque id: 12 bytes, globally unique, and
// lexicographically sortable by creation time (xid embeds a timestamp,
// machine id, process id and counter) — exactly the shape the glossary's
// "Opaque id" calls for.
func NewID() string { return xid.New().String() }

// Deref returns the zero value of T when p is nil, otherwise *p.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }

// FormatDurationSmart renders a duration rounded to the microsecond for
// sub-second spans and to the millisecond otherwise, matching the teacher's
// own log-friendly duration formatting.
func FormatDurationSmart(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Microsecond).String()
	}
	return d.Round(time.Millisecond).String()
}

// RunOrDie runs fn and panics on error; used only at process bootstrap
// where a failed init has no sensible recovery path.
func RunOrDie(fn func() error) {
	if err := fn(); err != nil {
		panic(err)
	}
}

// IPv6ToIPv4 collapses an IPv4-mapped IPv6 address (e.g. "::ffff:127.0.0.1",
// as net/http sometimes hands back for dual-stack listeners) down to its
// dotted-quad form. Addresses that aren't IPv4-mapped pass through unchanged.
func IPv6ToIPv4(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return addr
	}
	if v4 := ip.To4(); v4 != nil && strings.Contains(host, ":") {
		return v4.String()
	}
	return addr
}
