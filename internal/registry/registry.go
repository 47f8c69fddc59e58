// Package registry holds the fixed, ordered catalog of ICMP responses and
// the round-robin cursor that picks the response for each Echo Request.
//
// The order and membership of the catalog is observable behaviour: peers
// under test rely on the N-th request receiving the N-th entry (mod 16).
package registry

import (
	"fmt"

	"golang.org/x/net/ipv4"
)

// ICMPTypeSourceQuench is the deprecated Source Quench type (RFC 6633).
// x/net no longer names it.
const ICMPTypeSourceQuench ipv4.ICMPType = 4

// ResponseSpec describes one fabricated response.
type ResponseSpec struct {
	Type  ipv4.ICMPType
	Code  uint8
	Label string
}

// IsEchoReply reports whether the response is a normal Echo Reply rather
// than an error message.
func (r ResponseSpec) IsEchoReply() bool {
	return r.Type == ipv4.ICMPTypeEchoReply
}

func (r ResponseSpec) String() string {
	return fmt.Sprintf("Type %d, Code %d: %s", int(r.Type), r.Code, r.Label)
}

var catalog = [...]ResponseSpec{
	{ipv4.ICMPTypeEchoReply, 0, "Echo Reply (Normal)"},
	{ipv4.ICMPTypeDestinationUnreachable, 0, "Destination Unreachable - Network Unreachable"},
	{ipv4.ICMPTypeDestinationUnreachable, 1, "Destination Unreachable - Host Unreachable"},
	{ipv4.ICMPTypeDestinationUnreachable, 2, "Destination Unreachable - Protocol Unreachable"},
	{ipv4.ICMPTypeDestinationUnreachable, 3, "Destination Unreachable - Port Unreachable"},
	{ipv4.ICMPTypeDestinationUnreachable, 4, "Destination Unreachable - Fragmentation Needed"},
	{ipv4.ICMPTypeDestinationUnreachable, 9, "Destination Unreachable - Network Prohibited"},
	{ipv4.ICMPTypeDestinationUnreachable, 10, "Destination Unreachable - Host Prohibited"},
	{ipv4.ICMPTypeDestinationUnreachable, 13, "Destination Unreachable - Communication Prohibited"},
	{ICMPTypeSourceQuench, 0, "Source Quench (deprecated)"},
	{ipv4.ICMPTypeRedirect, 0, "Redirect - Network"},
	{ipv4.ICMPTypeRedirect, 1, "Redirect - Host"},
	{ipv4.ICMPTypeTimeExceeded, 0, "Time Exceeded - TTL exceeded in transit"},
	{ipv4.ICMPTypeTimeExceeded, 1, "Time Exceeded - Fragment reassembly time exceeded"},
	{ipv4.ICMPTypeParameterProblem, 0, "Parameter Problem - Pointer indicates error"},
	{ipv4.ICMPTypeParameterProblem, 1, "Parameter Problem - Missing required option"},
}

// Len is the number of entries in the catalog.
const Len = len(catalog)

// Catalog returns a copy of the catalog in cycling order.
func Catalog() []ResponseSpec {
	out := make([]ResponseSpec, Len)
	copy(out, catalog[:])
	return out
}

// At returns the i-th catalog entry. It panics if i is out of range.
func At(i int) ResponseSpec {
	return catalog[i]
}

// Cursor is the round-robin position in the catalog. The zero value points
// at the first entry (Echo Reply).
//
// A Cursor is not safe for concurrent use; the responder loop is its only
// writer.
type Cursor struct {
	idx int
}

// Current returns the entry at the cursor without moving it.
func (c *Cursor) Current() ResponseSpec {
	return catalog[c.idx]
}

// Advance moves the cursor to the next entry, wrapping after the last.
func (c *Cursor) Advance() {
	c.idx = (c.idx + 1) % Len
}

// Index returns the cursor position in [0, Len).
func (c *Cursor) Index() int {
	return c.idx
}
