package probe

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/postalsys/icmpforge/internal/checksum"
	"github.com/postalsys/icmpforge/internal/registry"
)

// Match is an inbound ICMP message recognised as an answer to one of our
// Echo Requests.
type Match struct {
	Type ipv4.ICMPType
	Code uint8
	Seq  uint16
}

// Classify decides whether msg, an ICMP message without IP header, answers
// an Echo Request carrying identifier id. Echo Replies match on their own
// identifier; error messages match on the Echo Request header they quote.
func Classify(msg []byte, id uint16) (Match, bool) {
	if len(msg) < 8 || !checksum.Verify(msg) {
		return Match{}, false
	}

	typ := ipv4.ICMPType(msg[0])
	code := msg[1]

	switch typ {
	case ipv4.ICMPTypeEchoReply:
		m, err := icmp.ParseMessage(protocolICMP, msg)
		if err != nil {
			return Match{}, false
		}
		echo, ok := m.Body.(*icmp.Echo)
		if !ok || uint16(echo.ID) != id {
			return Match{}, false
		}
		return Match{Type: typ, Code: code, Seq: uint16(echo.Seq)}, true

	case ipv4.ICMPTypeDestinationUnreachable,
		registry.ICMPTypeSourceQuench,
		ipv4.ICMPTypeRedirect,
		ipv4.ICMPTypeTimeExceeded,
		ipv4.ICMPTypeParameterProblem:
		seq, ok := quotedEcho(msg[8:], id)
		if !ok {
			return Match{}, false
		}
		return Match{Type: typ, Code: code, Seq: seq}, true
	}

	return Match{}, false
}

// quotedEcho extracts the sequence number from a quoted IPv4 header plus
// the first 8 bytes of an Echo Request with identifier id.
func quotedEcho(q []byte, id uint16) (uint16, bool) {
	if len(q) < ipv4.HeaderLen || q[0]>>4 != 4 {
		return 0, false
	}
	hlen := int(q[0]&0x0f) << 2
	if hlen < ipv4.HeaderLen || q[9] != protocolICMP || len(q) < hlen+8 {
		return 0, false
	}

	inner := q[hlen:]
	if ipv4.ICMPType(inner[0]) != ipv4.ICMPTypeEcho {
		return 0, false
	}
	if binary.BigEndian.Uint16(inner[4:6]) != id {
		return 0, false
	}
	return binary.BigEndian.Uint16(inner[6:8]), true
}

type typeCode struct {
	typ  ipv4.ICMPType
	code uint8
}

var codeDescriptions = map[typeCode]string{
	{ipv4.ICMPTypeDestinationUnreachable, 0}:  "Destination Net Unreachable",
	{ipv4.ICMPTypeDestinationUnreachable, 1}:  "Destination Host Unreachable",
	{ipv4.ICMPTypeDestinationUnreachable, 2}:  "Destination Protocol Unreachable",
	{ipv4.ICMPTypeDestinationUnreachable, 3}:  "Destination Port Unreachable",
	{ipv4.ICMPTypeDestinationUnreachable, 4}:  "Fragmentation needed and DF set",
	{ipv4.ICMPTypeDestinationUnreachable, 5}:  "Source Route Failed",
	{ipv4.ICMPTypeDestinationUnreachable, 6}:  "Network Unknown",
	{ipv4.ICMPTypeDestinationUnreachable, 7}:  "Host Unknown",
	{ipv4.ICMPTypeDestinationUnreachable, 8}:  "Host Isolated",
	{ipv4.ICMPTypeDestinationUnreachable, 9}:  "Destination Net Prohibited",
	{ipv4.ICMPTypeDestinationUnreachable, 10}: "Destination Host Prohibited",
	{ipv4.ICMPTypeDestinationUnreachable, 11}: "Destination Network Unreachable At This TOS",
	{ipv4.ICMPTypeDestinationUnreachable, 12}: "Destination Host Unreachable At This TOS",
	{ipv4.ICMPTypeDestinationUnreachable, 13}: "Packet Filtered",
	{ipv4.ICMPTypeDestinationUnreachable, 14}: "Precedence Violation",
	{ipv4.ICMPTypeDestinationUnreachable, 15}: "Precedence Cutoff",
	{ipv4.ICMPTypeRedirect, 0}:                "Redirect Network",
	{ipv4.ICMPTypeRedirect, 1}:                "Redirect Host",
	{ipv4.ICMPTypeRedirect, 2}:                "Redirect Type of Service and Network",
	{ipv4.ICMPTypeRedirect, 3}:                "Redirect Type of Service and Host",
	{ipv4.ICMPTypeTimeExceeded, 0}:            "Time to live exceeded",
	{ipv4.ICMPTypeTimeExceeded, 1}:            "Frag reassembly time exceeded",
	{ipv4.ICMPTypeParameterProblem, 0}:        "Parameter problem: pointer indicates the error",
	{ipv4.ICMPTypeParameterProblem, 1}:        "Parameter problem: missing a required option",
}

// Describe returns the diagnostic ping prints for an ICMP type and code.
func Describe(typ ipv4.ICMPType, code uint8) string {
	switch typ {
	case ipv4.ICMPTypeEchoReply:
		return "Echo Reply"
	case registry.ICMPTypeSourceQuench:
		return "Source Quench"
	}

	if d, ok := codeDescriptions[typeCode{typ, code}]; ok {
		return d
	}

	var kind string
	switch typ {
	case ipv4.ICMPTypeDestinationUnreachable:
		kind = "Dest Unreachable"
	case ipv4.ICMPTypeRedirect:
		kind = "Redirect"
	case ipv4.ICMPTypeTimeExceeded:
		kind = "Time exceeded"
	case ipv4.ICMPTypeParameterProblem:
		kind = "Parameter problem"
	default:
		return fmt.Sprintf("Bad ICMP type: %d", int(typ))
	}
	return fmt.Sprintf("%s, Unknown Code: %d", kind, code)
}
