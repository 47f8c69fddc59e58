package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

var (
	// ErrTruncated is returned when a datagram is too short to hold the
	// fixed IPv4 and ICMP headers.
	ErrTruncated = errors.New("datagram truncated")

	// ErrNotEchoRequest is returned when an echo body is requested from a
	// message that is not an Echo Request.
	ErrNotEchoRequest = errors.New("not an echo request")
)

// Datagram is a parsed view of one inbound IPv4+ICMP datagram. Its slices
// alias the buffer it was parsed from.
type Datagram struct {
	Src netip.Addr
	Dst netip.Addr

	// Header is the raw 20-byte IPv4 header.
	Header []byte
	// ICMP is the whole ICMP message following the header.
	ICMP []byte

	Type     ipv4.ICMPType
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      uint16

	// Payload is the echo data after the 8-byte ICMP header.
	Payload []byte
}

// Parse parses b as a 20-byte IPv4 header followed by an ICMP message.
// IP options are not supported: the ICMP message always starts at offset
// HeaderLen.
func Parse(b []byte) (*Datagram, error) {
	if len(b) < HeaderLen+ICMPHeaderLen {
		return nil, fmt.Errorf("%d bytes: %w", len(b), ErrTruncated)
	}

	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return nil, fmt.Errorf("parse IPv4 header: %w", err)
	}
	if h.Version != ipv4.Version {
		return nil, fmt.Errorf("IP version %d: %w", h.Version, ErrNotIPv4)
	}

	src, ok := netip.AddrFromSlice(h.Src.To4())
	if !ok {
		return nil, fmt.Errorf("source %v: %w", h.Src, ErrNotIPv4)
	}
	dst, ok := netip.AddrFromSlice(h.Dst.To4())
	if !ok {
		return nil, fmt.Errorf("destination %v: %w", h.Dst, ErrNotIPv4)
	}

	msg := b[HeaderLen:]
	return &Datagram{
		Src:      src,
		Dst:      dst,
		Header:   b[:HeaderLen],
		ICMP:     msg,
		Type:     ipv4.ICMPType(msg[0]),
		Code:     msg[1],
		Checksum: binary.BigEndian.Uint16(msg[2:4]),
		ID:       binary.BigEndian.Uint16(msg[4:6]),
		Seq:      binary.BigEndian.Uint16(msg[6:8]),
		Payload:  msg[ICMPHeaderLen:],
	}, nil
}

// IsEchoRequest reports whether the datagram carries an ICMP Echo Request.
func (d *Datagram) IsEchoRequest() bool {
	return d.Type == ipv4.ICMPTypeEcho
}

// Echo decodes the Echo Request body with the x/net ICMP parser.
func (d *Datagram) Echo() (*icmp.Echo, error) {
	if !d.IsEchoRequest() {
		return nil, fmt.Errorf("ICMP type %v: %w", d.Type, ErrNotEchoRequest)
	}

	m, err := icmp.ParseMessage(ProtocolICMP, d.ICMP)
	if err != nil {
		return nil, fmt.Errorf("parse ICMP: %w", err)
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok {
		return nil, fmt.Errorf("invalid echo body")
	}
	return echo, nil
}
