package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/net/ipv4"

	"github.com/postalsys/icmpforge/internal/checksum"
)

const (
	// HeaderLen is the only IPv4 header length handled: no options.
	HeaderLen = ipv4.HeaderLen

	// ICMPHeaderLen is the fixed ICMP header: type, code, checksum and
	// four bytes of identifier/sequence or unused space.
	ICMPHeaderLen = 8

	// ProtocolICMP is the IANA protocol number for ICMPv4.
	ProtocolICMP = 1

	// Identification is stamped on every fabricated IPv4 header.
	Identification = 54321

	// TTL is the time-to-live of every fabricated IPv4 header.
	TTL = 64

	maxTotalLen = 0xffff
	versionIHL  = ipv4.Version<<4 | HeaderLen>>2
)

var (
	// ErrNotIPv4 is returned when an address is not a 4-byte IPv4 address.
	ErrNotIPv4 = errors.New("not an IPv4 address")

	// ErrTooLarge is returned when the total length would overflow the
	// 16-bit IPv4 total length field.
	ErrTooLarge = errors.New("packet exceeds IPv4 total length")
)

type ipv4Header struct {
	totalLen uint16
	checksum uint16
	src      [4]byte
	dst      [4]byte
}

// marshal always writes network byte order; ipv4.Header.Marshal writes
// host-order lengths on the BSDs.
func (h ipv4Header) marshal() []byte {
	b := make([]byte, HeaderLen)
	b[0] = versionIHL
	b[1] = 0 // TOS
	binary.BigEndian.PutUint16(b[2:4], h.totalLen)
	binary.BigEndian.PutUint16(b[4:6], Identification)
	binary.BigEndian.PutUint16(b[6:8], 0) // flags, fragment offset
	b[8] = TTL
	b[9] = ProtocolICMP
	binary.BigEndian.PutUint16(b[10:12], h.checksum)
	copy(b[12:16], h.src[:])
	copy(b[16:20], h.dst[:])
	return b
}

// IPv4Header returns a 20-byte IPv4 header carrying payloadLen bytes of
// ICMP from src to dst.
func IPv4Header(src, dst netip.Addr, payloadLen int) ([]byte, error) {
	src, dst = src.Unmap(), dst.Unmap()
	if !src.Is4() {
		return nil, fmt.Errorf("source %v: %w", src, ErrNotIPv4)
	}
	if !dst.Is4() {
		return nil, fmt.Errorf("destination %v: %w", dst, ErrNotIPv4)
	}
	if payloadLen < 0 || HeaderLen+payloadLen > maxTotalLen {
		return nil, fmt.Errorf("payload of %d bytes: %w", payloadLen, ErrTooLarge)
	}

	h := ipv4Header{
		totalLen: uint16(HeaderLen + payloadLen),
		src:      src.As4(),
		dst:      dst.As4(),
	}
	h.checksum = checksum.Checksum(h.marshal())

	return h.marshal(), nil
}
