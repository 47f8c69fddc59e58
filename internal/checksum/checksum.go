// Package checksum implements the Internet checksum (RFC 1071) used by the
// IPv4 and ICMP headers the responder fabricates.
package checksum

// Checksum returns the one's-complement 16-bit Internet checksum of b.
// Words are read big-endian; an odd trailing byte is padded with zero on
// the right. The checksum of an empty buffer is 0xFFFF.
func Checksum(b []byte) uint16 {
	var sum uint32

	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}

	for sum>>16 != 0 {
		sum = sum>>16 + sum&0xffff
	}

	return ^uint16(sum)
}

// Verify reports whether b, with its checksum field already filled in,
// sums to zero.
func Verify(b []byte) bool {
	return Checksum(b) == 0
}
