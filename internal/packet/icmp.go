package packet

import (
	"encoding/binary"

	"golang.org/x/net/ipv4"

	"github.com/postalsys/icmpforge/internal/checksum"
)

// QuotedDataLen is how much of the original ICMP message an error quotes
// after the original IP header (RFC 792: the first 64 bits).
const QuotedDataLen = 8

type echoMessage struct {
	checksum uint16
	id       uint16
	seq      uint16
	data     []byte
}

func (m echoMessage) marshal() []byte {
	b := make([]byte, ICMPHeaderLen+len(m.data))
	b[0] = byte(ipv4.ICMPTypeEchoReply)
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], m.checksum)
	binary.BigEndian.PutUint16(b[4:6], m.id)
	binary.BigEndian.PutUint16(b[6:8], m.seq)
	copy(b[ICMPHeaderLen:], m.data)
	return b
}

// EchoReply returns an ICMP Echo Reply (type 0, code 0) answering the echo
// request identified by id and seq, carrying payload back unchanged.
func EchoReply(id, seq uint16, payload []byte) []byte {
	m := echoMessage{id: id, seq: seq, data: payload}
	m.checksum = checksum.Checksum(m.marshal())
	return m.marshal()
}

type errorMessage struct {
	typ      ipv4.ICMPType
	code     uint8
	checksum uint16
	quoted   []byte
}

func (m errorMessage) marshal() []byte {
	b := make([]byte, ICMPHeaderLen+len(m.quoted))
	b[0] = byte(m.typ)
	b[1] = m.code
	binary.BigEndian.PutUint16(b[2:4], m.checksum)
	// b[4:8] is the unused field and stays zero.
	copy(b[ICMPHeaderLen:], m.quoted)
	return b
}

// ErrorMessage returns an RFC 792 style ICMP error of the given type and
// code. The body is origHeader followed by the first QuotedDataLen bytes
// of origICMP; shorter originals are quoted as they are, without padding.
func ErrorMessage(typ ipv4.ICMPType, code uint8, origHeader, origICMP []byte) []byte {
	n := min(len(origICMP), QuotedDataLen)

	quoted := make([]byte, 0, len(origHeader)+n)
	quoted = append(quoted, origHeader...)
	quoted = append(quoted, origICMP[:n]...)

	m := errorMessage{typ: typ, code: code, quoted: quoted}
	m.checksum = checksum.Checksum(m.marshal())
	return m.marshal()
}
