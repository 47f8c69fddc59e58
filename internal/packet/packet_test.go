package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/postalsys/icmpforge/internal/checksum"
)

var (
	localAddr  = netip.MustParseAddr("127.0.0.1")
	remoteAddr = netip.MustParseAddr("192.0.2.7")
)

// echoRequest builds an inbound IPv4 Echo Request datagram from src to dst.
func echoRequest(t *testing.T, src, dst netip.Addr, id, seq int, data []byte) []byte {
	t.Helper()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: data},
	}
	body, err := msg.Marshal(nil)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	hdr, err := IPv4Header(src, dst, len(body))
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}
	return append(hdr, body...)
}

func TestIPv4Header_Layout(t *testing.T) {
	hdr, err := IPv4Header(localAddr, remoteAddr, 28)
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}

	if len(hdr) != HeaderLen {
		t.Fatalf("len = %d, want %d", len(hdr), HeaderLen)
	}
	if hdr[0] != 0x45 {
		t.Errorf("version/IHL = %#02x, want 0x45", hdr[0])
	}
	if hdr[1] != 0 {
		t.Errorf("TOS = %d, want 0", hdr[1])
	}
	if got := binary.BigEndian.Uint16(hdr[2:4]); got != 48 {
		t.Errorf("total length = %d, want 48", got)
	}
	if got := binary.BigEndian.Uint16(hdr[4:6]); got != 54321 {
		t.Errorf("identification = %d, want 54321", got)
	}
	if got := binary.BigEndian.Uint16(hdr[6:8]); got != 0 {
		t.Errorf("flags/fragment offset = %#04x, want 0", got)
	}
	if hdr[8] != 64 {
		t.Errorf("TTL = %d, want 64", hdr[8])
	}
	if hdr[9] != 1 {
		t.Errorf("protocol = %d, want 1", hdr[9])
	}
	if !bytes.Equal(hdr[12:16], []byte{127, 0, 0, 1}) {
		t.Errorf("source = %v, want 127.0.0.1", hdr[12:16])
	}
	if !bytes.Equal(hdr[16:20], []byte{192, 0, 2, 7}) {
		t.Errorf("destination = %v, want 192.0.2.7", hdr[16:20])
	}
	if !checksum.Verify(hdr) {
		t.Errorf("header checksum %#04x does not verify", binary.BigEndian.Uint16(hdr[10:12]))
	}
}

func TestIPv4Header_ChecksumMatchesZeroedHeader(t *testing.T) {
	hdr, err := IPv4Header(remoteAddr, localAddr, 0)
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}

	zeroed := bytes.Clone(hdr)
	zeroed[10], zeroed[11] = 0, 0
	want := checksum.Checksum(zeroed)

	if got := binary.BigEndian.Uint16(hdr[10:12]); got != want {
		t.Errorf("checksum = %#04x, want %#04x", got, want)
	}
}

func TestIPv4Header_ParsesWithXNet(t *testing.T) {
	hdr, err := IPv4Header(localAddr, remoteAddr, 100)
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}

	h, err := ipv4.ParseHeader(hdr)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.Version != 4 || h.Len != 20 {
		t.Errorf("version/len = %d/%d, want 4/20", h.Version, h.Len)
	}
	if h.TTL != 64 || h.Protocol != 1 || h.ID != 54321 {
		t.Errorf("ttl/proto/id = %d/%d/%d, want 64/1/54321", h.TTL, h.Protocol, h.ID)
	}
	if !h.Src.Equal(localAddr.AsSlice()) || !h.Dst.Equal(remoteAddr.AsSlice()) {
		t.Errorf("src/dst = %v/%v, want %v/%v", h.Src, h.Dst, localAddr, remoteAddr)
	}
}

func TestIPv4Header_Errors(t *testing.T) {
	tests := []struct {
		name       string
		src, dst   netip.Addr
		payloadLen int
		wantErr    error
	}{
		{"ipv6 source", netip.MustParseAddr("::1"), localAddr, 8, ErrNotIPv4},
		{"ipv6 destination", localAddr, netip.MustParseAddr("2001:db8::1"), 8, ErrNotIPv4},
		{"invalid source", netip.Addr{}, localAddr, 8, ErrNotIPv4},
		{"too large", localAddr, remoteAddr, 0xffff, ErrTooLarge},
		{"negative length", localAddr, remoteAddr, -1, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IPv4Header(tt.src, tt.dst, tt.payloadLen)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("IPv4Header() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIPv4Header_MappedAddress(t *testing.T) {
	mapped := netip.MustParseAddr("::ffff:10.1.2.3")
	hdr, err := IPv4Header(mapped, localAddr, 8)
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}
	if !bytes.Equal(hdr[12:16], []byte{10, 1, 2, 3}) {
		t.Errorf("source = %v, want 10.1.2.3", hdr[12:16])
	}
}

func TestEchoReply(t *testing.T) {
	payload := []byte("abcdata")
	msg := EchoReply(0x1234, 0x0001, payload)

	if len(msg) != ICMPHeaderLen+len(payload) {
		t.Fatalf("len = %d, want %d", len(msg), ICMPHeaderLen+len(payload))
	}
	if msg[0] != 0 || msg[1] != 0 {
		t.Errorf("type/code = %d/%d, want 0/0", msg[0], msg[1])
	}
	if got := binary.BigEndian.Uint16(msg[4:6]); got != 0x1234 {
		t.Errorf("identifier = %#04x, want 0x1234", got)
	}
	if got := binary.BigEndian.Uint16(msg[6:8]); got != 0x0001 {
		t.Errorf("sequence = %#04x, want 0x0001", got)
	}
	if !bytes.Equal(msg[8:], payload) {
		t.Errorf("payload = %q, want %q", msg[8:], payload)
	}
	if !checksum.Verify(msg) {
		t.Error("echo reply checksum does not verify")
	}

	m, err := icmp.ParseMessage(ProtocolICMP, msg)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if m.Type != ipv4.ICMPTypeEchoReply {
		t.Errorf("parsed type = %v, want %v", m.Type, ipv4.ICMPTypeEchoReply)
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok {
		t.Fatalf("body = %T, want *icmp.Echo", m.Body)
	}
	if echo.ID != 0x1234 || echo.Seq != 1 || string(echo.Data) != "abcdata" {
		t.Errorf("echo = %+v, want id 0x1234 seq 1 data abcdata", echo)
	}
}

func TestEchoReply_EmptyPayload(t *testing.T) {
	msg := EchoReply(7, 9, nil)
	if len(msg) != ICMPHeaderLen {
		t.Fatalf("len = %d, want %d", len(msg), ICMPHeaderLen)
	}
	if !checksum.Verify(msg) {
		t.Error("checksum does not verify")
	}
}

func TestEchoReply_DoesNotAliasPayload(t *testing.T) {
	payload := []byte("ping")
	msg := EchoReply(1, 1, payload)
	payload[0] = 'X'
	if msg[ICMPHeaderLen] != 'p' {
		t.Error("reply payload changed after mutating the input slice")
	}
}

func TestErrorMessage_QuotesHeaderAndEightBytes(t *testing.T) {
	origHeader, err := IPv4Header(remoteAddr, localAddr, 12)
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}
	origICMP := []byte{8, 0, 0xaa, 0xbb, 0x12, 0x34, 0x00, 0x01, 'd', 'a', 't', 'a'}

	msg := ErrorMessage(ipv4.ICMPTypeDestinationUnreachable, 3, origHeader, origICMP)

	if msg[0] != 3 || msg[1] != 3 {
		t.Errorf("type/code = %d/%d, want 3/3", msg[0], msg[1])
	}
	if !bytes.Equal(msg[4:8], []byte{0, 0, 0, 0}) {
		t.Errorf("unused = %v, want all zero", msg[4:8])
	}

	wantQuoted := append(bytes.Clone(origHeader), origICMP[:8]...)
	if !bytes.Equal(msg[ICMPHeaderLen:], wantQuoted) {
		t.Errorf("quoted = %x, want %x", msg[ICMPHeaderLen:], wantQuoted)
	}
	if len(msg) != ICMPHeaderLen+HeaderLen+QuotedDataLen {
		t.Errorf("len = %d, want %d", len(msg), ICMPHeaderLen+HeaderLen+QuotedDataLen)
	}
	if !checksum.Verify(msg) {
		t.Error("error message checksum does not verify")
	}
}

func TestErrorMessage_ShortOriginalNotPadded(t *testing.T) {
	origHeader := make([]byte, HeaderLen)
	origICMP := []byte{8, 0, 1, 2, 3}

	msg := ErrorMessage(ipv4.ICMPTypeTimeExceeded, 0, origHeader, origICMP)

	if want := ICMPHeaderLen + HeaderLen + len(origICMP); len(msg) != want {
		t.Errorf("len = %d, want %d", len(msg), want)
	}
	if !bytes.Equal(msg[ICMPHeaderLen+HeaderLen:], origICMP) {
		t.Errorf("quoted data = %v, want %v", msg[ICMPHeaderLen+HeaderLen:], origICMP)
	}
	if !checksum.Verify(msg) {
		t.Error("checksum does not verify")
	}
}

func TestErrorMessage_TypesParseWithXNet(t *testing.T) {
	origHeader := make([]byte, HeaderLen)
	origICMP := []byte{8, 0, 0, 0, 0, 1, 0, 1}

	tests := []struct {
		name     string
		typ      ipv4.ICMPType
		code     uint8
		wantBody string
	}{
		{"destination unreachable", ipv4.ICMPTypeDestinationUnreachable, 13, "*icmp.DstUnreach"},
		{"time exceeded", ipv4.ICMPTypeTimeExceeded, 1, "*icmp.TimeExceeded"},
		{"parameter problem", ipv4.ICMPTypeParameterProblem, 0, "*icmp.ParamProb"},
		{"redirect", ipv4.ICMPTypeRedirect, 1, "*icmp.RawBody"},
		{"source quench", ipv4.ICMPType(4), 0, "*icmp.RawBody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ErrorMessage(tt.typ, tt.code, origHeader, origICMP)
			m, err := icmp.ParseMessage(ProtocolICMP, msg)
			if err != nil {
				t.Fatalf("ParseMessage() error = %v", err)
			}
			if m.Type != tt.typ || m.Code != int(tt.code) {
				t.Errorf("type/code = %v/%d, want %v/%d", m.Type, m.Code, tt.typ, tt.code)
			}
			if got := fmt.Sprintf("%T", m.Body); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
		})
	}
}

func TestParse_EchoRequest(t *testing.T) {
	raw := echoRequest(t, remoteAddr, localAddr, 0x1234, 1, []byte("abcdata"))

	d, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if d.Src != remoteAddr || d.Dst != localAddr {
		t.Errorf("src/dst = %v/%v, want %v/%v", d.Src, d.Dst, remoteAddr, localAddr)
	}
	if !d.IsEchoRequest() {
		t.Errorf("IsEchoRequest() = false for type %v", d.Type)
	}
	if d.ID != 0x1234 || d.Seq != 1 {
		t.Errorf("id/seq = %#04x/%d, want 0x1234/1", d.ID, d.Seq)
	}
	if string(d.Payload) != "abcdata" {
		t.Errorf("Payload = %q, want %q", d.Payload, "abcdata")
	}
	if !bytes.Equal(d.Header, raw[:HeaderLen]) {
		t.Error("Header does not match the first 20 bytes")
	}
	if !bytes.Equal(d.ICMP, raw[HeaderLen:]) {
		t.Error("ICMP does not match the bytes after the header")
	}
	if d.Checksum != binary.BigEndian.Uint16(raw[22:24]) {
		t.Errorf("Checksum = %#04x, want %#04x", d.Checksum, binary.BigEndian.Uint16(raw[22:24]))
	}

	echo, err := d.Echo()
	if err != nil {
		t.Fatalf("Echo() error = %v", err)
	}
	if echo.ID != 0x1234 || echo.Seq != 1 || string(echo.Data) != "abcdata" {
		t.Errorf("Echo() = %+v", echo)
	}
}

func TestParse_NonEcho(t *testing.T) {
	reply := EchoReply(1, 2, []byte("x"))
	hdr, err := IPv4Header(remoteAddr, localAddr, len(reply))
	if err != nil {
		t.Fatalf("IPv4Header() error = %v", err)
	}

	d, err := Parse(append(hdr, reply...))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if d.IsEchoRequest() {
		t.Error("IsEchoRequest() = true for an echo reply")
	}
	if _, err := d.Echo(); !errors.Is(err, ErrNotEchoRequest) {
		t.Errorf("Echo() error = %v, want %v", err, ErrNotEchoRequest)
	}
}

func TestParse_Truncated(t *testing.T) {
	raw := echoRequest(t, remoteAddr, localAddr, 1, 1, nil)

	for _, n := range []int{0, 1, HeaderLen - 1, HeaderLen, HeaderLen + ICMPHeaderLen - 1} {
		if _, err := Parse(raw[:n]); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse(%d bytes) error = %v, want %v", n, err, ErrTruncated)
		}
	}
	if _, err := Parse(raw[:HeaderLen+ICMPHeaderLen]); err != nil {
		t.Errorf("Parse(%d bytes) error = %v, want nil", HeaderLen+ICMPHeaderLen, err)
	}
}

func TestParse_WrongVersion(t *testing.T) {
	raw := echoRequest(t, remoteAddr, localAddr, 1, 1, nil)
	raw[0] = 0x65

	if _, err := Parse(raw); !errors.Is(err, ErrNotIPv4) {
		t.Errorf("Parse() error = %v, want %v", err, ErrNotIPv4)
	}
}
