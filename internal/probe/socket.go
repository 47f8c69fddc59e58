package probe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/postalsys/icmpforge/internal/packet"
	"github.com/postalsys/icmpforge/internal/rawsock"
)

// Conn is the packet connection the probe talks through. *icmp.PacketConn
// satisfies it.
type Conn interface {
	WriteTo(b []byte, dst net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Listen opens a privileged ip4:icmp socket. It receives every ICMP message
// addressed to the host, error messages included, without the IP header.
func Listen() (*icmp.PacketConn, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("create ICMP socket: %w: %w", rawsock.ErrPermission, err)
		}
		return nil, fmt.Errorf("create ICMP socket: %w", err)
	}
	return conn, nil
}

// SendEcho sends an ICMP Echo Request to dst.
func SendEcho(conn Conn, dst netip.Addr, id, seq uint16, payload []byte) error {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   int(id),
			Seq:  int(seq),
			Data: payload,
		},
	}

	b, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("marshal ICMP message: %w", err)
	}

	if _, err := conn.WriteTo(b, &net.IPAddr{IP: dst.AsSlice()}); err != nil {
		return fmt.Errorf("send ICMP: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func addrOf(a net.Addr) netip.Addr {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	}
	addr, _ := netip.AddrFromSlice(ip)
	return addr.Unmap()
}

// protocolICMP is the IANA protocol number icmp.ParseMessage expects.
const protocolICMP = packet.ProtocolICMP
