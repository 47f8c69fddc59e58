// Package rawsock provides the two raw IPv4 sockets the responder needs:
// one receiving ICMP datagrams with their IP header intact, one sending
// datagrams whose IP header is supplied by the caller (IP_HDRINCL).
//
// Raw sockets require root or CAP_NET_RAW. Creation failures caused by
// missing privileges wrap ErrPermission so the caller can report them
// distinctly from other socket errors.
package rawsock

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

var (
	// ErrPermission is returned when the process may not open raw sockets.
	ErrPermission = errors.New("raw socket permission denied")

	// ErrTimeout is returned by Receive when no datagram arrived within
	// the receive timeout.
	ErrTimeout = errors.New("receive timeout")

	// ErrTruncated is returned by Receive when the datagram was longer
	// than the read buffer. The buffer holds only its first bytes.
	ErrTruncated = errors.New("datagram truncated")

	// ErrClosed is returned when using a socket after Close.
	ErrClosed = errors.New("socket closed")

	// ErrUnsupported is returned on platforms without raw socket support.
	ErrUnsupported = errors.New("raw sockets not supported on this platform")
)

// Receiver reads whole IPv4 datagrams, IP header included.
type Receiver interface {
	// Receive reads one datagram into buf. It returns ErrTimeout when the
	// receive timeout expires first and ErrTruncated when the datagram did
	// not fit in buf.
	Receive(buf []byte) (int, error)
	Close() error
}

// Sender transmits complete IPv4 datagrams built by the caller.
type Sender interface {
	Send(pkt []byte, dst netip.Addr) error
	Close() error
}

// ReceiverOptions tunes the receive socket.
type ReceiverOptions struct {
	// Timeout bounds each Receive call. Zero blocks indefinitely.
	Timeout time.Duration

	// BufferSize is the SO_RCVBUF hint. Zero leaves the system default.
	BufferSize int
}

// DefaultReceiverOptions returns a one-second timeout and a 2048-byte
// receive buffer.
func DefaultReceiverOptions() ReceiverOptions {
	return ReceiverOptions{
		Timeout:    time.Second,
		BufferSize: 2048,
	}
}

// fitted checks a datagram length n, as reported under MSG_TRUNC, against
// the read buffer size.
func fitted(n, size int) (int, error) {
	if n > size {
		return size, fmt.Errorf("%w: %d-byte datagram, %d-byte buffer", ErrTruncated, n, size)
	}
	return n, nil
}
