//go:build linux

package rawsock

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"
)

type fdSocket struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

func (s *fdSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func (s *fdSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type receiver struct {
	fdSocket
}

// OpenReceiver opens a raw IPPROTO_ICMP socket bound to bind. Datagrams
// read from it include the IPv4 header.
func OpenReceiver(bind netip.Addr, opts ReceiverOptions) (Receiver, error) {
	bind = bind.Unmap()
	if !bind.Is4() {
		return nil, fmt.Errorf("bind address %v is not IPv4", bind)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, socketError("create receive socket", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Addr: bind.As4()}); err != nil {
		unix.Close(fd)
		return nil, socketError("bind receive socket", err)
	}

	if opts.BufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.BufferSize); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set SO_RCVBUF: %w", err)
		}
	}

	if opts.Timeout > 0 {
		tv := unix.NsecToTimeval(opts.Timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set SO_RCVTIMEO: %w", err)
		}
	}

	return &receiver{fdSocket{fd: fd}}, nil
}

func (r *receiver) Receive(buf []byte) (int, error) {
	if r.isClosed() {
		return 0, ErrClosed
	}

	n, _, err := unix.Recvfrom(r.fd, buf, unix.MSG_TRUNC)
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			return 0, ErrTimeout
		case errors.Is(err, unix.EBADF):
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("recvfrom: %w", err)
	}
	return fitted(n, len(buf))
}

type sender struct {
	fdSocket
}

// OpenSender opens a raw IPPROTO_RAW socket with IP_HDRINCL enabled, so the
// kernel transmits the caller's IPv4 header as given.
func OpenSender() (Sender, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_RAW)
	if err != nil {
		return nil, socketError("create send socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, socketError("set IP_HDRINCL", err)
	}

	return &sender{fdSocket{fd: fd}}, nil
}

func (s *sender) Send(pkt []byte, dst netip.Addr) error {
	if s.isClosed() {
		return ErrClosed
	}

	dst = dst.Unmap()
	if !dst.Is4() {
		return fmt.Errorf("destination %v is not IPv4", dst)
	}

	if err := unix.Sendto(s.fd, pkt, 0, &unix.SockaddrInet4{Addr: dst.As4()}); err != nil {
		return fmt.Errorf("sendto %v: %w", dst, err)
	}
	return nil
}

// socketError wraps privilege failures with ErrPermission.
func socketError(op string, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%s: %w: %w", op, ErrPermission, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
