//go:build !linux

package rawsock

import "net/netip"

// OpenReceiver is only implemented on Linux.
func OpenReceiver(bind netip.Addr, opts ReceiverOptions) (Receiver, error) {
	return nil, ErrUnsupported
}

// OpenSender is only implemented on Linux.
func OpenSender() (Sender, error) {
	return nil, ErrUnsupported
}
