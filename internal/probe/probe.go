// Package probe is a small ping client for checking a running responder.
// It sends a run of Echo Requests and reports what came back for each,
// Echo Reply or ICMP error alike.
//
// On loopback the kernel answers Echo Requests itself unless
// net.ipv4.icmp_echo_ignore_all is set; its replies arrive alongside the
// fabricated ones and whichever is second is reported as a duplicate.
package probe

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/postalsys/icmpforge/internal/registry"
)

// Options contains configuration for a probe run.
type Options struct {
	// Target is the IPv4 address to ping.
	Target netip.Addr

	// Count is the number of Echo Requests to send.
	Count int

	// Interval is the pause between requests.
	Interval time.Duration

	// Timeout bounds the wait for each answer.
	Timeout time.Duration

	// ID is the Echo identifier. Answers carrying another one are ignored.
	ID uint16

	// Payload is the Echo data.
	Payload []byte
}

// DefaultOptions pings loopback once per catalog entry.
func DefaultOptions() Options {
	return Options{
		Target:   netip.MustParseAddr("127.0.0.1"),
		Count:    registry.Len,
		Interval: 200 * time.Millisecond,
		Timeout:  time.Second,
		ID:       uint16(os.Getpid()),
		Payload:  []byte("icmpforge probe"),
	}
}

// Reply is one answer to one of our requests.
type Reply struct {
	Seq         uint16
	From        netip.Addr
	Type        ipv4.ICMPType
	Code        uint8
	Bytes       int
	RTT         time.Duration
	Duplicate   bool
	Description string
}

func (r Reply) String() string {
	s := fmt.Sprintf("%d bytes from %s: icmp_seq=%d %s time=%.3f ms",
		r.Bytes, r.From, r.Seq, r.Description, float64(r.RTT.Microseconds())/1000)
	if r.Duplicate {
		s += " (DUP!)"
	}
	return s
}

// Summary totals a probe run. Duplicates are not counted.
type Summary struct {
	Sent     int
	Answered int
	Lost     int
	ByType   map[ipv4.ICMPType]int
}

// Run sends opts.Count Echo Requests through conn and calls report for
// every answer. Requests go out opts.Interval apart; after the first answer
// to a request Run keeps reading until the next one is due, so late
// duplicates are timed from when they arrive. It stops early with ctx's
// error when ctx is cancelled.
func Run(ctx context.Context, conn Conn, opts Options, report func(Reply)) (sum Summary, err error) {
	sum = Summary{ByType: make(map[ipv4.ICMPType]int)}
	sentAt := make(map[uint16]time.Time, opts.Count)
	answered := make(map[uint16]bool, opts.Count)
	buf := make([]byte, 1500)

	defer func() {
		sum.Lost = sum.Sent - sum.Answered
	}()

	var next time.Time
	for i := 0; i < opts.Count; i++ {
		if wait := time.Until(next); i > 0 && wait > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(wait):
			}
		}

		seq := uint16(i + 1)
		if err := SendEcho(conn, opts.Target, opts.ID, seq, opts.Payload); err != nil {
			return sum, err
		}
		sent := time.Now()
		sentAt[seq] = sent
		sum.Sent++
		next = sent.Add(opts.Interval)

		deadline := sent.Add(opts.Timeout)
		for {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			until := deadline
			if answered[seq] {
				if next.Before(until) {
					until = next
				}
				if !time.Now().Before(until) {
					break
				}
			}
			if err := conn.SetReadDeadline(until); err != nil {
				return sum, fmt.Errorf("set read deadline: %w", err)
			}

			n, from, err := conn.ReadFrom(buf)
			received := time.Now()
			if err != nil {
				if isTimeout(err) {
					break
				}
				return sum, fmt.Errorf("receive: %w", err)
			}

			m, ok := Classify(buf[:n], opts.ID)
			if !ok {
				continue
			}
			t, ok := sentAt[m.Seq]
			if !ok {
				continue
			}

			r := Reply{
				Seq:         m.Seq,
				From:        addrOf(from),
				Type:        m.Type,
				Code:        m.Code,
				Bytes:       n,
				RTT:         received.Sub(t),
				Duplicate:   answered[m.Seq],
				Description: Describe(m.Type, m.Code),
			}
			if !r.Duplicate {
				answered[m.Seq] = true
				sum.Answered++
				sum.ByType[m.Type]++
			}
			if report != nil {
				report(r)
			}
		}
	}

	return sum, nil
}
