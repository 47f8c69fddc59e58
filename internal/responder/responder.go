// Package responder runs the capture/reply loop: it reads ICMP datagrams
// from a raw socket, answers every Echo Request with the catalog entry at
// the cursor, and advances the cursor.
//
// The loop is strictly sequential. One datagram is parsed, answered and
// the cursor advanced before the next receive, so the cursor needs no
// locking. Shutdown is cooperative: the receive call returns at least once
// per receive timeout and the loop then checks its context.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/icmpforge/internal/logging"
	"github.com/postalsys/icmpforge/internal/metrics"
	"github.com/postalsys/icmpforge/internal/packet"
	"github.com/postalsys/icmpforge/internal/rawsock"
	"github.com/postalsys/icmpforge/internal/recovery"
	"github.com/postalsys/icmpforge/internal/registry"
)

// Config holds the loop settings.
type Config struct {
	// BindAddress is the local IPv4 address the receive socket binds to.
	BindAddress netip.Addr

	// ReceiveTimeout bounds each receive so shutdown is noticed.
	ReceiveTimeout time.Duration

	// ReceiveBuffer is the SO_RCVBUF hint.
	ReceiveBuffer int

	// ReadBuffer is the size of the per-datagram read buffer.
	ReadBuffer int

	// ErrorRate caps per-datagram error log lines per second.
	// 0 logs every error.
	ErrorRate int
}

// DefaultConfig returns loopback, a one-second timeout and a 2048-byte
// socket buffer.
func DefaultConfig() Config {
	opts := rawsock.DefaultReceiverOptions()
	return Config{
		BindAddress:    netip.MustParseAddr("127.0.0.1"),
		ReceiveTimeout: opts.Timeout,
		ReceiveBuffer:  opts.BufferSize,
		ReadBuffer:     65535,
		ErrorRate:      10,
	}
}

// Outcome is what happened to one inbound datagram.
type Outcome int

const (
	// Replied: a response was fabricated and sent; the cursor advanced.
	Replied Outcome = iota
	// Discarded: not an Echo Request; nothing sent, cursor untouched.
	Discarded
	// SendFailed: a response was fabricated but not sent; the cursor
	// advanced anyway.
	SendFailed
	// Dropped: parsing or building failed before a response was chosen;
	// cursor untouched.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Replied:
		return "replied"
	case Discarded:
		return "discarded"
	case SendFailed:
		return "send_failed"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Running     bool
	StartedAt   time.Time
	Cursor      int
	Next        registry.ResponseSpec
	Requests    uint64
	Replies     uint64
	Discarded   uint64
	ParseErrors uint64
	SendErrors  uint64
	Panics      uint64
}

// Responder owns the two raw sockets and the cursor.
type Responder struct {
	cfg     Config
	recv    rawsock.Receiver
	send    rawsock.Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	errLog  *rate.Limiter

	// Touched only by the loop goroutine.
	cursor registry.Cursor

	// Published for Stats readers.
	running     atomic.Bool
	startedAt   atomic.Int64
	cursorIdx   atomic.Int32
	requests    atomic.Uint64
	replies     atomic.Uint64
	discarded   atomic.Uint64
	parseErrors atomic.Uint64
	sendErrors  atomic.Uint64
	panics      atomic.Uint64
}

// New creates a responder over already opened sockets. It takes ownership
// of both and closes them when Run returns.
func New(cfg Config, recv rawsock.Receiver, send rawsock.Sender, logger *slog.Logger, m *metrics.Metrics) *Responder {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultConfig().ReadBuffer
	}

	limit, burst := rate.Inf, 0
	if cfg.ErrorRate > 0 {
		limit, burst = rate.Limit(cfg.ErrorRate), cfg.ErrorRate
	}

	return &Responder{
		cfg:     cfg,
		recv:    recv,
		send:    send,
		logger:  logger.With(logging.KeyComponent, "responder"),
		metrics: m,
		errLog:  rate.NewLimiter(limit, burst),
	}
}

// Open opens the receive and send raw sockets described by cfg and returns
// a responder over them. Missing privileges surface as an error wrapping
// rawsock.ErrPermission.
func Open(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Responder, error) {
	opts := rawsock.DefaultReceiverOptions()
	if cfg.ReceiveTimeout > 0 {
		opts.Timeout = cfg.ReceiveTimeout
	}
	if cfg.ReceiveBuffer > 0 {
		opts.BufferSize = cfg.ReceiveBuffer
	}
	recv, err := rawsock.OpenReceiver(cfg.BindAddress, opts)
	if err != nil {
		return nil, err
	}

	send, err := rawsock.OpenSender()
	if err != nil {
		recv.Close()
		return nil, err
	}

	return New(cfg, recv, send, logger, m), nil
}

// Run receives and answers datagrams until ctx is cancelled. Both sockets
// are closed before Run returns, whatever the reason. Cancellation is not
// an error: Run returns nil.
func (r *Responder) Run(ctx context.Context) error {
	defer r.close()

	r.startedAt.Store(time.Now().UnixNano())
	r.running.Store(true)
	defer r.running.Store(false)
	defer func() {
		r.logger.Info("capture loop stopped",
			logging.KeyCount, r.replies.Load(),
			logging.KeyDuration, time.Since(time.Unix(0, r.startedAt.Load())).Round(time.Millisecond))
	}()

	r.metrics.SetCursor(r.cursor.Index())
	r.logger.Info("listening for ICMP echo requests",
		logging.KeyBindAddr, r.cfg.BindAddress.String())

	buf := make([]byte, r.cfg.ReadBuffer)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := r.recv.Receive(buf)
		if err != nil {
			if errors.Is(err, rawsock.ErrTimeout) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, rawsock.ErrClosed) {
				return fmt.Errorf("receive: %w", err)
			}
			if errors.Is(err, rawsock.ErrTruncated) {
				r.parseErrors.Add(1)
				r.metrics.RecordParseError()
				r.logError("dropping datagram", err)
				continue
			}
			r.logError("receive failed", err)
			continue
		}

		r.Handle(buf[:n])
	}
}

// Handle processes one inbound datagram, sending the response if it is an
// Echo Request. A panic while sending is a send failure and the cursor
// still advances; any other panic is recovered and reported as Dropped.
func (r *Responder) Handle(datagram []byte) Outcome {
	var outcome Outcome
	err := recovery.Guard(r.logger, "handle-datagram", func() error {
		var err error
		outcome, err = r.handle(datagram)
		return err
	})

	if errors.Is(err, recovery.ErrPanic) {
		r.panics.Add(1)
		r.metrics.RecordPanic()
		return Dropped
	}

	switch outcome {
	case Discarded:
		r.discarded.Add(1)
		r.metrics.RecordDiscard()
	case Dropped:
		r.parseErrors.Add(1)
		r.metrics.RecordParseError()
		r.logError("dropping datagram", err)
	case SendFailed:
		if errors.Is(err, recovery.ErrPanic) {
			r.panics.Add(1)
			r.metrics.RecordPanic()
		}
		r.sendErrors.Add(1)
		r.metrics.RecordSendError()
		r.logError("failed to send response", err)
	case Replied:
		r.replies.Add(1)
	}
	return outcome
}

func (r *Responder) handle(datagram []byte) (Outcome, error) {
	start := time.Now()

	d, err := packet.Parse(datagram)
	if err != nil {
		return Dropped, err
	}
	if !d.IsEchoRequest() {
		r.logger.Debug("ignoring non-echo ICMP",
			logging.KeySource, d.Src.String(),
			logging.KeyICMPType, int(d.Type),
			logging.KeyICMPCode, d.Code)
		return Discarded, nil
	}

	r.requests.Add(1)
	r.metrics.RecordRequest()

	resp := r.cursor.Current()
	r.logger.Info("echo request",
		logging.KeySource, d.Src.String(),
		logging.KeyIdentifier, d.ID,
		logging.KeySequence, d.Seq,
		logging.KeyLabel, resp.Label,
		logging.KeyCursor, r.cursor.Index())

	pkt, err := Fabricate(d, resp)
	if err != nil {
		return Dropped, fmt.Errorf("fabricate %s: %w", resp.Label, err)
	}

	sendErr := recovery.Guard(r.logger, "send-response", func() error {
		return r.send.Send(pkt, d.Src)
	})
	r.advance()
	if sendErr != nil {
		return SendFailed, sendErr
	}

	elapsed := time.Since(start)
	r.metrics.RecordReply(uint8(resp.Type), resp.Code, len(pkt), elapsed.Seconds())
	r.logger.Debug("response sent",
		logging.KeyDestination, d.Src.String(),
		logging.KeyBytes, len(pkt),
		logging.KeyDuration, elapsed)
	return Replied, nil
}

// Fabricate builds the complete IPv4 datagram answering d with resp. The
// reply travels from d's destination back to d's source.
func Fabricate(d *packet.Datagram, resp registry.ResponseSpec) ([]byte, error) {
	var msg []byte
	if resp.IsEchoReply() {
		echo, err := d.Echo()
		if err != nil {
			return nil, err
		}
		msg = packet.EchoReply(uint16(echo.ID), uint16(echo.Seq), echo.Data)
	} else {
		msg = packet.ErrorMessage(resp.Type, resp.Code, d.Header, d.ICMP)
	}

	hdr, err := packet.IPv4Header(d.Dst, d.Src, len(msg))
	if err != nil {
		return nil, err
	}
	return append(hdr, msg...), nil
}

func (r *Responder) advance() {
	r.cursor.Advance()
	r.cursorIdx.Store(int32(r.cursor.Index()))
	r.metrics.SetCursor(r.cursor.Index())
}

func (r *Responder) logError(msg string, err error) {
	if err == nil || !r.errLog.Allow() {
		return
	}
	r.logger.Warn(msg, logging.KeyError, err)
}

func (r *Responder) close() {
	if err := r.recv.Close(); err != nil {
		r.logger.Warn("failed to close receive socket", logging.KeyError, err)
	}
	if err := r.send.Close(); err != nil {
		r.logger.Warn("failed to close send socket", logging.KeyError, err)
	}
}

// IsRunning reports whether Run is active.
func (r *Responder) IsRunning() bool {
	return r.running.Load()
}

// Stats returns a snapshot of the counters. It is safe to call from any
// goroutine.
func (r *Responder) Stats() Stats {
	idx := int(r.cursorIdx.Load())

	var started time.Time
	if ns := r.startedAt.Load(); ns != 0 {
		started = time.Unix(0, ns)
	}

	return Stats{
		Running:     r.running.Load(),
		StartedAt:   started,
		Cursor:      idx,
		Next:        registry.At(idx),
		Requests:    r.requests.Load(),
		Replies:     r.replies.Load(),
		Discarded:   r.discarded.Load(),
		ParseErrors: r.parseErrors.Load(),
		SendErrors:  r.sendErrors.Load(),
		Panics:      r.panics.Load(),
	}
}
