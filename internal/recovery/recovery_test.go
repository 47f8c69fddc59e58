package recovery

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestRecoverWithLog_RecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		defer RecoverWithLog(logger, "testGoroutine")
		panic("test panic")
	}()

	wg.Wait()

	output := buf.String()
	if !strings.Contains(output, "panic recovered") {
		t.Errorf("expected 'panic recovered' in output, got: %s", output)
	}
	if !strings.Contains(output, "testGoroutine") {
		t.Errorf("expected goroutine name in output, got: %s", output)
	}
	if !strings.Contains(output, "stack=") {
		t.Errorf("expected stack trace in output, got: %s", output)
	}
}

func TestRecoverWithLog_NoopOnNoPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	func() {
		defer RecoverWithLog(logger, "quiet")
	}()

	if buf.Len() > 0 {
		t.Errorf("expected no output when no panic, got: %s", buf.String())
	}
}

func TestGuard_ReturnsError(t *testing.T) {
	want := errors.New("boom")
	err := Guard(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), "datagram", func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("Guard() error = %v, want %v", err, want)
	}
}

func TestGuard_ConvertsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	err := Guard(logger, "datagram", func() error {
		var b []byte
		_ = b[4]
		return nil
	})

	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Guard() error = %v, want ErrPanic", err)
	}
	if !strings.Contains(err.Error(), "datagram") {
		t.Errorf("error %q does not name the guarded operation", err)
	}
	if !strings.Contains(buf.String(), "index out of range") {
		t.Errorf("expected panic value in log, got: %s", buf.String())
	}
}

func TestGuard_NilOnSuccess(t *testing.T) {
	if err := Guard(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), "ok", func() error { return nil }); err != nil {
		t.Errorf("Guard() error = %v, want nil", err)
	}
}
