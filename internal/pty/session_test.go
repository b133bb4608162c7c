package pty

import (
	"strings"
	"testing"
	"time"
)

// collect drains the output channel until it closes or the timeout fires.
func collect(t *testing.T, s *Session, timeout time.Duration) string {
	t.Helper()

	var out strings.Builder
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				return out.String()
			}
			out.Write(chunk)
		case <-deadline:
			t.Fatal("timed out waiting for output")
		}
	}
}

func TestStartAndOutput(t *testing.T) {
	s, err := Start([]string{"echo", "hello-pty"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	out := collect(t, s, 5*time.Second)
	if !strings.Contains(out, "hello-pty") {
		t.Errorf("expected output to contain %q, got %q", "hello-pty", out)
	}
	if err := s.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestStartEmptyArgv(t *testing.T) {
	if _, err := Start(nil); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	s, err := Start([]string{"cat"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if err := s.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var out strings.Builder
	for !strings.Contains(out.String(), "ping") {
		select {
		case chunk, ok := <-s.Output():
			if !ok {
				t.Fatalf("stream ended early, got %q", out.String())
			}
			out.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out, got %q", out.String())
		}
	}
}

func TestResize(t *testing.T) {
	s, err := Start([]string{"sleep", "10"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	if err := s.Resize(200, 50); err != nil {
		t.Fatalf("Resize: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := Start([]string{"sleep", "10"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = s.Close()

	if err := s.Write([]byte("x")); err == nil {
		t.Error("expected write to closed session to fail")
	}
	if err := s.Resize(80, 24); err == nil {
		t.Error("expected resize of closed session to fail")
	}
}
