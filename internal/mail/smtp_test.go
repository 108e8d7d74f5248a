package mail

import (
	"context"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap"
)

type fakeConn struct {
	sends  int
	failed bool
	closed bool
}

func (c *fakeConn) Send(from string, to []string, msg io.WriterTo) error {
	c.sends++
	if c.failed {
		return errors.New("connection reset")
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestSendReusesConnection(t *testing.T) {
	conn := &fakeConn{}
	s := NewSMTP(SMTPConfig{Host: "smtp.example.org", Port: 587}, zap.NewNop())
	s.conn = conn

	msg := Message{From: "a@example.org", To: "b@example.org", Subject: "hi", HTML: "<p>hi</p>"}
	for i := 0; i < 2; i++ {
		if err := s.Send(context.Background(), msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	if conn.sends != 2 {
		t.Errorf("expected 2 sends on the same connection, got %d", conn.sends)
	}
	if s.conn != conn {
		t.Error("healthy connection should stay cached")
	}
}

func TestSendFailureDropsConnection(t *testing.T) {
	conn := &fakeConn{failed: true}
	s := NewSMTP(SMTPConfig{Host: "smtp.example.org", Port: 587}, zap.NewNop())
	s.conn = conn

	msg := Message{From: "a@example.org", To: "b@example.org", Subject: "hi", HTML: "<p>hi</p>"}
	if err := s.Send(context.Background(), msg); err == nil {
		t.Fatal("expected send failure")
	}

	if s.conn != nil {
		t.Error("failed connection must not stay cached")
	}
	if !conn.closed {
		t.Error("failed connection should be closed before being dropped")
	}
}

func TestSendCancelledContext(t *testing.T) {
	conn := &fakeConn{}
	s := NewSMTP(SMTPConfig{Host: "smtp.example.org", Port: 587}, zap.NewNop())
	s.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Send(ctx, Message{To: "b@example.org"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if conn.sends != 0 {
		t.Errorf("no send should happen after cancellation, got %d", conn.sends)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.org", Port: 587}, zap.NewNop())
	if err := s.Close(); err != nil {
		t.Fatalf("Close on idle transport: %v", err)
	}
}
