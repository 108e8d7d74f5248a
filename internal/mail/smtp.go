// Package mail provides the SMTP transport used by the dispatch engine.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"

	gomail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// Attachment references a file on disk to attach under a given name.
type Attachment struct {
	Filename string
	Path     string
}

// Message is one outgoing email.
type Message struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// SMTPConfig holds the transport parameters, sourced from the
// configuration store's SMTP_* subtree.
type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool
	User     string
	Password string
}

// SMTP sends messages over one SMTP connection. Construction does not touch
// the network; the connection is dialed on the first Send and reused until
// Close. Not safe for concurrent use — dispatch batches are sequential.
type SMTP struct {
	dialer *gomail.Dialer
	conn   gomail.SendCloser
	logger *zap.Logger
}

// NewSMTP creates an SMTP transport from the given config.
func NewSMTP(cfg SMTPConfig, logger *zap.Logger) *SMTP {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.SSL = cfg.Secure
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}

	return &SMTP{
		dialer: d,
		logger: logger,
	}
}

// Send delivers one message, dialing the server if no connection is open yet.
func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.conn == nil {
		conn, err := s.dialer.Dial()
		if err != nil {
			return fmt.Errorf("smtp dial: %w", err)
		}
		s.conn = conn
		s.logger.Debug("smtp connection established",
			zap.String("host", s.dialer.Host),
			zap.Int("port", s.dialer.Port),
		)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)
	for _, a := range msg.Attachments {
		m.Attach(a.Path, gomail.Rename(a.Filename))
	}

	if err := gomail.Send(s.conn, m); err != nil {
		// The connection may be dead; drop it so the next Send redials.
		_ = s.conn.Close()
		s.conn = nil
		s.logger.Error("smtp send failed",
			zap.Error(err),
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
		)
		return fmt.Errorf("smtp send: %w", err)
	}

	s.logger.Info("email sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)

	return nil
}

// Close releases the connection if one was opened.
func (s *SMTP) Close() error {
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	return conn.Close()
}
