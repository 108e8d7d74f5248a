package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/msanchis/physionotify/internal/mail"
)

// Mailer mirrors the dispatch engine's transport interface to avoid a
// package cycle.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
	Close() error
}

// ProtectedMailer wraps a Mailer with a CircuitBreaker. Once the SMTP server
// has failed repeatedly, remaining sends in the batch fail fast and are
// recorded as FAILED without waiting out another transport timeout each.
type ProtectedMailer struct {
	mailer  Mailer
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedMailer wraps a mailer with circuit breaker protection.
func NewProtectedMailer(mailer Mailer, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedMailer {
	return &ProtectedMailer{
		mailer:  mailer,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts the send through the breaker.
func (p *ProtectedMailer) Send(ctx context.Context, msg mail.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("to", msg.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.mailer.Send(ctx, msg)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Close closes the underlying mailer.
func (p *ProtectedMailer) Close() error {
	return p.mailer.Close()
}
