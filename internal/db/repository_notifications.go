package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DispatchStore is the write surface available inside one per-subject dispatch
// scope. Everything written through it commits or rolls back together, so a
// crash mid-subject cannot leave a notification row without its recipient rows
// or a recorded delivery without the physio's timestamp update.
type DispatchStore interface {
	CreateNotification(ctx context.Context, notif *Notification) error
	AddNotificationRecipient(ctx context.Context, notificationID, recipientID uuid.UUID, status string) error
	MarkAltaNotified(ctx context.Context, physioID uuid.UUID, at time.Time) error
	MarkBajaNotified(ctx context.Context, physioID uuid.UUID, at time.Time) error
}

// DispatchTx runs fn inside a transaction exposing the DispatchStore surface.
func (r *Repository) DispatchTx(ctx context.Context, fn func(DispatchStore) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&dispatchStore{tx: tx, logger: r.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

type dispatchStore struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (s *dispatchStore) CreateNotification(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (id, physio_id, kind, sent_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.tx.Exec(ctx, query, notif.ID, notif.PhysioID, notif.Kind, notif.SentAt, notif.Status)
	if err != nil {
		s.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("physio_id", notif.PhysioID.String()),
			zap.String("kind", notif.Kind),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

func (s *dispatchStore) AddNotificationRecipient(ctx context.Context, notificationID, recipientID uuid.UUID, status string) error {
	query := `
		INSERT INTO notification_recipients (id, notification_id, recipient_id, status)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.tx.Exec(ctx, query, uuid.New(), notificationID, recipientID, status)
	if err != nil {
		return fmt.Errorf("insert notification recipient: %w", err)
	}

	return nil
}

func (s *dispatchStore) MarkAltaNotified(ctx context.Context, physioID uuid.UUID, at time.Time) error {
	query := `
		UPDATE physios
		SET alta_notified_at = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := s.tx.Exec(ctx, query, at, physioID)
	if err != nil {
		return fmt.Errorf("mark alta notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("physio %s: %w", physioID, ErrNotFound)
	}

	return nil
}

func (s *dispatchStore) MarkBajaNotified(ctx context.Context, physioID uuid.UUID, at time.Time) error {
	query := `
		UPDATE physios
		SET status = $1, baja_notified_at = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := s.tx.Exec(ctx, query, StatusInactive, at, physioID)
	if err != nil {
		return fmt.Errorf("mark baja notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("physio %s: %w", physioID, ErrNotFound)
	}

	return nil
}

// ListNotifications retrieves the dispatch history, newest first, with
// per-recipient delivery statuses attached. Kind and physioID filter when set.
func (r *Repository) ListNotifications(ctx context.Context, kind string, physioID *uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT n.id, n.physio_id, p.name || ' ' || p.surname, n.kind, n.sent_at, n.status
		FROM notifications n
		JOIN physios p ON n.physio_id = p.id
		WHERE 1=1
	`

	args := []any{}
	if kind != "" {
		args = append(args, kind)
		query += fmt.Sprintf(" AND n.kind = $%d", len(args))
	}
	if physioID != nil {
		args = append(args, *physioID)
		query += fmt.Sprintf(" AND n.physio_id = $%d", len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY n.sent_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.PhysioID, &n.PhysioName, &n.Kind, &n.SentAt, &n.Status); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for _, n := range notifications {
		recipients, err := r.listNotificationRecipients(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		n.Recipients = recipients
	}

	return notifications, nil
}

// GetNotification retrieves one notification with its recipient statuses.
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		SELECT n.id, n.physio_id, p.name || ' ' || p.surname, n.kind, n.sent_at, n.status
		FROM notifications n
		JOIN physios p ON n.physio_id = p.id
		WHERE n.id = $1
	`

	var n Notification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&n.ID, &n.PhysioID, &n.PhysioName, &n.Kind, &n.SentAt, &n.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	recipients, err := r.listNotificationRecipients(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	n.Recipients = recipients

	return &n, nil
}

func (r *Repository) listNotificationRecipients(ctx context.Context, notificationID uuid.UUID) ([]NotificationRecipient, error) {
	query := `
		SELECT nr.id, nr.notification_id, nr.recipient_id, d.name, d.email, nr.status
		FROM notification_recipients nr
		JOIN recipients d ON nr.recipient_id = d.id
		WHERE nr.notification_id = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query notification recipients: %w", err)
	}
	defer rows.Close()

	var recipients []NotificationRecipient
	for rows.Next() {
		var nr NotificationRecipient
		if err := rows.Scan(&nr.ID, &nr.NotificationID, &nr.RecipientID, &nr.RecipientName, &nr.RecipientEmail, &nr.Status); err != nil {
			return nil, fmt.Errorf("scan notification recipient: %w", err)
		}
		recipients = append(recipients, nr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return recipients, nil
}
