// Package dispatch implements the notification dispatch engine: for a batch
// of physios and an event kind (alta or baja), it renders templated emails,
// sends them to the configured structural recipients over one SMTP
// connection, and records per-recipient delivery outcome alongside the
// physio's notification state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/msanchis/physionotify/internal/db"
	"github.com/msanchis/physionotify/internal/mail"
	"github.com/msanchis/physionotify/internal/metrics"
)

// Batch-abort errors. Any of these means zero physios were processed and
// zero messages were sent.
var (
	ErrInvalidInput    = errors.New("a non-empty list of physio ids is required")
	ErrInvalidConfig   = errors.New("email configuration is incomplete")
	ErrMissingTemplate = errors.New("missing email template")
)

// Repository is the read/write surface the engine needs from persistence.
type Repository interface {
	GetEmailConfig(ctx context.Context) (*db.EmailConfig, error)
	ListActiveRecipients(ctx context.Context) ([]*db.Recipient, error)
	GetTemplateByName(ctx context.Context, name string) (*db.Template, error)
	GetPhysio(ctx context.Context, id uuid.UUID) (*db.Physio, error)
	GetLatestContract(ctx context.Context, physioID uuid.UUID) (*db.Contract, error)
	ListActivePhysios(ctx context.Context) ([]*db.Physio, error)
	DispatchTx(ctx context.Context, fn func(db.DispatchStore) error) error
}

// Mailer is the transport for one batch. Send failures are per-message and
// degrade to FAILED audit rows; they never abort a subject.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
	Close() error
}

// MailerFactory builds the batch-scoped transport from the stored email
// configuration. Implementations must not touch the network at construction
// time; connectivity problems surface on the first Send.
type MailerFactory func(cfg db.EmailConfig) Mailer

// Result is the outcome for one physio in a batch.
type Result struct {
	PhysioID       uuid.UUID  `json:"physio_id"`
	Success        bool       `json:"success"`
	NotificationID *uuid.UUID `json:"notification_id,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Config holds engine settings.
type Config struct {
	// TempDir is where per-subject roster snapshots are written.
	TempDir string
}

// Engine executes dispatch batches. Subjects are processed strictly one
// after another: the SMTP connection is shared and mail servers rate-limit
// concurrent connections.
type Engine struct {
	repo      Repository
	newMailer MailerFactory
	tempDir   string
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a dispatch engine.
func New(repo Repository, newMailer MailerFactory, cfg Config, logger *zap.Logger) *Engine {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	return &Engine{
		repo:      repo,
		newMailer: newMailer,
		tempDir:   cfg.TempDir,
		logger:    logger,
		now:       time.Now,
	}
}

func templateNames(kind string) (board, socialSecurity, professional string) {
	return kind + "_BOARD", kind + "_SOCIAL_SECURITY", kind + "_PROFESSIONAL"
}

// Dispatch runs one batch for the given kind over the given physio ids.
//
// Preconditions (checked before any subject is touched): non-empty id list,
// complete email configuration, all three templates for the kind present.
// After that, each physio succeeds or fails independently; the returned slice
// has one Result per requested id, in order. An error return means the whole
// batch was aborted with no work done.
func (e *Engine) Dispatch(ctx context.Context, kind string, physioIDs []uuid.UUID) ([]Result, error) {
	if kind != db.KindAlta && kind != db.KindBaja {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, kind)
	}
	if len(physioIDs) == 0 {
		return nil, ErrInvalidInput
	}

	emailCfg, err := e.repo.GetEmailConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load email config: %w", err)
	}
	if !emailCfg.Complete() {
		return nil, ErrInvalidConfig
	}

	boardName, socialName, professionalName := templateNames(kind)
	templates := make(map[string]compiledTemplate, 3)
	for _, name := range []string{boardName, socialName, professionalName} {
		t, err := e.repo.GetTemplateByName(ctx, name)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, name)
		}
		if err != nil {
			return nil, fmt.Errorf("load template %s: %w", name, err)
		}
		templates[name] = compileTemplate(t)
	}

	recipients, err := e.repo.ListActiveRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	roles := ResolveRoles(recipients, e.logger)

	mailer := e.newMailer(*emailCfg)
	defer func() {
		if err := mailer.Close(); err != nil {
			e.logger.Warn("failed to close mail transport", zap.Error(err))
		}
	}()

	e.logger.Info("dispatch batch started",
		zap.String("kind", kind),
		zap.Int("physios", len(physioIDs)),
	)

	start := e.now()
	results := make([]Result, 0, len(physioIDs))
	for _, id := range physioIDs {
		result := e.processPhysio(ctx, kind, id, templates, roles, emailCfg, mailer)
		metrics.RecordDispatchSubject(kind, result.Success)
		results = append(results, result)
	}
	metrics.RecordBatchDuration(kind, e.now().Sub(start))

	e.logger.Info("dispatch batch finished",
		zap.String("kind", kind),
		zap.Duration("duration", e.now().Sub(start)),
	)

	return results, nil
}

// processPhysio runs steps for one physio. All failures are captured into the
// Result so one physio cannot abort the batch.
func (e *Engine) processPhysio(
	ctx context.Context,
	kind string,
	physioID uuid.UUID,
	templates map[string]compiledTemplate,
	roles Roles,
	emailCfg *db.EmailConfig,
	mailer Mailer,
) Result {
	failure := func(msg string) Result {
		e.logger.Warn("physio dispatch failed",
			zap.String("physio_id", physioID.String()),
			zap.String("kind", kind),
			zap.String("error", msg),
		)
		return Result{PhysioID: physioID, Success: false, Error: msg}
	}

	physio, err := e.repo.GetPhysio(ctx, physioID)
	if errors.Is(err, db.ErrNotFound) {
		return failure("physio not found")
	}
	if err != nil {
		return failure(err.Error())
	}

	var contract *db.Contract
	var eventDate time.Time
	switch kind {
	case db.KindAlta:
		contract, err = e.repo.GetLatestContract(ctx, physioID)
		if errors.Is(err, db.ErrNotFound) {
			return failure("contract not found")
		}
		if err != nil {
			return failure(err.Error())
		}
		eventDate = physio.AltaDate
	case db.KindBaja:
		if physio.BajaDate == nil {
			return failure("physio has no baja date")
		}
		eventDate = *physio.BajaDate
	}

	// One roster snapshot per subject: the roster can change while a long
	// batch runs, and each message must carry the state at its send time.
	actives, err := e.repo.ListActivePhysios(ctx)
	if err != nil {
		return failure(err.Error())
	}

	rosterPath, err := WriteRoster(e.tempDir, actives, e.now())
	if err != nil {
		return failure(err.Error())
	}
	defer func() {
		if err := os.Remove(rosterPath); err != nil {
			e.logger.Warn("failed to remove roster snapshot",
				zap.String("path", rosterPath),
				zap.Error(err),
			)
		}
	}()

	data := map[string]any{
		"professional": map[string]any{
			"name":  physio.Name + " " + physio.Surname,
			"date":  FormatDate(eventDate),
			"email": physio.Email,
		},
		"config": map[string]any{
			"signature": emailCfg.Signature,
		},
	}

	rosterAttachment := mail.Attachment{Filename: RosterAttachmentName, Path: rosterPath}
	var externalAttachments, selfAttachments []mail.Attachment
	switch kind {
	case db.KindAlta:
		contractAttachment := mail.Attachment{Filename: contract.FileName, Path: contract.FilePath}
		externalAttachments = []mail.Attachment{contractAttachment, rosterAttachment}
		selfAttachments = externalAttachments
	case db.KindBaja:
		externalAttachments = []mail.Attachment{rosterAttachment}
		// The professional's own baja message carries no attachments.
		selfAttachments = nil
	}

	notifID := uuid.New()
	sentAt := e.now()

	boardName, socialName, professionalName := templateNames(kind)

	// The notification row, its per-recipient outcomes, and the physio's
	// state update commit together. The notification is created with status
	// SENT before any delivery attempt: it records intent, and the recipient
	// rows are the delivery truth.
	err = e.repo.DispatchTx(ctx, func(store db.DispatchStore) error {
		if err := store.CreateNotification(ctx, &db.Notification{
			ID:       notifID,
			PhysioID: physioID,
			Kind:     kind,
			SentAt:   sentAt,
			Status:   db.DeliverySent,
		}); err != nil {
			return err
		}

		if roles.Board != nil {
			if err := e.sendAndRecord(ctx, store, mailer, notifID, roles.Board, db.RoleBoard,
				templates[boardName], data, emailCfg.Sender, externalAttachments); err != nil {
				return err
			}
		}

		if roles.SocialSecurity != nil {
			if err := e.sendAndRecord(ctx, store, mailer, notifID, roles.SocialSecurity, db.RoleSocialSecurity,
				templates[socialName], data, emailCfg.Sender, externalAttachments); err != nil {
				return err
			}
		}

		if physio.Email != "" {
			subject, body := templates[professionalName].render(data)
			sendErr := mailer.Send(ctx, mail.Message{
				From:        emailCfg.Sender,
				To:          physio.Email,
				Subject:     subject,
				HTML:        body,
				Attachments: selfAttachments,
			})
			status := db.DeliverySent
			if sendErr != nil {
				status = db.DeliveryFailed
				e.logger.Error("failed to send to professional",
					zap.Error(sendErr),
					zap.String("physio_id", physioID.String()),
				)
			}
			metrics.RecordDispatchMessage(db.RoleSelf, status)
			if roles.Self != nil {
				if err := store.AddNotificationRecipient(ctx, notifID, roles.Self.ID, status); err != nil {
					return err
				}
			}
		}

		switch kind {
		case db.KindAlta:
			return store.MarkAltaNotified(ctx, physioID, sentAt)
		default:
			return store.MarkBajaNotified(ctx, physioID, sentAt)
		}
	})
	if err != nil {
		return failure(err.Error())
	}

	e.logger.Info("physio dispatched",
		zap.String("physio_id", physioID.String()),
		zap.String("kind", kind),
		zap.String("notification_id", notifID.String()),
	)

	return Result{PhysioID: physioID, Success: true, NotificationID: &notifID}
}

// sendAndRecord sends one message to a structural recipient and records the
// delivery outcome. Transport errors degrade to a FAILED row; only the audit
// write itself can propagate an error.
func (e *Engine) sendAndRecord(
	ctx context.Context,
	store db.DispatchStore,
	mailer Mailer,
	notificationID uuid.UUID,
	recipient *db.Recipient,
	role string,
	tmpl compiledTemplate,
	data map[string]any,
	sender string,
	attachments []mail.Attachment,
) error {
	subject, body := tmpl.render(data)

	sendErr := mailer.Send(ctx, mail.Message{
		From:        sender,
		To:          recipient.Email,
		Subject:     subject,
		HTML:        body,
		Attachments: attachments,
	})

	status := db.DeliverySent
	if sendErr != nil {
		status = db.DeliveryFailed
		e.logger.Error("failed to send to recipient",
			zap.Error(sendErr),
			zap.String("role", role),
			zap.String("recipient", recipient.Email),
		)
	}

	metrics.RecordDispatchMessage(role, status)

	return store.AddNotificationRecipient(ctx, notificationID, recipient.ID, status)
}
