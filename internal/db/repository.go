package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for the notification system
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const physioColumns = `
	id, name, surname, email, finess, status,
	alta_date, baja_date, alta_notified_at, baja_notified_at,
	created_at, updated_at
`

func scanPhysio(row pgx.Row) (*Physio, error) {
	var p Physio
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Surname,
		&p.Email,
		&p.Finess,
		&p.Status,
		&p.AltaDate,
		&p.BajaDate,
		&p.AltaNotifiedAt,
		&p.BajaNotifiedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPhysio retrieves a physiotherapist by ID.
func (r *Repository) GetPhysio(ctx context.Context, id uuid.UUID) (*Physio, error) {
	query := `SELECT ` + physioColumns + ` FROM physios WHERE id = $1`

	p, err := scanPhysio(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("physio %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get physio",
			zap.Error(err),
			zap.String("physio_id", id.String()),
		)
		return nil, fmt.Errorf("query physio: %w", err)
	}

	return p, nil
}

func (r *Repository) listPhysios(ctx context.Context, query string, args ...any) ([]*Physio, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query physios: %w", err)
	}
	defer rows.Close()

	var physios []*Physio
	for rows.Next() {
		p, err := scanPhysio(rows)
		if err != nil {
			return nil, fmt.Errorf("scan physio: %w", err)
		}
		physios = append(physios, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return physios, nil
}

// ListActivePhysios returns every ACTIVE physio ordered by name ascending.
// The dispatch engine calls this once per subject to build the roster snapshot.
func (r *Repository) ListActivePhysios(ctx context.Context) ([]*Physio, error) {
	query := `SELECT ` + physioColumns + ` FROM physios WHERE status = $1 ORDER BY name ASC`
	return r.listPhysios(ctx, query, StatusActive)
}

// ListPhysiosByStatus returns physios filtered by status, or all when status is empty.
func (r *Repository) ListPhysiosByStatus(ctx context.Context, status string) ([]*Physio, error) {
	if status == "" {
		return r.listPhysios(ctx, `SELECT `+physioColumns+` FROM physios ORDER BY name ASC`)
	}
	query := `SELECT ` + physioColumns + ` FROM physios WHERE status = $1 ORDER BY name ASC`
	return r.listPhysios(ctx, query, status)
}

// ListPendingAltaNotice returns active physios whose onboarding notice has not
// been dispatched yet.
func (r *Repository) ListPendingAltaNotice(ctx context.Context) ([]*Physio, error) {
	query := `
		SELECT ` + physioColumns + `
		FROM physios
		WHERE status = $1 AND alta_notified_at IS NULL
		ORDER BY name ASC
	`
	return r.listPhysios(ctx, query, StatusActive)
}

// ListPendingBajaNotice returns active physios with an offboarding date set
// whose offboarding notice has not been dispatched yet. Status stays ACTIVE
// until the baja notice goes out.
func (r *Repository) ListPendingBajaNotice(ctx context.Context) ([]*Physio, error) {
	query := `
		SELECT ` + physioColumns + `
		FROM physios
		WHERE status = $1 AND baja_date IS NOT NULL AND baja_notified_at IS NULL
		ORDER BY name ASC
	`
	return r.listPhysios(ctx, query, StatusActive)
}

// CreatePhysio registers a new physiotherapist. New physios start ACTIVE
// with no notice dispatched yet.
func (r *Repository) CreatePhysio(ctx context.Context, p *Physio) error {
	query := `
		INSERT INTO physios (id, name, surname, email, finess, status, alta_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query, p.ID, p.Name, p.Surname, p.Email, p.Finess, p.Status, p.AltaDate)
	if err != nil {
		r.logger.Error("failed to create physio",
			zap.Error(err),
			zap.String("name", p.Name+" "+p.Surname),
		)
		return fmt.Errorf("insert physio: %w", err)
	}

	r.logger.Info("physio created",
		zap.String("physio_id", p.ID.String()),
		zap.String("name", p.Name+" "+p.Surname),
	)

	return nil
}

// SetBajaDate records a physio's offboarding date. The physio stays ACTIVE
// and eligible for the baja notice until that notice is dispatched.
func (r *Repository) SetBajaDate(ctx context.Context, id uuid.UUID, bajaDate time.Time) error {
	query := `
		UPDATE physios
		SET baja_date = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, bajaDate, id)
	if err != nil {
		return fmt.Errorf("update baja date: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("physio %s: %w", id, ErrNotFound)
	}

	r.logger.Info("physio baja date set",
		zap.String("physio_id", id.String()),
		zap.Time("baja_date", bajaDate),
	)

	return nil
}

// GetLatestContract returns the most recently uploaded contract for a physio.
func (r *Repository) GetLatestContract(ctx context.Context, physioID uuid.UUID) (*Contract, error) {
	query := `
		SELECT id, physio_id, file_name, file_path, uploaded_at
		FROM contracts
		WHERE physio_id = $1
		ORDER BY uploaded_at DESC
		LIMIT 1
	`

	var c Contract
	err := r.db.Pool().QueryRow(ctx, query, physioID).Scan(
		&c.ID,
		&c.PhysioID,
		&c.FileName,
		&c.FilePath,
		&c.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("contract for physio %s: %w", physioID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query contract: %w", err)
	}

	return &c, nil
}

// ListRecipients returns configured recipients, optionally including inactive ones.
func (r *Repository) ListRecipients(ctx context.Context, includeInactive bool) ([]*Recipient, error) {
	query := `SELECT id, name, email, role, active FROM recipients`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*Recipient
	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Email, &rec.Role, &rec.Active); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return recipients, nil
}

// ListActiveRecipients returns the recipients a dispatch batch may address.
func (r *Repository) ListActiveRecipients(ctx context.Context) ([]*Recipient, error) {
	return r.ListRecipients(ctx, false)
}

// CreateRecipient inserts a new recipient.
func (r *Repository) CreateRecipient(ctx context.Context, rec *Recipient) error {
	query := `
		INSERT INTO recipients (id, name, email, role, active)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query, rec.ID, rec.Name, rec.Email, rec.Role, rec.Active)
	if err != nil {
		r.logger.Error("failed to create recipient",
			zap.Error(err),
			zap.String("name", rec.Name),
		)
		return fmt.Errorf("insert recipient: %w", err)
	}

	r.logger.Info("recipient created",
		zap.String("recipient_id", rec.ID.String()),
		zap.String("role", rec.Role),
	)

	return nil
}

// UpdateRecipient updates a recipient's fields.
func (r *Repository) UpdateRecipient(ctx context.Context, rec *Recipient) error {
	query := `
		UPDATE recipients
		SET name = $1, email = $2, role = $3, active = $4
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, rec.Name, rec.Email, rec.Role, rec.Active, rec.ID)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("recipient %s: %w", rec.ID, ErrNotFound)
	}

	return nil
}

// GetTemplateByName retrieves an active template by its unique name.
func (r *Repository) GetTemplateByName(ctx context.Context, name string) (*Template, error) {
	query := `
		SELECT id, name, subject, body, active
		FROM templates
		WHERE name = $1 AND active
	`

	var t Template
	err := r.db.Pool().QueryRow(ctx, query, name).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	return &t, nil
}

// ListTemplates returns templates, optionally including inactive ones.
func (r *Repository) ListTemplates(ctx context.Context, includeInactive bool) ([]*Template, error) {
	query := `SELECT id, name, subject, body, active FROM templates`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY name ASC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Active); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return templates, nil
}

// CreateTemplate inserts a new template. Name uniqueness is enforced by the schema.
func (r *Repository) CreateTemplate(ctx context.Context, t *Template) error {
	query := `
		INSERT INTO templates (id, name, subject, body, active)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool().Exec(ctx, query, t.ID, t.Name, t.Subject, t.Body, t.Active)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	r.logger.Info("template created",
		zap.String("template_id", t.ID.String()),
		zap.String("name", t.Name),
	)

	return nil
}

// UpdateTemplate updates a template's fields.
func (r *Repository) UpdateTemplate(ctx context.Context, t *Template) error {
	query := `
		UPDATE templates
		SET name = $1, subject = $2, body = $3, active = $4
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, t.Name, t.Subject, t.Body, t.Active, t.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", t.ID, ErrNotFound)
	}

	return nil
}

// ListConfig returns every configuration entry ordered by key.
func (r *Repository) ListConfig(ctx context.Context) ([]*ConfigEntry, error) {
	query := `SELECT key, value, description, updated_at FROM configuration ORDER BY key ASC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query configuration: %w", err)
	}
	defer rows.Close()

	var entries []*ConfigEntry
	for rows.Next() {
		var e ConfigEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Description, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

// SetConfig creates or updates one configuration entry.
func (r *Repository) SetConfig(ctx context.Context, key, value, description string) error {
	query := `
		INSERT INTO configuration (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    description = COALESCE(NULLIF(EXCLUDED.description, ''), configuration.description),
		    updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query, key, value, description)
	if err != nil {
		return fmt.Errorf("upsert configuration: %w", err)
	}

	r.logger.Info("configuration updated", zap.String("key", key))

	return nil
}

// GetEmailConfig assembles the EmailConfig view from the SMTP_* subtree plus
// the sender address and signature keys.
func (r *Repository) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	query := `
		SELECT key, value FROM configuration
		WHERE key LIKE $1 OR key = $2 OR key = $3
	`

	rows, err := r.db.Pool().Query(ctx, query, ConfigPrefixSMTP+"%", ConfigKeySender, ConfigKeySignature)
	if err != nil {
		return nil, fmt.Errorf("query email config: %w", err)
	}
	defer rows.Close()

	cfg := EmailConfig{Port: DefaultSMTPPort}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan configuration: %w", err)
		}

		switch key {
		case ConfigKeySender:
			cfg.Sender = value
		case ConfigKeySignature:
			cfg.Signature = value
		default:
			switch strings.TrimPrefix(key, ConfigPrefixSMTP) {
			case "HOST":
				cfg.Host = value
			case "PORT":
				if p, err := strconv.Atoi(value); err == nil && p > 0 {
					cfg.Port = p
				}
			case "SECURE":
				cfg.Secure = value == "true"
			case "USER":
				cfg.User = value
			case "PASSWORD":
				cfg.Password = value
			}
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &cfg, nil
}
