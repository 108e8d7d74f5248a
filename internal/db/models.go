package db

import (
	"time"

	"github.com/google/uuid"
)

// Physio represents a contracted physiotherapist tracked by the system.
type Physio struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Surname        string     `json:"surname"`
	Email          string     `json:"email"`
	Finess         string     `json:"finess"`
	Status         string     `json:"status"`
	AltaDate       time.Time  `json:"alta_date"`
	BajaDate       *time.Time `json:"baja_date,omitempty"`
	AltaNotifiedAt *time.Time `json:"alta_notified_at,omitempty"`
	BajaNotifiedAt *time.Time `json:"baja_notified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Physio status constants
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Notification kind constants
const (
	KindAlta = "ALTA"
	KindBaja = "BAJA"
)

// Delivery status constants shared by Notification and NotificationRecipient
const (
	DeliverySent   = "SENT"
	DeliveryFailed = "FAILED"
)

// Recipient role constants. Role is the structural key used to decide which
// configured recipient plays each part of a dispatch; the display name is
// free text and no longer drives resolution.
const (
	RoleBoard          = "BOARD"
	RoleSocialSecurity = "SOCIAL_SECURITY"
	RoleSelf           = "SELF"
)

// Contract is file metadata for a signed contract bound to one physio.
// When a physio has several, the most recent upload wins.
type Contract struct {
	ID         uuid.UUID `json:"id"`
	PhysioID   uuid.UUID `json:"physio_id"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Recipient is an external party that receives dispatch emails.
type Recipient struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	Active bool      `json:"active"`
}

// Template is a stored subject/body email template, looked up by unique name
// (ALTA_BOARD, BAJA_PROFESSIONAL, ...) at dispatch time.
type Template struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Active  bool      `json:"active"`
}

// Notification is one dispatch attempt for one physio and kind. Its Status
// reflects intent at creation time; per-recipient rows are the delivery truth.
type Notification struct {
	ID         uuid.UUID               `json:"id"`
	PhysioID   uuid.UUID               `json:"physio_id"`
	PhysioName string                  `json:"physio_name,omitempty"`
	Kind       string                  `json:"kind"`
	SentAt     time.Time               `json:"sent_at"`
	Status     string                  `json:"status"`
	Recipients []NotificationRecipient `json:"recipients,omitempty"`
}

// NotificationRecipient records the delivery outcome for one recipient of
// one notification.
type NotificationRecipient struct {
	ID             uuid.UUID `json:"id"`
	NotificationID uuid.UUID `json:"notification_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	RecipientName  string    `json:"recipient_name,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	Status         string    `json:"status"`
}

// ConfigEntry is one key/value row of the flat configuration store.
type ConfigEntry struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmailConfig is the view over the configuration store consumed by the
// dispatch engine: the SMTP_* subtree plus the sender address and signature.
type EmailConfig struct {
	Host      string
	Port      int
	Secure    bool
	User      string
	Password  string
	Sender    string
	Signature string
}

// Complete reports whether the config carries everything a batch needs.
func (c EmailConfig) Complete() bool {
	return c.Host != "" && c.User != "" && c.Password != ""
}

// Reserved configuration keys composing EmailConfig.
const (
	ConfigPrefixSMTP   = "SMTP_"
	ConfigKeySender    = "SENDER_EMAIL"
	ConfigKeySignature = "EMAIL_SIGNATURE"
	DefaultSMTPPort    = 587
)
