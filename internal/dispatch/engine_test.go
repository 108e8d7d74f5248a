package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/msanchis/physionotify/internal/db"
	"github.com/msanchis/physionotify/internal/mail"
)

var errSMTPDown = errors.New("smtp connection refused")

// fakeStore records transactional writes in memory.
type fakeStore struct {
	notifications []*db.Notification
	recipients    []recordedRecipient
	altaNotified  []uuid.UUID
	bajaNotified  []uuid.UUID

	failRecipientWrite bool
}

type recordedRecipient struct {
	notificationID uuid.UUID
	recipientID    uuid.UUID
	status         string
}

func (s *fakeStore) CreateNotification(ctx context.Context, notif *db.Notification) error {
	s.notifications = append(s.notifications, notif)
	return nil
}

func (s *fakeStore) AddNotificationRecipient(ctx context.Context, notificationID, recipientID uuid.UUID, status string) error {
	if s.failRecipientWrite {
		return errors.New("insert notification_recipients: connection reset")
	}
	s.recipients = append(s.recipients, recordedRecipient{notificationID, recipientID, status})
	return nil
}

func (s *fakeStore) MarkAltaNotified(ctx context.Context, physioID uuid.UUID, at time.Time) error {
	s.altaNotified = append(s.altaNotified, physioID)
	return nil
}

func (s *fakeStore) MarkBajaNotified(ctx context.Context, physioID uuid.UUID, at time.Time) error {
	s.bajaNotified = append(s.bajaNotified, physioID)
	return nil
}

// fakeRepo is an in-memory Repository. Transactions are simulated: writes go
// to a scratch store and merge into committed only when fn succeeds.
type fakeRepo struct {
	emailCfg   *db.EmailConfig
	templates  map[string]*db.Template
	recipients []*db.Recipient
	physios    map[uuid.UUID]*db.Physio
	contracts  map[uuid.UUID]*db.Contract

	committed          fakeStore
	rollbacks          int
	failRecipientWrite bool
}

func (r *fakeRepo) GetEmailConfig(ctx context.Context) (*db.EmailConfig, error) {
	return r.emailCfg, nil
}

func (r *fakeRepo) ListActiveRecipients(ctx context.Context) ([]*db.Recipient, error) {
	return r.recipients, nil
}

func (r *fakeRepo) GetTemplateByName(ctx context.Context, name string) (*db.Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, db.ErrNotFound
	}
	return t, nil
}

func (r *fakeRepo) GetPhysio(ctx context.Context, id uuid.UUID) (*db.Physio, error) {
	p, ok := r.physios[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetLatestContract(ctx context.Context, physioID uuid.UUID) (*db.Contract, error) {
	c, ok := r.contracts[physioID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) ListActivePhysios(ctx context.Context) ([]*db.Physio, error) {
	var actives []*db.Physio
	for _, p := range r.physios {
		if p.Status == db.StatusActive {
			actives = append(actives, p)
		}
	}
	return actives, nil
}

func (r *fakeRepo) DispatchTx(ctx context.Context, fn func(db.DispatchStore) error) error {
	scratch := &fakeStore{failRecipientWrite: r.failRecipientWrite}
	if err := fn(scratch); err != nil {
		r.rollbacks++
		return err
	}
	r.committed.notifications = append(r.committed.notifications, scratch.notifications...)
	r.committed.recipients = append(r.committed.recipients, scratch.recipients...)
	r.committed.altaNotified = append(r.committed.altaNotified, scratch.altaNotified...)
	r.committed.bajaNotified = append(r.committed.bajaNotified, scratch.bajaNotified...)
	return nil
}

// fakeMailer records sends and can fail selectively by recipient address.
type fakeMailer struct {
	sent    []mail.Message
	failTo  map[string]error
	failAll error
	closed  bool
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.failAll != nil {
		return m.failAll
	}
	if err, ok := m.failTo[msg.To]; ok {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) Close() error {
	m.closed = true
	return nil
}

var (
	boardID  = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	socialID = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	selfID   = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
)

func testRecipients() []*db.Recipient {
	return []*db.Recipient{
		{ID: boardID, Name: "Colegio de Fisioterapeutas", Email: "board@example.org", Role: db.RoleBoard, Active: true},
		{ID: socialID, Name: "Seguridad Social", Email: "social@example.org", Role: db.RoleSocialSecurity, Active: true},
		{ID: selfID, Name: "Profesional", Email: "", Role: db.RoleSelf, Active: true},
	}
}

func testTemplates() map[string]*db.Template {
	names := []string{
		"ALTA_BOARD", "ALTA_SOCIAL_SECURITY", "ALTA_PROFESSIONAL",
		"BAJA_BOARD", "BAJA_SOCIAL_SECURITY", "BAJA_PROFESSIONAL",
	}
	m := make(map[string]*db.Template, len(names))
	for _, name := range names {
		m[name] = &db.Template{
			ID:      uuid.New(),
			Name:    name,
			Subject: "Aviso {{professional.name}}",
			Body:    "<p>{{professional.name}} con fecha {{professional.date}}</p><p>{{config.signature}}</p>",
			Active:  true,
		}
	}
	return m
}

func testEmailConfig() *db.EmailConfig {
	return &db.EmailConfig{
		Host:      "smtp.example.org",
		Port:      587,
		User:      "notifier",
		Password:  "secret",
		Sender:    "noreply@example.org",
		Signature: "Servicio de Fisioterapia",
	}
}

func newTestRepo(t *testing.T) (*fakeRepo, uuid.UUID) {
	t.Helper()

	physioID := uuid.New()
	alta := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

	repo := &fakeRepo{
		emailCfg:   testEmailConfig(),
		templates:  testTemplates(),
		recipients: testRecipients(),
		physios: map[uuid.UUID]*db.Physio{
			physioID: {
				ID:       physioID,
				Name:     "Marta",
				Surname:  "Vidal",
				Email:    "marta@example.org",
				Finess:   "123456789",
				Status:   db.StatusActive,
				AltaDate: alta,
			},
		},
		contracts: map[uuid.UUID]*db.Contract{
			physioID: {
				ID:       uuid.New(),
				PhysioID: physioID,
				FileName: "contrato_marta.pdf",
				FilePath: "/contracts/contrato_marta.pdf",
			},
		},
	}

	return repo, physioID
}

func newTestEngine(t *testing.T, repo *fakeRepo, mailer *fakeMailer) *Engine {
	t.Helper()

	factory := func(cfg db.EmailConfig) Mailer { return mailer }
	return New(repo, factory, Config{TempDir: t.TempDir()}, zap.NewNop())
}

func TestDispatchValidation(t *testing.T) {
	repo, physioID := newTestRepo(t)
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)
	ctx := context.Background()

	tests := []struct {
		name      string
		kind      string
		physioIDs []uuid.UUID
		mutate    func(*fakeRepo)
		wantErr   error
	}{
		{
			name:      "empty id list",
			kind:      db.KindAlta,
			physioIDs: nil,
			wantErr:   ErrInvalidInput,
		},
		{
			name:      "unknown kind",
			kind:      "RENEWAL",
			physioIDs: []uuid.UUID{physioID},
			wantErr:   ErrInvalidInput,
		},
		{
			name:      "incomplete email config",
			kind:      db.KindAlta,
			physioIDs: []uuid.UUID{physioID},
			mutate: func(r *fakeRepo) {
				r.emailCfg = &db.EmailConfig{Host: "smtp.example.org"}
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name:      "missing template",
			kind:      db.KindAlta,
			physioIDs: []uuid.UUID{physioID},
			mutate: func(r *fakeRepo) {
				delete(r.templates, "ALTA_SOCIAL_SECURITY")
			},
			wantErr: ErrMissingTemplate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, physioID := newTestRepo(t)
			_ = physioID
			mailer := &fakeMailer{}
			engine = newTestEngine(t, repo, mailer)
			if tt.mutate != nil {
				tt.mutate(repo)
			}

			results, err := engine.Dispatch(ctx, tt.kind, tt.physioIDs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if results != nil {
				t.Errorf("expected nil results on batch abort, got %d", len(results))
			}
			if len(repo.committed.notifications) != 0 {
				t.Errorf("batch abort must write nothing, got %d notifications", len(repo.committed.notifications))
			}
			if len(mailer.sent) != 0 {
				t.Errorf("batch abort must send nothing, got %d messages", len(mailer.sent))
			}
		})
	}
}

func TestDispatchAltaSuccess(t *testing.T) {
	repo, physioID := newTestRepo(t)
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success {
		t.Fatalf("expected success, got error %q", results[0].Error)
	}
	if results[0].NotificationID == nil {
		t.Fatal("expected notification id on success")
	}

	// One notification row with three recipient outcomes.
	if len(repo.committed.notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(repo.committed.notifications))
	}
	notif := repo.committed.notifications[0]
	if notif.Kind != db.KindAlta || notif.Status != db.DeliverySent {
		t.Errorf("unexpected notification row: kind=%s status=%s", notif.Kind, notif.Status)
	}

	if len(repo.committed.recipients) != 3 {
		t.Fatalf("expected 3 recipient rows, got %d", len(repo.committed.recipients))
	}
	for _, rec := range repo.committed.recipients {
		if rec.status != db.DeliverySent {
			t.Errorf("recipient %s: expected SENT, got %s", rec.recipientID, rec.status)
		}
		if rec.notificationID != notif.ID {
			t.Errorf("recipient row bound to wrong notification")
		}
	}

	if len(repo.committed.altaNotified) != 1 || repo.committed.altaNotified[0] != physioID {
		t.Error("expected physio marked alta-notified")
	}

	// Board, social security, and the professional each got a message, all
	// three carrying contract plus roster.
	if len(mailer.sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(mailer.sent))
	}
	for _, msg := range mailer.sent {
		if len(msg.Attachments) != 2 {
			t.Errorf("message to %s: expected 2 attachments, got %d", msg.To, len(msg.Attachments))
		}
		if !strings.Contains(msg.Subject, "Marta Vidal") {
			t.Errorf("message to %s: subject not rendered: %q", msg.To, msg.Subject)
		}
		if !strings.Contains(msg.HTML, "10/03/2025") {
			t.Errorf("message to %s: event date not rendered: %q", msg.To, msg.HTML)
		}
	}

	if !mailer.closed {
		t.Error("mail transport must be closed when the batch ends")
	}
}

func TestDispatchBajaSuccess(t *testing.T) {
	repo, physioID := newTestRepo(t)
	baja := time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)
	repo.physios[physioID].BajaDate = &baja
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindBaja, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("expected success, got error %q", results[0].Error)
	}

	if len(repo.committed.bajaNotified) != 1 {
		t.Error("expected physio marked baja-notified")
	}

	if len(mailer.sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(mailer.sent))
	}
	for _, msg := range mailer.sent {
		switch msg.To {
		case "marta@example.org":
			if len(msg.Attachments) != 0 {
				t.Errorf("professional baja message must carry no attachments, got %d", len(msg.Attachments))
			}
		default:
			if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != RosterAttachmentName {
				t.Errorf("message to %s: expected roster attachment only, got %+v", msg.To, msg.Attachments)
			}
		}
		if !strings.Contains(msg.HTML, "30/06/2025") {
			t.Errorf("message to %s: baja date not rendered", msg.To)
		}
	}
}

func TestDispatchBajaWithoutDate(t *testing.T) {
	repo, physioID := newTestRepo(t)
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindBaja, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("batch must not abort on a per-subject failure: %v", err)
	}

	if results[0].Success {
		t.Fatal("expected per-subject failure")
	}
	if results[0].Error != "physio has no baja date" {
		t.Errorf("unexpected error message: %q", results[0].Error)
	}
	if len(repo.committed.notifications) != 0 {
		t.Error("failed subject must leave no notification row")
	}
	if len(mailer.sent) != 0 {
		t.Error("failed subject must send nothing")
	}
}

func TestDispatchAltaWithoutContract(t *testing.T) {
	repo, physioID := newTestRepo(t)
	delete(repo.contracts, physioID)
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Success || results[0].Error != "contract not found" {
		t.Errorf("expected contract not found failure, got %+v", results[0])
	}
}

func TestDispatchUnknownPhysio(t *testing.T) {
	repo, _ := newTestRepo(t)
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Success || results[0].Error != "physio not found" {
		t.Errorf("expected physio not found failure, got %+v", results[0])
	}
}

func TestDispatchSubjectIsolation(t *testing.T) {
	repo, goodID := newTestRepo(t)
	badID := uuid.New()
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{badID, goodID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Success {
		t.Error("first subject should fail")
	}
	if !results[1].Success {
		t.Errorf("second subject should succeed despite first failing: %q", results[1].Error)
	}
	if len(repo.committed.notifications) != 1 {
		t.Errorf("expected exactly 1 notification, got %d", len(repo.committed.notifications))
	}
}

func TestDispatchSendFailureDegradesToFailedRow(t *testing.T) {
	repo, physioID := newTestRepo(t)
	mailer := &fakeMailer{failTo: map[string]error{"board@example.org": errSMTPDown}}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A transport failure is not a subject failure: the audit trail records it.
	if !results[0].Success {
		t.Fatalf("send failure must not fail the subject: %q", results[0].Error)
	}

	var boardStatus, socialStatus string
	for _, rec := range repo.committed.recipients {
		switch rec.recipientID {
		case boardID:
			boardStatus = rec.status
		case socialID:
			socialStatus = rec.status
		}
	}
	if boardStatus != db.DeliveryFailed {
		t.Errorf("board row: expected FAILED, got %s", boardStatus)
	}
	if socialStatus != db.DeliverySent {
		t.Errorf("social security row: expected SENT, got %s", socialStatus)
	}
	if len(repo.committed.altaNotified) != 1 {
		t.Error("physio state update must still commit")
	}
}

func TestDispatchAuditWriteFailureRollsBack(t *testing.T) {
	repo, physioID := newTestRepo(t)
	repo.failRecipientWrite = true
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Success {
		t.Fatal("audit write failure must fail the subject")
	}
	if repo.rollbacks != 1 {
		t.Errorf("expected 1 rollback, got %d", repo.rollbacks)
	}
	if len(repo.committed.notifications) != 0 || len(repo.committed.altaNotified) != 0 {
		t.Error("rolled back subject must leave no committed writes")
	}
}

func TestDispatchRepeatCreatesNewNotification(t *testing.T) {
	repo, physioID := newTestRepo(t)
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		results, err := engine.Dispatch(ctx, db.KindAlta, []uuid.UUID{physioID})
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if !results[0].Success {
			t.Fatalf("run %d: expected success, got %q", i, results[0].Error)
		}
	}

	// Re-notification is allowed: each run appends its own audit trail.
	if len(repo.committed.notifications) != 2 {
		t.Errorf("expected 2 notifications after 2 runs, got %d", len(repo.committed.notifications))
	}
}

func TestDispatchSkipsMissingRoles(t *testing.T) {
	repo, physioID := newTestRepo(t)
	// Only the board recipient is configured.
	repo.recipients = repo.recipients[:1]
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("missing roles must not fail the subject: %q", results[0].Error)
	}

	// Board message plus the professional's own; no social security send, and
	// no audit row for the professional without a SELF recipient.
	if len(mailer.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(mailer.sent))
	}
	if len(repo.committed.recipients) != 1 {
		t.Errorf("expected 1 recipient row, got %d", len(repo.committed.recipients))
	}
}

func TestDispatchSkipsProfessionalWithoutEmail(t *testing.T) {
	repo, physioID := newTestRepo(t)
	repo.physios[physioID].Email = ""
	mailer := &fakeMailer{}
	engine := newTestEngine(t, repo, mailer)

	results, err := engine.Dispatch(context.Background(), db.KindAlta, []uuid.UUID{physioID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !results[0].Success {
		t.Fatalf("expected success, got %q", results[0].Error)
	}

	for _, msg := range mailer.sent {
		if msg.To == "" {
			t.Error("no message should target an empty address")
		}
	}
	if len(mailer.sent) != 2 {
		t.Errorf("expected 2 messages without professional email, got %d", len(mailer.sent))
	}
}
