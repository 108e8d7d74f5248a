package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/msanchis/physionotify/internal/db"
	"github.com/msanchis/physionotify/internal/dispatch"
	"github.com/msanchis/physionotify/internal/metrics"
	"github.com/msanchis/physionotify/internal/redis"
)

// Dispatcher runs a notification batch for selected physios.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, physioIDs []uuid.UUID) ([]dispatch.Result, error)
}

// Repository defines the database operations the API needs.
type Repository interface {
	ListPhysiosByStatus(ctx context.Context, status string) ([]*db.Physio, error)
	ListPendingAltaNotice(ctx context.Context) ([]*db.Physio, error)
	ListPendingBajaNotice(ctx context.Context) ([]*db.Physio, error)
	GetPhysio(ctx context.Context, id uuid.UUID) (*db.Physio, error)
	CreatePhysio(ctx context.Context, p *db.Physio) error
	SetBajaDate(ctx context.Context, id uuid.UUID, bajaDate time.Time) error

	ListNotifications(ctx context.Context, kind string, physioID *uuid.UUID, limit, offset int) ([]*db.Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)

	ListTemplates(ctx context.Context, includeInactive bool) ([]*db.Template, error)
	CreateTemplate(ctx context.Context, t *db.Template) error
	UpdateTemplate(ctx context.Context, t *db.Template) error

	ListRecipients(ctx context.Context, includeInactive bool) ([]*db.Recipient, error)
	CreateRecipient(ctx context.Context, rec *db.Recipient) error
	UpdateRecipient(ctx context.Context, rec *db.Recipient) error

	ListConfig(ctx context.Context) ([]*db.ConfigEntry, error)
	SetConfig(ctx context.Context, key, value, description string) error
}

// DispatchRequest is the body of POST /v1/dispatch/{alta,baja}.
type DispatchRequest struct {
	PhysioIDs []string `json:"physio_ids"`
}

// DispatchResponse is returned after a batch completes.
type DispatchResponse struct {
	Message string            `json:"message"`
	Results []dispatch.Result `json:"results"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	dispatcher  Dispatcher
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, dispatcher Dispatcher) *Handler {
	return &Handler{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
	}
}

// NewHandlerWithIdempotency creates a handler with dispatch replay support
func NewHandlerWithIdempotency(logger *zap.Logger, repo Repository, dispatcher Dispatcher, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		dispatcher:  dispatcher,
		idempotency: idempotency,
	}
}

// DispatchAlta handles POST /v1/dispatch/alta
func (h *Handler) DispatchAlta(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, db.KindAlta)
}

// DispatchBaja handles POST /v1/dispatch/baja
func (h *Handler) DispatchBaja(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, db.KindBaja)
}

// dispatch runs one batch. Supports optional replay via the Idempotency-Key
// header; without the header every call runs a fresh batch, re-notification
// included.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, kind string) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_data", "Malformed JSON body", err.Error())
		return
	}

	if len(req.PhysioIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_data", "Missing physio ids", "physio_ids must be a non-empty array")
		return
	}

	physioIDs := make([]uuid.UUID, 0, len(req.PhysioIDs))
	for _, raw := range req.PhysioIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_data", "Invalid physio id", "each physio id must be a valid UUID")
			return
		}
		physioIDs = append(physioIDs, id)
	}

	if idempotencyKey != "" && h.idempotency != nil {
		replay, err := h.idempotency.CheckOrReserve(ctx, kind, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another dispatch with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if replay != nil {
			metrics.RecordIdempotencyReplay()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(replay.StatusCode)
			_, _ = w.Write(replay.Body)
			return
		}
	}

	results, err := h.dispatcher.Dispatch(ctx, kind, physioIDs)
	if err != nil {
		h.releaseReservation(ctx, kind, idempotencyKey)

		switch {
		case errors.Is(err, dispatch.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, "invalid_data", "Invalid dispatch request", err.Error())
		case errors.Is(err, dispatch.ErrInvalidConfig):
			h.writeError(w, http.StatusBadRequest, "invalid_config", "Email configuration incomplete", err.Error())
		case errors.Is(err, dispatch.ErrMissingTemplate):
			h.writeError(w, http.StatusBadRequest, "missing_template", "Email template missing", err.Error())
		default:
			h.logger.Error("dispatch batch failed",
				zap.Error(err),
				zap.String("kind", kind),
			)
			h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Dispatch failed", "")
		}
		return
	}

	resp := DispatchResponse{
		Message: "dispatch completed",
		Results: results,
	}

	body, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to marshal dispatch response", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode response", "")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		replay := &redis.DispatchReplay{
			StatusCode: http.StatusOK,
			Body:       body,
		}
		if err := h.idempotency.Store(ctx, kind, idempotencyKey, replay); err != nil {
			h.logger.Warn("failed to store dispatch replay",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.logger.Info("dispatch completed",
		zap.String("kind", kind),
		zap.Int("subjects", len(results)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// releaseReservation drops the idempotency lock after a failed batch so the
// operator can retry with the same key.
func (h *Handler) releaseReservation(ctx context.Context, kind, idempotencyKey string) {
	if idempotencyKey == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Release(ctx, kind, idempotencyKey); err != nil {
		h.logger.Warn("failed to release idempotency reservation",
			zap.Error(err),
			zap.String("idempotency_key", idempotencyKey),
		)
	}
}

// ListPhysios handles GET /v1/physios?status=ACTIVE
func (h *Handler) ListPhysios(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := r.URL.Query().Get("status")
	if status == "" {
		status = db.StatusActive
	}
	if status != db.StatusActive && status != db.StatusInactive {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "status must be ACTIVE or INACTIVE")
		return
	}

	physios, err := h.repo.ListPhysiosByStatus(ctx, status)
	if err != nil {
		h.logger.Error("failed to list physios", zap.Error(err), zap.String("status", status))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list physios", "")
		return
	}

	h.writeList(w, physios, len(physios))
}

// dateLayout is the wire format for event dates.
const dateLayout = "2006-01-02"

// CreatePhysio handles POST /v1/physios
func (h *Handler) CreatePhysio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Surname  string `json:"surname"`
		Email    string `json:"email"`
		Finess   string `json:"finess"`
		AltaDate string `json:"alta_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Surname == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and surname are required")
		return
	}

	altaDate, err := time.Parse(dateLayout, req.AltaDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alta_date", "alta_date must be YYYY-MM-DD")
		return
	}

	physio := &db.Physio{
		ID:       uuid.New(),
		Name:     req.Name,
		Surname:  req.Surname,
		Email:    req.Email,
		Finess:   req.Finess,
		Status:   db.StatusActive,
		AltaDate: altaDate,
	}

	if err := h.repo.CreatePhysio(r.Context(), physio); err != nil {
		h.logger.Error("failed to create physio", zap.Error(err), zap.String("name", req.Name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create physio", "")
		return
	}

	h.logger.Info("physio created",
		zap.String("id", physio.ID.String()),
		zap.String("name", physio.Name+" "+physio.Surname),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(physio)
}

// SetBajaDate handles POST /v1/physios/{id}/baja. The offboarding date must
// fall strictly after the physio's alta date.
func (h *Handler) SetBajaDate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	physioID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid physio ID", "ID must be a valid UUID")
		return
	}

	var req struct {
		BajaDate string `json:"baja_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	bajaDate, err := time.Parse(dateLayout, req.BajaDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid baja_date", "baja_date must be YYYY-MM-DD")
		return
	}

	physio, err := h.repo.GetPhysio(ctx, physioID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Physio not found", "")
			return
		}
		h.logger.Error("failed to get physio", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get physio", "")
		return
	}

	if !bajaDate.After(physio.AltaDate) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid baja_date",
			"baja_date must be later than the physio's alta_date")
		return
	}

	if err := h.repo.SetBajaDate(ctx, physioID, bajaDate); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Physio not found", "")
			return
		}
		h.logger.Error("failed to set baja date", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to set baja date", "")
		return
	}

	h.logger.Info("physio baja date set",
		zap.String("id", idStr),
		zap.String("baja_date", req.BajaDate),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":        idStr,
		"baja_date": req.BajaDate,
		"status":    "updated",
	})
}

// PendingAlta handles GET /v1/physios/pending-alta
func (h *Handler) PendingAlta(w http.ResponseWriter, r *http.Request) {
	physios, err := h.repo.ListPendingAltaNotice(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending alta physios", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list pending physios", "")
		return
	}
	h.writeList(w, physios, len(physios))
}

// PendingBaja handles GET /v1/physios/pending-baja
func (h *Handler) PendingBaja(w http.ResponseWriter, r *http.Request) {
	physios, err := h.repo.ListPendingBajaNotice(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending baja physios", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list pending physios", "")
		return
	}
	h.writeList(w, physios, len(physios))
}

// ListNotifications handles GET /v1/notifications?kind=ALTA&physio_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != db.KindAlta && kind != db.KindBaja {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid kind", "kind must be ALTA or BAJA")
		return
	}

	var physioID *uuid.UUID
	if raw := r.URL.Query().Get("physio_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid physio_id", "physio_id must be a valid UUID")
			return
		}
		physioID = &id
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.repo.ListNotifications(ctx, kind, physioID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	notif, err := h.repo.GetNotification(ctx, notifID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to get notification", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(notif)
}

// ListTemplates handles GET /v1/templates?include_inactive=true
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	templates, err := h.repo.ListTemplates(r.Context(), includeInactive)
	if err != nil {
		h.logger.Error("failed to list templates", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list templates", "")
		return
	}

	h.writeList(w, templates, len(templates))
}

// CreateTemplate handles POST /v1/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Subject == "" || req.Body == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name, subject, and body are required")
		return
	}

	tmpl := &db.Template{
		ID:      uuid.New(),
		Name:    req.Name,
		Subject: req.Subject,
		Body:    req.Body,
		Active:  true,
	}

	if err := h.repo.CreateTemplate(r.Context(), tmpl); err != nil {
		h.logger.Error("failed to create template", zap.Error(err), zap.String("name", req.Name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create template", "")
		return
	}

	h.logger.Info("template created", zap.String("id", tmpl.ID.String()), zap.String("name", tmpl.Name))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(tmpl)
}

// UpdateTemplate handles PUT /v1/templates/{id}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	tmplID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid template ID", "ID must be a valid UUID")
		return
	}

	var req struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
		Active  *bool  `json:"active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Subject == "" || req.Body == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name, subject, and body are required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	tmpl := &db.Template{
		ID:      tmplID,
		Name:    req.Name,
		Subject: req.Subject,
		Body:    req.Body,
		Active:  active,
	}

	if err := h.repo.UpdateTemplate(r.Context(), tmpl); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
			return
		}
		h.logger.Error("failed to update template", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update template", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tmpl)
}

// ListRecipients handles GET /v1/recipients?include_inactive=true
func (h *Handler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	recipients, err := h.repo.ListRecipients(r.Context(), includeInactive)
	if err != nil {
		h.logger.Error("failed to list recipients", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list recipients", "")
		return
	}

	h.writeList(w, recipients, len(recipients))
}

// CreateRecipient handles POST /v1/recipients
func (h *Handler) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and email are required")
		return
	}

	if !validRole(req.Role) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid role",
			"role must be BOARD, SOCIAL_SECURITY, or SELF")
		return
	}

	rec := &db.Recipient{
		ID:     uuid.New(),
		Name:   req.Name,
		Email:  req.Email,
		Role:   req.Role,
		Active: true,
	}

	if err := h.repo.CreateRecipient(r.Context(), rec); err != nil {
		h.logger.Error("failed to create recipient", zap.Error(err), zap.String("name", req.Name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create recipient", "")
		return
	}

	h.logger.Info("recipient created", zap.String("id", rec.ID.String()), zap.String("role", rec.Role))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rec)
}

// UpdateRecipient handles PUT /v1/recipients/{id}
func (h *Handler) UpdateRecipient(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	recID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient ID", "ID must be a valid UUID")
		return
	}

	var req struct {
		Name   string `json:"name"`
		Email  string `json:"email"`
		Role   string `json:"role"`
		Active *bool  `json:"active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Name == "" || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and email are required")
		return
	}

	if !validRole(req.Role) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid role",
			"role must be BOARD, SOCIAL_SECURITY, or SELF")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rec := &db.Recipient{
		ID:     recID,
		Name:   req.Name,
		Email:  req.Email,
		Role:   req.Role,
		Active: active,
	}

	if err := h.repo.UpdateRecipient(r.Context(), rec); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Recipient not found", "")
			return
		}
		h.logger.Error("failed to update recipient", zap.Error(err), zap.String("id", idStr))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update recipient", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rec)
}

// ListConfig handles GET /v1/config
func (h *Handler) ListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := h.repo.ListConfig(r.Context())
	if err != nil {
		h.logger.Error("failed to list config", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list configuration", "")
		return
	}

	// SMTP password never leaves the service.
	for _, e := range entries {
		if e.Key == db.ConfigPrefixSMTP+"PASSWORD" {
			e.Value = "********"
		}
	}

	h.writeList(w, entries, len(entries))
}

// SetConfig handles PUT /v1/config/{key}
func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing config key", "")
		return
	}

	var req struct {
		Value       string `json:"value"`
		Description string `json:"description"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.repo.SetConfig(r.Context(), key, req.Value, req.Description); err != nil {
		h.logger.Error("failed to set config", zap.Error(err), zap.String("key", key))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update configuration", "")
		return
	}

	h.logger.Info("config updated", zap.String("key", key))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"key":    key,
		"status": "updated",
	})
}

func validRole(role string) bool {
	switch role {
	case db.RoleBoard, db.RoleSocialSecurity, db.RoleSelf:
		return true
	}
	return false
}

func (h *Handler) writeList(w http.ResponseWriter, data interface{}, count int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  data,
		"count": count,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
