// Package api exposes the HTTP surface of the dispatch engine: job
// intake, the public contact form, and read-only ledger queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/db"
	"github.com/agrilogistic/courier/internal/intake"
	"github.com/agrilogistic/courier/internal/job"
	"github.com/agrilogistic/courier/internal/metrics"
	"github.com/agrilogistic/courier/internal/redis"
)

// IntakeService is the intake surface the handlers depend on.
type IntakeService interface {
	Enqueue(ctx context.Context, req intake.Request) (*job.NotificationJob, error)
	EnqueueBulk(ctx context.Context, reqs []intake.Request) ([]*job.NotificationJob, error)
	SubmitContactForm(ctx context.Context, form intake.ContactForm, meta intake.RequestMeta) (*job.NotificationJob, error)
}

// LedgerReader is the read-only query surface over the delivery ledger.
type LedgerReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.DeliveryRecord, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*db.DeliveryRecord, error)
}

// SendRequest is the body of POST /notifications/send.
type SendRequest struct {
	Type      string            `json:"type"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Template  string            `json:"template,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Priority  int               `json:"priority,omitempty"`
}

// BulkRequest is the body of POST /notifications/bulk.
type BulkRequest struct {
	Notifications []SendRequest `json:"notifications"`
}

// ContactRequest is the body of POST /contact. Company is the honeypot
// field; legitimate users never fill it.
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
	Company string `json:"company,omitempty"`
}

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	logger      *zap.Logger
	intake      IntakeService
	ledger      LedgerReader
	idempotency *redis.IdempotencyService // nil if Redis idempotency not configured
}

// NewHandler creates an API handler.
func NewHandler(logger *zap.Logger, intakeSvc IntakeService, ledger LedgerReader) *Handler {
	return &Handler{
		logger: logger,
		intake: intakeSvc,
		ledger: ledger,
	}
}

// NewHandlerWithIdempotency creates a handler honoring Idempotency-Key headers.
func NewHandlerWithIdempotency(logger *zap.Logger, intakeSvc IntakeService, ledger LedgerReader, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		intake:      intakeSvc,
		ledger:      ledger,
		idempotency: idempotency,
	}
}

func (h *Handler) toIntakeRequest(req SendRequest) (intake.Request, error) {
	out := intake.Request{
		Channel:      req.Type,
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		Body:         req.Message,
		TemplateRef:  req.Template,
		TemplateData: req.Data,
		Priority:     req.Priority,
	}

	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			return intake.Request{}, &job.ValidationError{Field: "userId", Reason: "must be a valid UUID"}
		}
		out.OwnerUserID = &userID
	}

	return out, nil
}

// SendNotification handles POST /notifications/send. The job is queued
// and 202 returned immediately; the call never waits for delivery.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	intakeReq, err := h.toIntakeRequest(req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "Request with this idempotency key is already in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyReplay()
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, cached.StatusCode, envelope{
				Success: true,
				Data:    map[string]string{"jobId": cached.JobID, "status": job.StatusQueued},
			})
			return
		}
	}

	j, err := h.intake.Enqueue(ctx, intakeReq)
	if err != nil {
		var vErr *job.ValidationError
		if errors.As(err, &vErr) {
			h.writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		h.logger.Error("failed to enqueue notification", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to enqueue notification")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			JobID:      j.ID.String(),
			StatusCode: http.StatusAccepted,
		}
		if err := h.idempotency.Store(ctx, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.writeJSON(w, http.StatusAccepted, envelope{
		Success: true,
		Data:    map[string]string{"jobId": j.ID.String(), "status": job.StatusQueued},
	})
}

// SendBulk handles POST /notifications/bulk: 1 to 1000 items enqueued
// as one atomic batch, ids returned in input order.
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	intakeReqs := make([]intake.Request, len(req.Notifications))
	for i, item := range req.Notifications {
		intakeReq, err := h.toIntakeRequest(item)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "item "+strconv.Itoa(i)+": "+err.Error())
			return
		}
		intakeReqs[i] = intakeReq
	}

	jobs, err := h.intake.EnqueueBulk(ctx, intakeReqs)
	if err != nil {
		var vErr *job.ValidationError
		if errors.As(err, &vErr) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to enqueue bulk notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to enqueue notifications")
		return
	}

	jobIDs := make([]string, len(jobs))
	for i, j := range jobs {
		jobIDs[i] = j.ID.String()
	}

	h.writeJSON(w, http.StatusAccepted, envelope{
		Success: true,
		Data: map[string]interface{}{
			"count":  len(jobIDs),
			"jobIds": jobIDs,
			"status": job.StatusQueued,
		},
	})
}

// SubmitContact handles POST /contact. A submission caught by the
// honeypot returns the same 202 shape as a real one, with a decoy job
// id, so automated senders cannot tell they were detected.
func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	if req.Email == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "email and message are required")
		return
	}

	form := intake.ContactForm{
		Name:     req.Name,
		Email:    req.Email,
		Subject:  req.Subject,
		Message:  req.Message,
		Honeypot: req.Company,
	}
	meta := intake.RequestMeta{
		SourceIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}

	j, err := h.intake.SubmitContactForm(ctx, form, meta)
	if err != nil {
		h.logger.Error("failed to submit contact form", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to submit contact form")
		return
	}

	jobID := uuid.New().String() // decoy for silently dropped submissions
	if j != nil {
		jobID = j.ID.String()
	}

	h.writeJSON(w, http.StatusAccepted, envelope{
		Success: true,
		Data:    map[string]string{"jobId": jobID, "status": job.StatusQueued},
	})
}

// GetNotification handles GET /notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "id must be a valid UUID")
		return
	}

	rec, err := h.ledger.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("failed to get delivery record",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch notification")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: rec})
}

// ListUserNotifications handles GET /notifications/user/{userId}?limit=.
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userIDStr := chi.URLParam(r, "userId")
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "userId must be a valid UUID")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}

	records, err := h.ledger.ListByUser(ctx, userID, limit)
	if err != nil {
		h.logger.Error("failed to list user notifications",
			zap.Error(err),
			zap.String("user_id", userIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}

	if records == nil {
		records = []*db.DeliveryRecord{}
	}

	h.writeJSON(w, http.StatusOK, envelope{Success: true, Data: records})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, envelope{Success: false, Error: message})
}
