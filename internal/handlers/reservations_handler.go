package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/faults"
	"github.com/imrishuroy/go-table-reservations/internal/idempotency"
	"github.com/imrishuroy/go-table-reservations/internal/lock"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/validation"
)

// Bookings is the booking service as seen by the HTTP layer.
type Bookings interface {
	Create(ctx context.Context, in reservations.NewReservation) (*reservations.Reservation, error)
	Get(ctx context.Context, id string) (*reservations.Reservation, error)
	Confirm(ctx context.Context, id string) (*reservations.Reservation, error)
	Cancel(ctx context.Context, id string) (*reservations.Reservation, error)
	Complete(ctx context.Context, id string) (*reservations.Reservation, error)
	NoShow(ctx context.Context, id string) (*reservations.Reservation, error)
	Availability(ctx context.Context, tableID, date, clock string) (bool, error)
}

const recordTimeout = 5 * time.Second

// HandlerConfig groups dependencies for the reservations handler.
type HandlerConfig struct {
	Bookings    Bookings
	Idempotency *idempotency.Store // nil disables Idempotency-Key handling
	Logs        *zap.Logger
	RetryAfter  time.Duration // hint sent with 429 when the slot lock is busy
}

// RegisterReservationRoutes registers routes for the reservation API.
func RegisterReservationRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Logs == nil {
		cfg.Logs = zap.NewNop()
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Second
	}
	h := &reservationHandler{cfg: cfg, v: validation.New()}

	r.POST("/reservations", h.create)
	r.GET("/reservations/:id", h.get)
	r.POST("/reservations/:id/confirm", h.transition(cfg.Bookings.Confirm))
	r.POST("/reservations/:id/cancel", h.transition(cfg.Bookings.Cancel))
	r.POST("/reservations/:id/complete", h.transition(cfg.Bookings.Complete))
	r.POST("/reservations/:id/no-show", h.transition(cfg.Bookings.NoShow))
	r.GET("/availability", h.availability)
}

type reservationHandler struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

func (h *reservationHandler) create(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.CreateReservationRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" || h.cfg.Idempotency == nil {
		status, body := h.book(ctx, req)
		h.write(c, status, body)
		return
	}

	fingerprint := fingerprintOf(req)
	proceed := h.claim(c, idempKey, fingerprint)
	if !proceed {
		return
	}

	status, body := h.book(ctx, req)
	h.record(ctx, idempKey, status, body)
	h.write(c, status, body)
}

// record stores the outcome for idempKey. It runs even when the client has gone away, so a
// retry replays the booking instead of waiting out the claim.
func (h *reservationHandler) record(parent context.Context, idempKey string, status int, body gin.H) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), recordTimeout)
	defer cancel()

	encoded, _ := json.Marshal(body)
	if retryable(status) {
		if err := h.cfg.Idempotency.MarkFailed(ctx, idempKey, fmt.Sprintf("status %d", status)); err != nil {
			h.cfg.Logs.Warn("idempotency mark failed", zap.String("idempotency_key", idempKey), zap.Error(err))
		}
	} else {
		id, _ := body["id"].(string)
		if err := h.cfg.Idempotency.MarkDone(ctx, idempKey, id, string(encoded), status); err != nil {
			h.cfg.Logs.Warn("idempotency mark done", zap.String("idempotency_key", idempKey), zap.Error(err))
		}
	}
}

// claim takes ownership of an idempotency key or answers the request from the existing
// record. It returns true when the caller should go on and book.
func (h *reservationHandler) claim(c *gin.Context, key, fingerprint string) bool {
	ctx := c.Request.Context()
	created, err := h.cfg.Idempotency.Begin(ctx, key, fingerprint)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return false
	}
	if created {
		return true
	}

	rec, err := h.cfg.Idempotency.Get(ctx, key)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return false
	}
	if rec == nil {
		// expired between Begin and Get
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed"})
		return false
	}
	if !rec.Matches(fingerprint) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused"})
		return false
	}

	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Idempotent-Replay", "true")
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		return false
	case idempotency.StatusInProgress, idempotency.StatusFailed:
		// Reclaim only succeeds for a failed attempt or a claim whose owner outlived its lease.
		ok, err := h.cfg.Idempotency.Reclaim(ctx, key)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
			return false
		}
		if !ok {
			c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
			return false
		}
		return true
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
		return false
	}
}

func (h *reservationHandler) book(ctx context.Context, req validation.CreateReservationRequest) (int, gin.H) {
	r, err := h.cfg.Bookings.Create(ctx, req.Reservation())
	if err != nil {
		return h.failure(err)
	}
	return http.StatusCreated, reservationBody(r)
}

func (h *reservationHandler) get(c *gin.Context) {
	r, err := h.cfg.Bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, body := h.failure(err)
		h.write(c, status, body)
		return
	}
	c.JSON(http.StatusOK, reservationBody(r))
}

func (h *reservationHandler) transition(apply func(context.Context, string) (*reservations.Reservation, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := apply(c.Request.Context(), c.Param("id"))
		if err != nil {
			status, body := h.failure(err)
			h.write(c, status, body)
			return
		}
		c.JSON(http.StatusOK, reservationBody(r))
	}
}

func (h *reservationHandler) availability(c *gin.Context) {
	var q validation.AvailabilityQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}
	free, err := h.cfg.Bookings.Availability(c.Request.Context(), q.TableID, q.Date, q.Time)
	if err != nil {
		status, body := h.failure(err)
		h.write(c, status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table_id": q.TableID, "date": q.Date, "time": q.Time, "available": free})
}

// failure maps domain errors onto HTTP responses.
func (h *reservationHandler) failure(err error) (int, gin.H) {
	var (
		verr *reservations.ValidationError
		terr *reservations.InvalidTransitionError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": verr.Fields}
	case errors.Is(err, reservations.ErrTableNotFound):
		return http.StatusNotFound, gin.H{"error": "table_not_found"}
	case errors.Is(err, reservations.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "reservation_not_found"}
	case errors.Is(err, reservations.ErrSlotConflict):
		return http.StatusConflict, gin.H{"error": "slot_conflict"}
	case errors.As(err, &terr):
		return http.StatusConflict, gin.H{"error": "invalid_transition", "from": terr.From, "to": terr.To}
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusTooManyRequests, gin.H{"error": "slot_busy", "retry_after_seconds": h.retryAfterSeconds()}
	case faults.IsTransient(err):
		h.cfg.Logs.Warn("transient failure serving request", zap.Error(err))
		return http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable"}
	default:
		h.cfg.Logs.Error("request failed", zap.Error(err))
		return http.StatusInternalServerError, gin.H{"error": "internal_error"}
	}
}

func (h *reservationHandler) write(c *gin.Context, status int, body gin.H) {
	switch status {
	case http.StatusCreated:
		if id, ok := body["id"].(string); ok {
			c.Header("Location", "/reservations/"+id)
		}
	case http.StatusTooManyRequests:
		c.Header("Retry-After", strconv.Itoa(h.retryAfterSeconds()))
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
	}
	c.JSON(status, body)
}

func (h *reservationHandler) retryAfterSeconds() int {
	s := int((h.cfg.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func reservationBody(r *reservations.Reservation) gin.H {
	body := gin.H{
		"id":            r.ID,
		"restaurant_id": r.RestaurantID,
		"customer_id":   r.CustomerID,
		"table_id":      r.TableID,
		"date":          r.Date,
		"time":          r.Time,
		"party_size":    r.PartySize,
		"status":        r.Status,
		"created_at":    r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.SpecialRequests != "" {
		body["special_requests"] = r.SpecialRequests
	}
	if r.ExpiresAt != nil {
		body["expires_at"] = r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return body
}

// retryable reports whether a response should leave the idempotency key open for retry.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func fingerprintOf(req validation.CreateReservationRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
