package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
	"github.com/davidriudor/citaflow/services/booking-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

// Calendar is the slice of the calendar client the handlers need. A nil
// Calendar or a practitioner without credentials skips mirroring entirely.
type Calendar interface {
	CreateTentativeEvent(ctx context.Context, practitionerID, summary string, start, end time.Time) (string, error)
	DeleteEvent(ctx context.Context, practitionerID, eventID string) error
}

type BookingHandler struct {
	repo          *storage.BookingRepository
	practitioners *storage.PractitionerRepository
	outboxRepo    *outbox.Repository
	calendar      Calendar
	logger        *slog.Logger
}

func NewBookingHandler(repo *storage.BookingRepository, practitioners *storage.PractitionerRepository, outboxRepo *outbox.Repository, calendar Calendar, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		repo:          repo,
		practitioners: practitioners,
		outboxRepo:    outboxRepo,
		calendar:      calendar,
		logger:        logger,
	}
}

type createBookingRequest struct {
	PractitionerID  string `json:"practitioner_id"`
	ClientName      string `json:"client_name"`
	ClientEmail     string `json:"client_email"`
	StartTime       string `json:"start_time"`
	SeriesID        string `json:"series_id,omitempty"`
	OccurrenceIndex *int   `json:"occurrence_index,omitempty"`
}

type createBookingResponse struct {
	BookingID  string `json:"booking_id"`
	Status     string `json:"status"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

type cancelBookingRequest struct {
	PractitionerID string `json:"practitioner_id"`
	BookingID      string `json:"booking_id"`
	Reason         string `json:"reason"`
}

type cancelBookingResponse struct {
	BookingID   string `json:"booking_id"`
	Status      string `json:"status"`
	CancelledAt string `json:"cancelled_at"`
}

type listBookingItem struct {
	BookingID       string `json:"booking_id"`
	ClientName      string `json:"client_name"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	SeriesID        string `json:"series_id,omitempty"`
	OccurrenceIndex *int   `json:"occurrence_index,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	req.SeriesID = strings.TrimSpace(req.SeriesID)

	if req.PractitionerID == "" || req.ClientName == "" || req.ClientEmail == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	if (req.SeriesID == "") != (req.OccurrenceIndex == nil) {
		http.Error(w, "series_id and occurrence_index go together", http.StatusBadRequest)
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	startTime = startTime.UTC()

	ctx := r.Context()
	practitioner, err := h.practitioners.Get(ctx, req.PractitionerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}
	endTime := startTime.Add(time.Duration(practitioner.SlotDurationMinutes) * time.Minute)

	booking := &model.Booking{
		PractitionerID:  practitioner.ID,
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		StartTime:       startTime,
		EndTime:         endTime,
		Status:          initialStatus(practitioner),
		Currency:        practitioner.Currency,
		SeriesID:        req.SeriesID,
		OccurrenceIndex: req.OccurrenceIndex,
	}
	booking.PriceCents = priceFor(practitioner, req.OccurrenceIndex)

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, practitioner.ID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			if len(rec.ResponsePayload) > 0 {
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			_ = json.NewEncoder(w).Encode(createBookingResponse{BookingID: rec.BookingID})
			return
		}
	}

	ok, err := h.withinAvailability(ctx, practitioner, startTime, endTime)
	if err != nil {
		// Leave the idempotency key open so the client can retry with it.
		http.Error(w, "availability check failed", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		if idempotencyKey != "" {
			if h.finalizeIdempotencyError(ctx, tx, practitioner.ID, idempotencyKey, http.StatusUnprocessableEntity, "requested time is outside practitioner availability") {
				_ = tx.Commit(ctx)
				return
			}
		}
		http.Error(w, "requested time is outside practitioner availability", http.StatusUnprocessableEntity)
		return
	}

	id, err := h.repo.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "time slot already booked", http.StatusConflict)
			return
		}
		if storage.IsDuplicateIndex(err) {
			http.Error(w, "series occurrence already materialized", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
		return
	}

	if h.calendar != nil {
		hasToken, err := h.practitioners.HasCalendarToken(ctx, practitioner.ID)
		if err != nil {
			http.Error(w, "failed to load calendar credentials", http.StatusInternalServerError)
			return
		}
		if hasToken {
			eventID, err := h.calendar.CreateTentativeEvent(ctx, practitioner.ID, "Cita: "+booking.ClientName, startTime, endTime)
			if err != nil {
				h.logger.Warn("calendar mirror failed; booking proceeds without it", "err", err)
			} else if err := h.repo.SetCalendarEventID(ctx, tx, id, eventID); err != nil {
				http.Error(w, "failed to attach calendar event", http.StatusInternalServerError)
				return
			}
		}
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":      id,
		"practitioner_id": practitioner.ID,
		"client_name":     booking.ClientName,
		"client_email":    booking.ClientEmail,
		"start_time":      startTime.Format(time.RFC3339),
		"end_time":        endTime.Format(time.RFC3339),
		"price_cents":     booking.PriceCents,
		"currency":        booking.Currency,
		"billing_mode":    practitioner.BillingMode,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   id,
		EventType:     outbox.BookingCreated,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	resp := createBookingResponse{
		BookingID:  id,
		Status:     booking.Status,
		PriceCents: booking.PriceCents,
		Currency:   booking.Currency,
	}
	respBody, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, practitioner.ID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.PractitionerID == "" || req.BookingID == "" {
		http.Error(w, "practitioner_id and booking_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking, err := h.repo.GetForUpdate(ctx, tx, req.PractitionerID, req.BookingID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	if booking.Status == model.StatusCancelled && booking.CancelledAt != nil {
		h.writeCancelResponse(w, booking.ID, booking.CancelledAt.UTC())
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, req.PractitionerID, booking.ID, req.Reason)
	if err != nil {
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	cancelPayload, err := json.Marshal(map[string]any{
		"booking_id":      booking.ID,
		"practitioner_id": booking.PractitionerID,
		"client_email":    booking.ClientEmail,
		"start_time":      booking.StartTime.UTC().Format(time.RFC3339),
		"end_time":        booking.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":    cancelledAt.UTC().Format(time.RFC3339),
		"reason":          req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build cancellation event", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   booking.ID,
		EventType:     outbox.BookingCancelled,
		Payload:       cancelPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	if h.calendar != nil && booking.CalendarEventID != "" {
		if err := h.calendar.DeleteEvent(ctx, booking.PractitionerID, booking.CalendarEventID); err != nil {
			h.logger.Warn("calendar event cleanup failed", "booking_id", booking.ID, "err", err)
		}
	}
	h.writeCancelResponse(w, booking.ID, cancelledAt.UTC())
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	practitionerID := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
	if practitionerID == "" {
		http.Error(w, "practitioner_id required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.repo.ListByPractitioner(r.Context(), practitionerID, limit)
	if err != nil {
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]listBookingItem, 0, len(bookings))
	for _, b := range bookings {
		item := listBookingItem{
			BookingID:       b.ID,
			ClientName:      b.ClientName,
			StartTime:       b.StartTime.UTC().Format(time.RFC3339),
			EndTime:         b.EndTime.UTC().Format(time.RFC3339),
			Status:          b.Status,
			PriceCents:      b.PriceCents,
			Currency:        b.Currency,
			SeriesID:        b.SeriesID,
			OccurrenceIndex: b.OccurrenceIndex,
			CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
		}
		if b.CancelledAt != nil {
			item.CancelledAt = b.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	body, err := json.Marshal(items)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// withinAvailability checks the requested interval fits inside one of the
// practitioner's windows on the local day it starts. Overlap with other
// bookings is left to the exclusion constraint, which also covers races.
func (h *BookingHandler) withinAvailability(ctx context.Context, p model.Practitioner, start, end time.Time) (bool, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return false, err
	}
	rules, err := h.practitioners.WeeklyRules(ctx, p.ID)
	if err != nil {
		return false, err
	}
	fallback, err := fallbackWindow(p)
	if err != nil {
		return false, err
	}
	set := availability.NewRuleSet(rules, fallback)
	if set.Empty() {
		return false, nil
	}

	local := start.In(loc)
	for _, win := range set.WindowsOn(local.Weekday()) {
		iv, err := win.Resolve(local.Year(), local.Month(), local.Day(), loc)
		if err != nil {
			continue
		}
		if !start.Before(iv.Start) && !end.After(iv.End) {
			return true, nil
		}
	}
	return false, nil
}

func fallbackWindow(p model.Practitioner) (*availability.Window, error) {
	if p.FallbackWindowFrom == "" || p.FallbackWindowTo == "" {
		return nil, nil
	}
	w, err := availability.ParseWindow(p.FallbackWindowFrom, p.FallbackWindowTo)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func initialStatus(p model.Practitioner) string {
	if p.BillingMode == model.BillingPerBooking {
		return model.StatusPendingPayment
	}
	return model.StatusConfirmed
}

// priceFor applies first-consultation pricing to occurrence 0 of a series.
func priceFor(p model.Practitioner, occurrenceIndex *int) int64 {
	if occurrenceIndex != nil && *occurrenceIndex == 0 && p.FirstConsultationPriceCents > 0 {
		return p.FirstConsultationPriceCents
	}
	return p.PriceCents
}

func (h *BookingHandler) writeCancelResponse(w http.ResponseWriter, bookingID string, cancelledAt time.Time) {
	resp := cancelBookingResponse{
		BookingID:   bookingID,
		Status:      model.StatusCancelled,
		CancelledAt: cancelledAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, tx pgx.Tx, practitionerID, key string, statusCode int, msg string) bool {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return false
	}
	if err := h.repo.FinalizeIdempotency(ctx, tx, practitionerID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency (error)", "err", err)
		return false
	}
	return true
}
