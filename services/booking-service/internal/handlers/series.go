package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/davidriudor/citaflow/libs/auth"
	"github.com/davidriudor/citaflow/libs/recurrence"
	"github.com/davidriudor/citaflow/services/booking-service/internal/model"
	"github.com/davidriudor/citaflow/services/booking-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

// SeriesHandler serves the admin recurring-series endpoints. Creating a
// series materializes occurrence 0 immediately; later occurrences come from
// the weekly extension job.
type SeriesHandler struct {
	series        *storage.SeriesRepository
	bookings      *storage.BookingRepository
	practitioners *storage.PractitionerRepository
	outboxRepo    *outbox.Repository
	calendar      Calendar
	logger        *slog.Logger
}

func NewSeriesHandler(series *storage.SeriesRepository, bookings *storage.BookingRepository, practitioners *storage.PractitionerRepository, outboxRepo *outbox.Repository, calendar Calendar, logger *slog.Logger) *SeriesHandler {
	return &SeriesHandler{
		series:        series,
		bookings:      bookings,
		practitioners: practitioners,
		outboxRepo:    outboxRepo,
		calendar:      calendar,
		logger:        logger,
	}
}

type createSeriesRequest struct {
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email"`
	Timezone      string `json:"timezone"`
	StartLocal    string `json:"start_local"` // "2006-01-02T15:04", wall clock in Timezone
	DurationMin   int    `json:"duration_minutes"`
	IntervalWeeks int    `json:"interval_weeks"`
	Weekday       int    `json:"weekday"`
}

type createSeriesResponse struct {
	SeriesID           string `json:"series_id"`
	FirstBookingID     string `json:"first_booking_id"`
	FirstOccurrenceUTC string `json:"first_occurrence_utc"`
	NextExtensionRunAt string `json:"next_extension_run_at"`
}

type cancelSeriesRequest struct {
	SeriesID string `json:"series_id"`
	Reason   string `json:"reason"`
}

type cancelSeriesResponse struct {
	SeriesID          string `json:"series_id"`
	Status            string `json:"status"`
	CancelledBookings int    `json:"cancelled_bookings"`
}

const startLocalLayout = "2006-01-02T15:04"

func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.PractitionerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	if req.ClientName == "" || req.ClientEmail == "" {
		http.Error(w, "client_name and client_email required", http.StatusBadRequest)
		return
	}
	startLocal, err := time.Parse(startLocalLayout, strings.TrimSpace(req.StartLocal))
	if err != nil {
		http.Error(w, "start_local must be YYYY-MM-DDTHH:MM", http.StatusBadRequest)
		return
	}

	rule := recurrence.Rule{
		Timezone:      req.Timezone,
		StartLocal:    startLocal,
		DurationMin:   req.DurationMin,
		IntervalWeeks: req.IntervalWeeks,
		Weekday:       time.Weekday(req.Weekday),
	}
	if err := rule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	first, err := recurrence.OccurrenceAt(rule, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	practitioner, err := h.practitioners.Get(ctx, claims.PractitionerID)
	if err != nil {
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}

	tx, err := h.bookings.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	nextRun := time.Now().UTC().Add(7 * 24 * time.Hour)
	seriesID, err := h.series.Create(ctx, tx, &model.Series{
		PractitionerID: practitioner.ID,
		ClientName:     req.ClientName,
		ClientEmail:    req.ClientEmail,
		Timezone:       req.Timezone,
		StartLocal:     startLocal,
		DurationMin:    req.DurationMin,
		IntervalWeeks:  req.IntervalWeeks,
		Weekday:        time.Weekday(req.Weekday),
		Status:         model.SeriesActive,
		NextRunAt:      nextRun,
	})
	if err != nil {
		http.Error(w, "failed to create series", http.StatusInternalServerError)
		return
	}

	zero := 0
	booking := &model.Booking{
		PractitionerID:  practitioner.ID,
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		StartTime:       first.StartUTC,
		EndTime:         first.EndUTC,
		Status:          initialStatus(practitioner),
		Currency:        practitioner.Currency,
		SeriesID:        seriesID,
		OccurrenceIndex: &zero,
	}
	booking.PriceCents = priceFor(practitioner, &zero)

	bookingID, err := h.bookings.Create(ctx, tx, booking)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "first occurrence collides with an existing booking", http.StatusConflict)
			return
		}
		http.Error(w, "failed to create first occurrence", http.StatusInternalServerError)
		return
	}

	if h.calendar != nil {
		hasToken, err := h.practitioners.HasCalendarToken(ctx, practitioner.ID)
		if err == nil && hasToken {
			eventID, err := h.calendar.CreateTentativeEvent(ctx, practitioner.ID, "Cita: "+req.ClientName, first.StartUTC, first.EndUTC)
			if err != nil {
				h.logger.Warn("calendar mirror failed for series start", "series_id", seriesID, "err", err)
			} else if err := h.bookings.SetCalendarEventID(ctx, tx, bookingID, eventID); err != nil {
				http.Error(w, "failed to attach calendar event", http.StatusInternalServerError)
				return
			}
		}
	}

	evtPayload, err := json.Marshal(map[string]any{
		"booking_id":       bookingID,
		"practitioner_id":  practitioner.ID,
		"client_email":     req.ClientEmail,
		"series_id":        seriesID,
		"occurrence_index": 0,
		"start_time":       first.StartUTC.Format(time.RFC3339),
		"end_time":         first.EndUTC.Format(time.RFC3339),
		"price_cents":      booking.PriceCents,
		"currency":         booking.Currency,
		"billing_mode":     practitioner.BillingMode,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   bookingID,
		EventType:     outbox.BookingCreated,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	h.logger.Info("series created",
		"series_id", seriesID, "practitioner_id", practitioner.ID,
		"interval_weeks", req.IntervalWeeks, "first_start", first.StartUTC)

	body, err := json.Marshal(createSeriesResponse{
		SeriesID:           seriesID,
		FirstBookingID:     bookingID,
		FirstOccurrenceUTC: first.StartUTC.Format(time.RFC3339),
		NextExtensionRunAt: nextRun.Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *SeriesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.PractitionerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req cancelSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.SeriesID = strings.TrimSpace(req.SeriesID)
	if req.SeriesID == "" {
		http.Error(w, "series_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.bookings.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.series.End(ctx, tx, claims.PractitionerID, req.SeriesID); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "active series not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to end series", http.StatusInternalServerError)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "series cancelled"
	}
	cancelled, err := h.series.CancelFutureOccurrences(ctx, tx, req.SeriesID, reason, time.Now().UTC())
	if err != nil {
		http.Error(w, "failed to cancel future occurrences", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"series_id":          req.SeriesID,
		"practitioner_id":    claims.PractitionerID,
		"cancelled_bookings": len(cancelled),
		"reason":             reason,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "series",
		AggregateID:   req.SeriesID,
		EventType:     outbox.SeriesEnded,
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	if h.calendar != nil {
		for _, b := range cancelled {
			if b.CalendarEventID == "" {
				continue
			}
			if err := h.calendar.DeleteEvent(ctx, claims.PractitionerID, b.CalendarEventID); err != nil {
				h.logger.Warn("calendar event cleanup failed", "booking_id", b.ID, "err", err)
			}
		}
	}

	h.logger.Info("series ended",
		"series_id", req.SeriesID, "practitioner_id", claims.PractitionerID,
		"cancelled_bookings", len(cancelled))

	body, err := json.Marshal(cancelSeriesResponse{
		SeriesID:          req.SeriesID,
		Status:            model.SeriesEnded,
		CancelledBookings: len(cancelled),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
