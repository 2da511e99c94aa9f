package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

type SlotsHandler struct {
	planner       *availability.Planner
	practitioners *storage.PractitionerRepository
	logger        *slog.Logger
}

func NewSlotsHandler(planner *availability.Planner, practitioners *storage.PractitionerRepository, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{planner: planner, practitioners: practitioners, logger: logger}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type monthSlotsResponse struct {
	PractitionerID string                `json:"practitioner_id"`
	Month          string                `json:"month"`
	Timezone       string                `json:"timezone"`
	SlotsByDay     map[string][]slotItem `json:"slots_by_day"`
	DaysWithSlots  []string              `json:"days_with_slots"`
}

// Month serves the public month view: every open slot for a practitioner
// in a YYYY-MM month, keyed by local calendar day.
func (h *SlotsHandler) Month(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	practitionerID := strings.TrimSpace(r.URL.Query().Get("practitioner_id"))
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if practitionerID == "" || month == "" {
		http.Error(w, "practitioner_id and month are required", http.StatusBadRequest)
		return
	}

	practitioner, err := h.practitioners.Get(r.Context(), practitionerID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "practitioner not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load practitioner", http.StatusInternalServerError)
		return
	}

	opts := availability.MonthOptions{
		Timezone: practitioner.Timezone,
		Duration: time.Duration(practitioner.SlotDurationMinutes) * time.Minute,
	}
	if tz := strings.TrimSpace(r.URL.Query().Get("tz")); tz != "" {
		opts.Timezone = tz
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("duration")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 8*60 {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}
		opts.Duration = time.Duration(n) * time.Minute
	}
	if practitioner.FallbackWindowFrom != "" && practitioner.FallbackWindowTo != "" {
		win, err := availability.ParseWindow(practitioner.FallbackWindowFrom, practitioner.FallbackWindowTo)
		if err != nil {
			http.Error(w, "practitioner misconfigured", http.StatusInternalServerError)
			return
		}
		opts.Fallback = &win
	}

	result, err := h.planner.MonthlySlots(r.Context(), practitionerID, month, opts)
	if err != nil {
		switch {
		case errors.Is(err, availability.ErrInvalidMonth):
			http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
		case errors.Is(err, availability.ErrNoAvailability):
			http.Error(w, "practitioner has no availability configured", http.StatusUnprocessableEntity)
		default:
			h.logger.Error("month slot computation failed", "practitioner_id", practitionerID, "err", err)
			http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		}
		return
	}

	resp := monthSlotsResponse{
		PractitionerID: practitionerID,
		Month:          month,
		Timezone:       opts.Timezone,
		SlotsByDay:     make(map[string][]slotItem, len(result.SlotsByDay)),
		DaysWithSlots:  result.DaysWithSlots,
	}
	for day, slots := range result.SlotsByDay {
		items := make([]slotItem, 0, len(slots))
		for _, s := range slots {
			items = append(items, slotItem{
				StartTime: s.Start.UTC().Format(time.RFC3339),
				EndTime:   s.End.UTC().Format(time.RFC3339),
			})
		}
		resp.SlotsByDay[day] = items
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
