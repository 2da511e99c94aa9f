package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/davidriudor/citaflow/libs/auth"
	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

// RulesHandler serves the admin availability-rule endpoints. Routes are
// mounted behind auth.RequireHS256, so claims are always present here.
type RulesHandler struct {
	practitioners *storage.PractitionerRepository
	logger        *slog.Logger
}

func NewRulesHandler(practitioners *storage.PractitionerRepository, logger *slog.Logger) *RulesHandler {
	return &RulesHandler{practitioners: practitioners, logger: logger}
}

type ruleItem struct {
	Weekday int    `json:"weekday"` // 0=Sunday .. 6=Saturday
	From    string `json:"from"`    // HH:MM local
	To      string `json:"to"`
}

type rulesResponse struct {
	PractitionerID string     `json:"practitioner_id"`
	Rules          []ruleItem `json:"rules"`
}

func (h *RulesHandler) Serve(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.put(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *RulesHandler) get(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.PractitionerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rules, err := h.practitioners.WeeklyRules(r.Context(), claims.PractitionerID)
	if err != nil {
		http.Error(w, "failed to load rules", http.StatusInternalServerError)
		return
	}

	items := make([]ruleItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, ruleItem{
			Weekday: int(rule.Weekday),
			From:    rule.Window.From.String(),
			To:      rule.Window.To.String(),
		})
	}
	body, err := json.Marshal(rulesResponse{PractitionerID: claims.PractitionerID, Rules: items})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *RulesHandler) put(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.PractitionerID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Rules []ruleItem `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	rules := make([]availability.Rule, 0, len(req.Rules))
	for _, item := range req.Rules {
		if item.Weekday < 0 || item.Weekday > 6 {
			http.Error(w, "weekday must be 0..6", http.StatusBadRequest)
			return
		}
		win, err := availability.ParseWindow(item.From, item.To)
		if err != nil {
			http.Error(w, "invalid rule window: "+item.From+"-"+item.To, http.StatusBadRequest)
			return
		}
		rules = append(rules, availability.Rule{
			Weekday: time.Weekday(item.Weekday),
			Window:  win,
		})
	}

	if err := h.practitioners.ReplaceWeeklyRules(r.Context(), claims.PractitionerID, rules); err != nil {
		h.logger.Error("rule replacement failed", "practitioner_id", claims.PractitionerID, "err", err)
		http.Error(w, "failed to store rules", http.StatusInternalServerError)
		return
	}

	h.logger.Info("availability rules replaced",
		"practitioner_id", claims.PractitionerID, "rule_count", len(rules))
	w.WriteHeader(http.StatusNoContent)
}
