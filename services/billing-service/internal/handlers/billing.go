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

	"github.com/davidriudor/citaflow/libs/auth"
	"github.com/davidriudor/citaflow/libs/httpx"
	"github.com/davidriudor/citaflow/services/billing-service/internal/outbox"
	"github.com/davidriudor/citaflow/services/billing-service/internal/storage"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

type chargeItem struct {
	BookingID       string `json:"booking_id"`
	ClientEmail     string `json:"client_email"`
	Description     string `json:"description"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	PeriodMonth     string `json:"period_month"`
	StripeInvoiceID string `json:"stripe_invoice_id,omitempty"`
	CreatedAt       string `json:"created_at"`
	PaidAt          string `json:"paid_at,omitempty"`
}

// ListCharges returns a practitioner's recent charges. Admins may pass
// ?practitioner_id to inspect another practitioner.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	practitionerID := claims.PractitionerID
	if requested := strings.TrimSpace(r.URL.Query().Get("practitioner_id")); requested != "" {
		if claims.Role != "admin" && requested != practitionerID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		practitionerID = requested
	}
	if practitionerID == "" {
		http.Error(w, "practitioner_id is required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	charges, err := h.repo.ListChargesByPractitioner(r.Context(), practitionerID, limit)
	if err != nil {
		h.logger.Error("list charges failed", "err", err, "practitioner_id", practitionerID)
		http.Error(w, "failed to load charges", http.StatusInternalServerError)
		return
	}

	items := make([]chargeItem, 0, len(charges))
	for _, c := range charges {
		item := chargeItem{
			BookingID:       c.BookingID,
			ClientEmail:     c.ClientEmail,
			Description:     c.Description,
			AmountCents:     c.AmountCents,
			Currency:        c.Currency,
			Kind:            c.Kind,
			Status:          c.Status,
			PeriodMonth:     c.PeriodMonth,
			StripeInvoiceID: c.StripeInvoiceID,
			CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if c.PaidAt != nil {
			item.PaidAt = c.PaidAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"practitioner_id": practitionerID,
		"charges":         items,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) recordAudit(ctx context.Context, tx pgx.Tx, r *http.Request, eventType string, actorType string, practitionerID string, metadata map[string]any) error {
	actorID := ""
	if claims := auth.ClaimsFromContext(ctx); claims != nil {
		if actorType == "" {
			actorType = claims.Role
		}
		actorID = claims.Sub
	}
	if actorType == "" {
		actorType = "system"
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if reqID := httpx.RequestIDFromContext(ctx); reqID != "" {
		metadata["request_id"] = reqID
	}
	raw, _ := json.Marshal(metadata)
	return h.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType:      eventType,
		ActorType:      actorType,
		ActorID:        actorID,
		PractitionerID: practitionerID,
		Metadata:       raw,
	})
}
