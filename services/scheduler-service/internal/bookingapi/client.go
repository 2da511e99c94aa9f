// Package bookingapi is the scheduler's HTTP client for the booking
// service's public booking endpoint.
package bookingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/davidriudor/citaflow/services/scheduler-service/internal/series"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// BookOccurrence creates one series occurrence. The idempotency key is
// derived from (series, index), so a replayed call gets the stored response
// instead of a second booking. A conflict status means the occurrence is
// already there.
func (c *Client) BookOccurrence(ctx context.Context, req series.BookingRequest) (string, error) {
	body, err := json.Marshal(map[string]any{
		"practitioner_id":  req.PractitionerID,
		"client_name":      req.ClientName,
		"client_email":     req.ClientEmail,
		"start_time":       req.StartUTC.Format(time.RFC3339),
		"series_id":        req.SeriesID,
		"occurrence_index": req.OccurrenceIndex,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/public/book", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%d", req.SeriesID, req.OccurrenceIndex))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var out struct {
			BookingID string `json:"booking_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode booking response: %w", err)
		}
		return out.BookingID, nil
	case resp.StatusCode == http.StatusConflict:
		return "", series.ErrAlreadyExtended
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("booking service returned %d: %s", resp.StatusCode, msg)
	}
}
