// Package gcal wraps the Google Calendar API for a single practitioner's
// connected calendar. Tokens come from a TokenStore so refreshed access
// tokens survive process restarts.
package gcal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
	"github.com/davidriudor/citaflow/services/booking-service/internal/storage"
)

type TokenStore interface {
	CalendarToken(ctx context.Context, practitionerID string) (storage.CalendarToken, error)
	SaveCalendarToken(ctx context.Context, token storage.CalendarToken) error
}

type Client struct {
	oauth  *oauth2.Config
	tokens TokenStore
}

func New(clientID, clientSecret string, tokens TokenStore) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		tokens: tokens,
	}
}

// service builds a calendar service for one practitioner. A token refresh
// performed by the oauth2 transport is written back to the store.
func (c *Client) service(ctx context.Context, practitionerID string) (*calendar.Service, string, error) {
	stored, err := c.tokens.CalendarToken(ctx, practitionerID)
	if err != nil {
		return nil, "", fmt.Errorf("load calendar token: %w", err)
	}
	tok := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Expiry:       stored.Expiry,
	}
	source := c.oauth.TokenSource(ctx, tok)

	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, "", fmt.Errorf("create calendar service: %w", err)
	}

	if fresh, err := source.Token(); err == nil && fresh.AccessToken != stored.AccessToken {
		stored.AccessToken = fresh.AccessToken
		stored.Expiry = fresh.Expiry
		if fresh.RefreshToken != "" {
			stored.RefreshToken = fresh.RefreshToken
		}
		// Persisting the refreshed token is best effort: the API call
		// below already holds a valid token either way.
		_ = c.tokens.SaveCalendarToken(ctx, stored)
	}
	return svc, stored.CalendarID, nil
}

// BusyEventsInRange lists confirmed events overlapping [start, end).
// All-day events block their whole local day.
func (c *Client) BusyEventsInRange(ctx context.Context, practitionerID string, start, end time.Time) ([]availability.ExternalEvent, error) {
	svc, calendarID, err := c.service(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	var events []availability.ExternalEvent
	pageToken := ""
	for {
		call := svc.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			MaxResults(250).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list calendar events: %w", err)
		}

		for _, item := range page.Items {
			if item.Status == "cancelled" || item.Transparency == "transparent" {
				continue
			}
			iv, err := eventInterval(item)
			if err != nil {
				return nil, err
			}
			events = append(events, availability.ExternalEvent{Interval: iv, ID: item.Id})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return events, nil
		}
	}
}

// CreateTentativeEvent mirrors a pending booking onto the practitioner's
// calendar so the slot reads busy while the payment is in flight.
func (c *Client) CreateTentativeEvent(ctx context.Context, practitionerID, summary string, start, end time.Time) (string, error) {
	return c.createEvent(ctx, practitionerID, summary, "tentative", start, end)
}

func (c *Client) CreateConfirmedEvent(ctx context.Context, practitionerID, summary string, start, end time.Time) (string, error) {
	return c.createEvent(ctx, practitionerID, summary, "confirmed", start, end)
}

func (c *Client) createEvent(ctx context.Context, practitionerID, summary, status string, start, end time.Time) (string, error) {
	svc, calendarID, err := c.service(ctx, practitionerID)
	if err != nil {
		return "", err
	}
	created, err := svc.Events.Insert(calendarID, &calendar.Event{
		Summary: summary,
		Status:  status,
		Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &calendar.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	return created.Id, nil
}

// ConfirmEvent flips a tentative mirror event to confirmed after payment.
func (c *Client) ConfirmEvent(ctx context.Context, practitionerID, eventID string) error {
	svc, calendarID, err := c.service(ctx, practitionerID)
	if err != nil {
		return err
	}
	_, err = svc.Events.Patch(calendarID, eventID, &calendar.Event{Status: "confirmed"}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("confirm calendar event: %w", err)
	}
	return nil
}

func (c *Client) DeleteEvent(ctx context.Context, practitionerID, eventID string) error {
	svc, calendarID, err := c.service(ctx, practitionerID)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

func eventInterval(item *calendar.Event) (availability.Interval, error) {
	if item.Start == nil || item.End == nil {
		return availability.Interval{}, fmt.Errorf("calendar event %s has no time bounds", item.Id)
	}
	if item.Start.DateTime != "" {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return availability.Interval{}, fmt.Errorf("parse event %s start: %w", item.Id, err)
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return availability.Interval{}, fmt.Errorf("parse event %s end: %w", item.Id, err)
		}
		return availability.Interval{Start: start.UTC(), End: end.UTC()}, nil
	}

	// All-day events carry bare dates in the calendar's local zone.
	loc := time.UTC
	if item.Start.TimeZone != "" {
		if parsed, err := time.LoadLocation(item.Start.TimeZone); err == nil {
			loc = parsed
		}
	}
	startDay, err := time.ParseInLocation("2006-01-02", item.Start.Date, loc)
	if err != nil {
		return availability.Interval{}, fmt.Errorf("parse event %s start date: %w", item.Id, err)
	}
	endDay, err := time.ParseInLocation("2006-01-02", item.End.Date, loc)
	if err != nil {
		return availability.Interval{}, fmt.Errorf("parse event %s end date: %w", item.Id, err)
	}
	return availability.Interval{Start: startDay.UTC(), End: endDay.UTC()}, nil
}
