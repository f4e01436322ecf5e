package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://services.leadconnectorhq.com"

// apiVersion is the Version header GoHighLevel requires on every call.
const apiVersion = "2021-04-15"

// Client talks to the GoHighLevel REST API. Every request resolves a valid
// bearer through the TokenSource first.
type Client struct {
	BaseURL    string
	LocationID string
	CalendarID string
	Tokens     TokenSource
	HTTPClient *http.Client
}

// TokenSource yields a valid access token for a location, refreshing if
// needed. Implemented by the OAuth manager in this package.
type TokenSource interface {
	AccessToken(ctx context.Context, locationID string) (string, error)
}

// NewClient creates a GoHighLevel API client.
func NewClient(locationID, calendarID string, tokens TokenSource) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		LocationID: locationID,
		CalendarID: calendarID,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FreeSlotsRaw fetches the raw free-slots response for a calendar window,
// optionally filtered to a set of rep user ids. The response shape varies;
// normalization happens in the slot service.
func (c *Client) FreeSlotsRaw(ctx context.Context, start, end time.Time, userIDs []string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("startDate", fmt.Sprintf("%d", start.UnixMilli()))
	q.Set("endDate", fmt.Sprintf("%d", end.UnixMilli()))
	q.Set("timezone", "Europe/Rome")
	for _, id := range userIDs {
		q.Add("userIds[]", id)
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/free-slots?%s", c.BaseURL, url.PathEscape(c.CalendarID), q.Encode())
	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("free-slots returned status %d: %s", status, truncate(body, 200))
	}
	return json.RawMessage(body), nil
}

// AppointmentRequest is the booking payload.
type AppointmentRequest struct {
	CalendarID   string `json:"calendarId"`
	LocationID   string `json:"locationId"`
	ContactID    string `json:"contactId"`
	StartTime    string `json:"startTime"`
	LocationType string `json:"meetingLocationType"`
	Address      string `json:"address"`
	UserID       string `json:"assignedUserId,omitempty"`
}

// BookAppointment creates a calendar appointment. Non-2xx responses are
// returned as *APIError so the booking coordinator can run its fallback.
func (c *Client) BookAppointment(ctx context.Context, contactID string, start time.Time, address, userID string) (map[string]interface{}, error) {
	reqBody := AppointmentRequest{
		CalendarID:   c.CalendarID,
		LocationID:   c.LocationID,
		ContactID:    contactID,
		StartTime:    start.UTC().Format(time.RFC3339),
		LocationType: "Address",
		Address:      address,
		UserID:       userID,
	}

	endpoint := c.BaseURL + "/calendars/events/appointments"
	body, status, err := c.do(ctx, http.MethodPost, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: truncate(body, 500)}
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = map[string]interface{}{"raw": string(body)}
	}
	return parsed, nil
}

// Contact is the subset of a CRM contact the system reads.
type Contact struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Address1    string   `json:"address1"`
	City        string   `json:"city"`
	PostalCode  string   `json:"postalCode"`
	Tags        []string `json:"tags"`
	CustomField []struct {
		ID    string      `json:"id"`
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	} `json:"customFields"`
}

// FullAddress joins the address parts the way intake expects them.
func (ct *Contact) FullAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{ct.Address1, ct.PostalCode, ct.City} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

// GetContact fetches a contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	endpoint := fmt.Sprintf("%s/contacts/%s", c.BaseURL, url.PathEscape(contactID))
	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get contact returned status %d: %s", status, truncate(body, 200))
	}

	var wrapper struct {
		Contact Contact `json:"contact"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode contact: %w", err)
	}
	return &wrapper.Contact, nil
}

// UpdateContactAddress writes a new address line onto the contact.
func (c *Client) UpdateContactAddress(ctx context.Context, contactID, fullAddress string) error {
	endpoint := fmt.Sprintf("%s/contacts/%s", c.BaseURL, url.PathEscape(contactID))
	body, status, err := c.do(ctx, http.MethodPut, endpoint, map[string]string{"address1": fullAddress})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("update contact returned status %d: %s", status, truncate(body, 200))
	}
	return nil
}

// AddNote appends a note to the contact timeline. Best effort in most call
// sites; errors are surfaced for the caller to decide.
func (c *Client) AddNote(ctx context.Context, contactID, note string) error {
	endpoint := fmt.Sprintf("%s/contacts/%s/notes", c.BaseURL, url.PathEscape(contactID))
	body, status, err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"body": note})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("add note returned status %d: %s", status, truncate(body, 200))
	}
	return nil
}

// AddToWorkflow enrolls the contact in a workflow (no-sales-rep tagging,
// call-scheduled tagging).
func (c *Client) AddToWorkflow(ctx context.Context, contactID, workflowID string) error {
	endpoint := fmt.Sprintf("%s/contacts/%s/workflow/%s", c.BaseURL, url.PathEscape(contactID), url.PathEscape(workflowID))
	body, status, err := c.do(ctx, http.MethodPost, endpoint, map[string]string{})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("add to workflow returned status %d: %s", status, truncate(body, 200))
	}
	return nil
}

// APIError is a non-2xx CRM response carried as a value so callers can branch
// on it (booking fallback).
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghl api error: status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, int, error) {
	token, err := c.Tokens.AccessToken(ctx, c.LocationID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to obtain ghl token: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ghl request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode >= 400 {
		logger.Base().Warn("ghl api non-2xx",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
