package booking

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct{}

func (staticTokens) AccessToken(ctx context.Context, locationID string) (string, error) {
	return "test-token", nil
}

func newCoordinator(t *testing.T) (*Coordinator, *ghl.Client) {
	t.Helper()
	crm := ghl.NewClient("loc1", "cal1", staticTokens{})
	httpmock.ActivateNonDefault(crm.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewCoordinator(crm, "Da definire con il cliente"), crm
}

func TestBook_Success(t *testing.T) {
	coord, _ := newCoordinator(t)

	httpmock.RegisterResponder(http.MethodPost, "https://services.leadconnectorhq.com/calendars/events/appointments",
		httpmock.NewStringResponder(201, `{"id": "appt1"}`))

	outcome, err := coord.Book(context.Background(), Request{
		AppointmentDate: "17-03-2025 10:00",
		ContactID:       "C1",
		UserID:          "U1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, outcome.Status)
	assert.Equal(t, "appt1", outcome.Booked["id"])
	// 10:00 Rome in March (CET) is 09:00 UTC.
	assert.Equal(t, "2025-03-17T09:00:00Z", outcome.StartUTC.Format("2006-01-02T15:04:05Z"))
}

func TestBook_BadDate(t *testing.T) {
	coord, _ := newCoordinator(t)

	_, err := coord.Book(context.Background(), Request{AppointmentDate: "17/03/2025 10:00", ContactID: "C1"})
	assert.ErrorIs(t, err, ErrBadDate)

	_, err = coord.Book(context.Background(), Request{AppointmentDate: "2025-03-17 10:00"})
	assert.ErrorIs(t, err, ErrBadDate) // missing contact id
}

func TestBook_ConflictReturnsTwoDaysOfAlternatives(t *testing.T) {
	coord, _ := newCoordinator(t)

	httpmock.RegisterResponder(http.MethodPost, "https://services.leadconnectorhq.com/calendars/events/appointments",
		httpmock.NewStringResponder(409, `{"message": "slot taken"}`))
	httpmock.RegisterResponder(http.MethodGet, `=~^https://services\.leadconnectorhq\.com/calendars/cal1/free-slots`,
		httpmock.NewStringResponder(200, `{
			"2025-03-17": {"slots": ["2025-03-17T14:00:00Z", "2025-03-17T16:00:00Z"]},
			"2025-03-18": {"slots": ["2025-03-18T09:30:00Z"]},
			"2025-03-20": {"slots": ["2025-03-20T11:00:00Z"]}
		}`))

	outcome, err := coord.Book(context.Background(), Request{
		AppointmentDate: "2025-03-17 10:00",
		ContactID:       "C1",
		UserID:          "U1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAlternatives, outcome.Status)
	// Slots from the first TWO distinct dates only.
	require.Len(t, outcome.Alternatives, 3)
	assert.Equal(t, "2025-03-17", outcome.Alternatives[0].Time.UTC().Format("2006-01-02"))
	assert.Equal(t, "2025-03-18", outcome.Alternatives[2].Time.UTC().Format("2006-01-02"))
}

func TestBook_ConflictNoAlternatives(t *testing.T) {
	coord, _ := newCoordinator(t)

	httpmock.RegisterResponder(http.MethodPost, "https://services.leadconnectorhq.com/calendars/events/appointments",
		httpmock.NewStringResponder(409, `{}`))
	httpmock.RegisterResponder(http.MethodGet, `=~^https://services\.leadconnectorhq\.com/calendars/cal1/free-slots`,
		httpmock.NewStringResponder(200, `{}`))

	outcome, err := coord.Book(context.Background(), Request{
		AppointmentDate: "2025-03-17 10:00",
		ContactID:       "C1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoAlternatives, outcome.Status)
}

func TestBook_AlternativesFilterPastTimes(t *testing.T) {
	coord, _ := newCoordinator(t)

	httpmock.RegisterResponder(http.MethodPost, "https://services.leadconnectorhq.com/calendars/events/appointments",
		httpmock.NewStringResponder(422, `{}`))
	httpmock.RegisterResponder(http.MethodGet, `=~^https://services\.leadconnectorhq\.com/calendars/cal1/free-slots`,
		httpmock.NewStringResponder(200, `{
			"2025-03-17": {"slots": ["2025-03-17T07:00:00Z", "2025-03-17T14:00:00Z"]}
		}`))

	outcome, err := coord.Book(context.Background(), Request{
		AppointmentDate: "2025-03-17 10:00", // 09:00 UTC
		ContactID:       "C1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAlternatives, outcome.Status)
	require.Len(t, outcome.Alternatives, 1)
	assert.Equal(t, "2025-03-17T14:00:00Z", outcome.Alternatives[0].Time.UTC().Format("2006-01-02T15:04:05Z"))
}
