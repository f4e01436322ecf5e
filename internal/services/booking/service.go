package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// Status is the outcome of a booking attempt.
type Status string

const (
	StatusBooked         Status = "booked"
	StatusAlternatives   Status = "booking_failed_alternatives_available"
	StatusNoAlternatives Status = "booking_failed_no_alternatives"
)

// Request is a booking intent, usually arriving from the live conversation.
type Request struct {
	AppointmentDate string // "DD-MM-YYYY HH:mm" or "YYYY-MM-DD HH:mm", Rome civil time
	ContactID       string
	Address         string
	UserID          string
}

// Outcome is the booking result handed back to the caller.
type Outcome struct {
	Status       Status
	Booked       map[string]interface{}
	Alternatives []slots.Slot
	StartUTC     time.Time
}

// ErrBadDate marks a malformed appointmentDate; handlers map it to 400.
var ErrBadDate = errors.New("invalid appointment date")

// Coordinator validates a requested slot, books via the CRM and, when the CRM
// rejects, collects the earliest alternatives from the next two available days
// within a week.
type Coordinator struct {
	crm            *ghl.Client
	defaultAddress string
}

// NewCoordinator creates a booking coordinator.
func NewCoordinator(crm *ghl.Client, defaultAddress string) *Coordinator {
	return &Coordinator{crm: crm, defaultAddress: defaultAddress}
}

// Book runs one booking attempt with the two-day alternative fallback.
func (c *Coordinator) Book(ctx context.Context, req Request) (*Outcome, error) {
	if req.ContactID == "" {
		return nil, fmt.Errorf("%w: contactId is required", ErrBadDate)
	}
	startUTC, err := timeutil.ParseFlexibleDateTime(req.AppointmentDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDate, err)
	}

	address := req.Address
	if address == "" {
		address = c.defaultAddress
	}

	booked, err := c.crm.BookAppointment(ctx, req.ContactID, startUTC, address, req.UserID)
	if err == nil {
		logger.Base().Info("appointment booked",
			zap.String("contact_id", req.ContactID),
			zap.Time("start", startUTC),
			zap.String("user_id", req.UserID),
		)
		return &Outcome{Status: StatusBooked, Booked: booked, StartUTC: startUTC}, nil
	}

	var apiErr *ghl.APIError
	if !errors.As(err, &apiErr) {
		return nil, err
	}

	logger.Base().Warn("booking rejected by crm, collecting alternatives",
		zap.String("contact_id", req.ContactID),
		zap.Int("status", apiErr.Status),
	)

	alts, altErr := c.alternatives(ctx, startUTC, req.UserID)
	if altErr != nil {
		logger.Base().Error("alternative lookup failed", zap.Error(altErr))
		return &Outcome{Status: StatusNoAlternatives, StartUTC: startUTC}, nil
	}
	if len(alts) == 0 {
		return &Outcome{Status: StatusNoAlternatives, StartUTC: startUTC}, nil
	}
	return &Outcome{Status: StatusAlternatives, Alternatives: alts, StartUTC: startUTC}, nil
}

// alternatives returns every slot from the first two distinct UTC dates with
// availability at or after the requested time, inside a 7-day window anchored
// at UTC midnight of the failed date.
func (c *Coordinator) alternatives(ctx context.Context, requested time.Time, userID string) ([]slots.Slot, error) {
	windowStart := requested.UTC().Truncate(24 * time.Hour)
	windowEnd := windowStart.Add(7 * 24 * time.Hour)

	var userIDs []string
	if userID != "" {
		userIDs = []string{userID}
	}

	raw, err := c.crm.FreeSlotsRaw(ctx, windowStart, windowEnd, userIDs)
	if err != nil {
		return nil, err
	}
	all, err := slots.Normalize(raw, userIDs)
	if err != nil {
		return nil, err
	}

	var eligible []slots.Slot
	for _, s := range all {
		if !s.Time.Before(requested) {
			eligible = append(eligible, s)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Time.Before(eligible[j].Time) })

	var out []slots.Slot
	seenDates := map[string]bool{}
	for _, s := range eligible {
		date := s.Time.UTC().Format("2006-01-02")
		if !seenDates[date] && len(seenDates) == 2 {
			break
		}
		seenDates[date] = true
		out = append(out, s)
	}
	return out, nil
}
