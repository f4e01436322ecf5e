package retrysched

import (
	"context"
	"fmt"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/locale"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// MaxAttempts caps the retry chain: the attempt with retry_count 9 is the
// tenth and last, and schedules nothing further.
const MaxAttempts = 10

// machineTokens are the AnsweredBy values that mean a machine picked up.
var machineTokens = map[string]bool{
	"machine_start":       true,
	"fax":                 true,
	"machine_beep":        true,
	"machine_end_silence": true,
	"machine_end_other":   true,
	"machine_end_beep":    true,
}

// IsMachine reports whether answeredBy is a machine-detection token.
func IsMachine(answeredBy string) bool {
	return machineTokens[answeredBy]
}

// retryableStatuses are call outcomes that earn another attempt on their own.
var retryableStatuses = map[string]bool{
	"no-answer": true,
	"busy":      true,
	"failed":    true,
}

// liveStatuses are statuses during which the call can still be hung up.
var liveStatuses = map[string]bool{
	"queued":      true,
	"ringing":     true,
	"in-progress": true,
}

// StatusEvent is one telephony status callback.
type StatusEvent struct {
	CallSID    string
	CallStatus string
	AnsweredBy string
}

// Hanguper is the one telephony operation the scheduler needs.
type Hanguper interface {
	Hangup(callSID string) error
}

// Scheduler consumes telephony status callbacks and turns retryable outcomes
// into new call_queue rows on the fixed schedule.
type Scheduler struct {
	repos    repository.RepositoryManager
	phone    Hanguper
	notifier *notify.Notifier

	// Compose builds a fresh telephony options blob for a retry attempt.
	Compose func(rec *domain.CallRecord) telephony.CallOptions
}

// New creates a retry scheduler.
func New(repos repository.RepositoryManager, phone Hanguper, notifier *notify.Notifier,
	compose func(rec *domain.CallRecord) telephony.CallOptions) *Scheduler {
	return &Scheduler{repos: repos, phone: phone, notifier: notifier, Compose: compose}
}

// HandleStatus processes one status callback. It always succeeds from the
// telephony provider's point of view; internal failures are logged and
// notified.
func (s *Scheduler) HandleStatus(ctx context.Context, ev StatusEvent) {
	rec, err := s.repos.Calls().GetBySID(ctx, ev.CallSID)
	if err != nil {
		logger.Base().Warn("status callback for unknown call",
			zap.String("call_sid", ev.CallSID),
			zap.Error(err),
		)
		return
	}

	if err := s.repos.Calls().UpdateStatus(ctx, ev.CallSID, ev.CallStatus, ev.AnsweredBy); err != nil {
		logger.Base().Error("failed to update call status", zap.Error(err))
	}

	machine := IsMachine(ev.AnsweredBy)

	// A machine on a live call gets hung up before the retry is scheduled.
	if machine && liveStatuses[ev.CallStatus] {
		if err := s.phone.Hangup(ev.CallSID); err != nil {
			logger.Base().Warn("failed to hang up machine-answered call",
				zap.String("call_sid", ev.CallSID),
				zap.Error(err),
			)
		}
	}

	retryable := (machine && (ev.CallStatus == "completed" || ev.CallStatus == "canceled" || liveStatuses[ev.CallStatus])) ||
		retryableStatuses[ev.CallStatus]
	if !retryable {
		// Human completion and intermediate statuses are terminal or ignorable.
		return
	}

	won, err := s.repos.Calls().TrySetRetryLatch(ctx, ev.CallSID)
	if err != nil {
		logger.Base().Error("failed to set retry latch", zap.Error(err))
		return
	}
	if !won {
		// Duplicate callback; the first one already scheduled the retry.
		return
	}

	if reason := s.permanentIssue(rec); reason != "" {
		s.notifier.Error(ctx, notify.SeverityNormal,
			fmt.Sprintf("Richiamata interrotta: %s", reason), nil,
			notify.Context{ContactID: rec.ContactID, Phone: rec.To, Service: string(rec.Service), Province: rec.Province})
		return
	}

	nextIndex := rec.RetryCount + 1
	if nextIndex >= MaxAttempts {
		s.notifier.Info(ctx, "Tentativi esauriti, nessuna richiamata",
			notify.Context{ContactID: rec.ContactID, Phone: rec.To, Service: string(rec.Service), Province: rec.Province})
		return
	}

	scheduledAt := NextAttemptTime(nextIndex, time.Now().UTC())
	if err := s.enqueueRetry(ctx, rec, nextIndex, scheduledAt); err != nil {
		logger.Base().Error("failed to enqueue retry", zap.Error(err))
		s.notifier.Error(ctx, notify.SeverityFatal, "Impossibile pianificare la richiamata", err,
			notify.Context{ContactID: rec.ContactID, Phone: rec.To, Service: string(rec.Service)})
		return
	}

	logger.Base().Info("retry scheduled",
		zap.String("call_sid", ev.CallSID),
		zap.Int("retry_stage", nextIndex),
		zap.Time("scheduled_at", scheduledAt),
	)
}

// permanentIssue returns a non-empty reason when the chain must stop
// regardless of remaining attempts.
func (s *Scheduler) permanentIssue(rec *domain.CallRecord) string {
	if rec.Province == locale.ProvinceUnknown && rec.RetryCount >= 2 {
		return "provincia non determinata dopo più tentativi"
	}
	return ""
}

// NextAttemptTime computes when attempt nextIndex (1-based within the chain)
// should run.
//
//	1, 3, 5, 7, 9  immediate
//	2              +1h
//	4              next 09:00 Rome
//	6              next 14:00 Rome
//	8              next 19:00 Rome
func NextAttemptTime(nextIndex int, now time.Time) time.Time {
	switch nextIndex {
	case 2:
		return now.Add(time.Hour)
	case 4:
		return timeutil.NextRomeClock(now, 9, 0)
	case 6:
		return timeutil.NextRomeClock(now, 14, 0)
	case 8:
		return timeutil.NextRomeClock(now, 19, 0)
	default:
		return now
	}
}

func (s *Scheduler) enqueueRetry(ctx context.Context, rec *domain.CallRecord, nextIndex int, at time.Time) error {
	opts := s.Compose(rec)
	entry := &domain.CallQueueEntry{
		ContactID:             rec.ContactID,
		PhoneNumber:           rec.To,
		FirstName:             rec.FirstName,
		FullName:              rec.FullName,
		Email:                 rec.Email,
		Service:               rec.Service,
		Province:              rec.Province,
		RetryStage:            nextIndex,
		Status:                domain.QueueStatusPending,
		ScheduledAt:           at,
		CallOptionsBlob:       telephony.EncodeCallOptions(opts),
		AvailableSlotsText:    rec.AvailableSlots,
		SlotLayout:            rec.SlotLayout,
		InitialSignedURL:      rec.SignedURL,
		FirstAttemptTimestamp: rec.FirstAttemptTimestamp,
	}
	return s.repos.CallQueue().Enqueue(ctx, entry)
}
