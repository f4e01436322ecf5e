package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// Phone is the telephony surface the worker needs.
type Phone interface {
	PlaceCall(opts telephony.CallOptions) (string, error)
	ActiveCallCount() (int, error)
}

// Worker is the singleton dialing loop: every tick it claims due queue rows
// up to the free capacity under MAX_ACTIVE_CALLS and places the calls.
type Worker struct {
	repos      repository.RepositoryManager
	phone      Phone
	crm        *ghl.Client
	tokens     ghl.TokenSource
	notifier   *notify.Notifier
	locationID string

	maxActive int
	tick      time.Duration
}

// NewWorker creates the queue worker.
func NewWorker(repos repository.RepositoryManager, phone Phone, crm *ghl.Client, tokens ghl.TokenSource,
	notifier *notify.Notifier, locationID string, maxActive int, tick time.Duration) *Worker {
	if maxActive <= 0 {
		maxActive = 3
	}
	if tick < 5*time.Second {
		tick = 5 * time.Second
	}
	return &Worker{
		repos:      repos,
		phone:      phone,
		crm:        crm,
		tokens:     tokens,
		notifier:   notifier,
		locationID: locationID,
		maxActive:  maxActive,
		tick:       tick,
	}
}

// Start runs the ticking loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	logger.Base().Info("queue worker started",
		zap.Duration("tick", w.tick),
		zap.Int("max_active", w.maxActive),
	)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("queue worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one admission-and-dial pass. Exported so a forced sweep and the
// tests can drive it directly.
func (w *Worker) Tick(ctx context.Context) {
	active, err := w.phone.ActiveCallCount()
	if err != nil {
		// Cannot see the live call count: assume the cap is saturated.
		logger.Base().Warn("active call count unavailable, skipping tick", zap.Error(err))
		return
	}

	available := w.maxActive - active
	if available <= 0 {
		return
	}

	claimed, err := w.repos.CallQueue().ClaimDue(ctx, time.Now().UTC(), available)
	if err != nil {
		logger.Base().Error("queue claim failed", zap.Error(err))
		return
	}

	for i := range claimed {
		w.processEntry(ctx, &claimed[i])
	}
}

func (w *Worker) processEntry(ctx context.Context, entry *domain.CallQueueEntry) {
	if err := w.placeCall(ctx, entry); err != nil {
		logger.Base().Error("queue entry failed",
			zap.Uint("queue_id", entry.ID),
			zap.Error(err),
		)
		if dbErr := w.repos.CallQueue().MarkFailed(ctx, entry.ID, err.Error()); dbErr != nil {
			logger.Base().Error("failed to mark queue entry failed", zap.Error(dbErr))
		}
		w.notifier.Error(ctx, notify.SeverityNormal, "Chiamata non avviata", err, notify.Context{
			ContactID: entry.ContactID,
			Phone:     entry.PhoneNumber,
			Service:   string(entry.Service),
			Province:  entry.Province,
		})
		return
	}

	if err := w.repos.CallQueue().Delete(ctx, entry.ID); err != nil {
		logger.Base().Error("failed to delete placed queue entry",
			zap.Uint("queue_id", entry.ID),
			zap.Error(err),
		)
	}
}

func (w *Worker) placeCall(ctx context.Context, entry *domain.CallQueueEntry) error {
	// A missing CRM token would strand the call mid-flow; check before dialing.
	if _, err := w.tokens.AccessToken(ctx, w.locationID); err != nil {
		return fmt.Errorf("crm token unavailable: %w", err)
	}

	opts, err := telephony.DecodeCallOptions(entry.CallOptionsBlob)
	if err != nil {
		return err
	}

	callSID, err := w.phone.PlaceCall(opts)
	if err != nil {
		return err
	}

	// The record must exist before the first status callback can observe it.
	rec := &domain.CallRecord{
		CallSID:               callSID,
		To:                    entry.PhoneNumber,
		ContactID:             entry.ContactID,
		RetryCount:            entry.RetryStage,
		Status:                "initiated",
		SignedURL:             entry.InitialSignedURL,
		FullName:              entry.FullName,
		FirstName:             entry.FirstName,
		Email:                 entry.Email,
		AvailableSlots:        entry.AvailableSlotsText,
		SlotLayout:            entry.SlotLayout,
		FirstAttemptTimestamp: entry.FirstAttemptTimestamp,
		Service:               entry.Service,
		Province:              entry.Province,
	}
	if err := w.repos.Calls().Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist call record for %s: %w", callSID, err)
	}

	// Best effort: the note never blocks the dial.
	note := fmt.Sprintf("📞 Chiamata in corso (tentativo %d) — %s, %s",
		entry.RetryStage+1, entry.Service, timeutil.NowItalianStamp(time.Now()))
	if err := w.crm.AddNote(ctx, entry.ContactID, note); err != nil {
		logger.Base().Warn("failed to add attempt note",
			zap.String("contact_id", entry.ContactID),
			zap.Error(err),
		)
	}

	return nil
}
