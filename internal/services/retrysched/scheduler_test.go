package retrysched

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakePhone struct {
	hangups []string
}

func (f *fakePhone) Hangup(callSID string) error {
	f.hangups = append(f.hangups, callSID)
	return nil
}

var dbSeq int

func newScheduler(t *testing.T) (*Scheduler, repository.RepositoryManager, *fakePhone) {
	t.Helper()
	dbSeq++
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:retrytest%d?mode=memory&cache=shared", dbSeq)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	repos := repository.NewGormRepositoryManager(db)
	phone := &fakePhone{}
	sched := New(repos, phone, notify.New(""), func(rec *domain.CallRecord) telephony.CallOptions {
		return telephony.CallOptions{To: rec.To, From: "+390000000000"}
	})
	return sched, repos, phone
}

func seedCall(t *testing.T, repos repository.RepositoryManager, retryCount int) *domain.CallRecord {
	t.Helper()
	rec := &domain.CallRecord{
		CallSID:               "CA-test",
		To:                    "+390612345678",
		ContactID:             "C1",
		RetryCount:            retryCount,
		Service:               domain.ServiceInfissi,
		Province:              "RM",
		AvailableSlots:        "Venerdì 21-03-2025: 10:00\nSales Rep: U1",
		SlotLayout:            domain.SlotLayoutSingle,
		SignedURL:             "wss://example/signed",
		FirstAttemptTimestamp: time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repos.Calls().Create(context.Background(), rec))
	return rec
}

func TestIsMachine(t *testing.T) {
	for _, token := range []string{"machine_start", "fax", "machine_beep", "machine_end_silence", "machine_end_other", "machine_end_beep"} {
		assert.True(t, IsMachine(token), token)
	}
	assert.False(t, IsMachine("human"))
	assert.False(t, IsMachine(""))
}

func TestNextAttemptTime(t *testing.T) {
	now := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC) // Tuesday 10:00 Rome

	assert.Equal(t, now, NextAttemptTime(1, now))
	assert.Equal(t, now.Add(time.Hour), NextAttemptTime(2, now))
	assert.Equal(t, now, NextAttemptTime(3, now))

	at4 := NextAttemptTime(4, now)
	d, hm := timeutil.UTCToItalian(at4)
	assert.Equal(t, "09:00", hm)
	assert.Equal(t, "12-03-2025", d) // 09:00 already passed today

	at6 := NextAttemptTime(6, now)
	_, hm = timeutil.UTCToItalian(at6)
	assert.Equal(t, "14:00", hm)

	at8 := NextAttemptTime(8, now)
	_, hm = timeutil.UTCToItalian(at8)
	assert.Equal(t, "19:00", hm)

	assert.Equal(t, now, NextAttemptTime(9, now))
}

func TestHandleStatus_MachineOnLiveCall(t *testing.T) {
	sched, repos, phone := newScheduler(t)
	ctx := context.Background()
	rec := seedCall(t, repos, 0)

	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "in-progress", AnsweredBy: "machine_start"})

	// Hangup sent, latch set, an immediate stage-1 retry enqueued.
	assert.Equal(t, []string{rec.CallSID}, phone.hangups)

	got, err := repos.Calls().GetBySID(ctx, rec.CallSID)
	require.NoError(t, err)
	assert.True(t, got.RetryScheduled)

	claimed, err := repos.CallQueue().ClaimDue(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].RetryStage)
	assert.WithinDuration(t, rec.FirstAttemptTimestamp, claimed[0].FirstAttemptTimestamp, time.Second)
	assert.Equal(t, rec.AvailableSlots, claimed[0].AvailableSlotsText)
	assert.Equal(t, rec.SignedURL, claimed[0].InitialSignedURL)
}

func TestHandleStatus_NoAnswerEscalatesToPlusOneHour(t *testing.T) {
	sched, repos, _ := newScheduler(t)
	ctx := context.Background()
	rec := seedCall(t, repos, 1)

	before := time.Now().UTC()
	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "no-answer"})

	claimed, err := repos.CallQueue().ClaimDue(ctx, before.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].RetryStage)
	assert.WithinDuration(t, before.Add(time.Hour), claimed[0].ScheduledAt, 5*time.Second)
}

func TestHandleStatus_DuplicateCallbackIsNoOp(t *testing.T) {
	sched, repos, _ := newScheduler(t)
	ctx := context.Background()
	rec := seedCall(t, repos, 0)

	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "busy"})
	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "busy"})

	claimed, err := repos.CallQueue().ClaimDue(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1, "duplicate callbacks must schedule exactly one retry")
}

func TestHandleStatus_HumanCompletionIsTerminal(t *testing.T) {
	sched, repos, phone := newScheduler(t)
	ctx := context.Background()
	rec := seedCall(t, repos, 0)

	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "completed", AnsweredBy: "human"})

	assert.Empty(t, phone.hangups)
	pending, err := repos.CallQueue().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestHandleStatus_CapAtTenAttempts(t *testing.T) {
	sched, repos, _ := newScheduler(t)
	ctx := context.Background()
	rec := seedCall(t, repos, 9)

	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "no-answer"})

	pending, err := repos.CallQueue().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "the tenth attempt schedules nothing more")
}

func TestHandleStatus_PermanentIssueStops(t *testing.T) {
	sched, repos, _ := newScheduler(t)
	ctx := context.Background()
	rec := &domain.CallRecord{
		CallSID:    "CA-unknown",
		To:         "+390612345678",
		ContactID:  "C2",
		RetryCount: 2,
		Service:    domain.ServiceVetrate,
		Province:   "unknown",
	}
	require.NoError(t, repos.Calls().Create(ctx, rec))

	sched.HandleStatus(ctx, StatusEvent{CallSID: rec.CallSID, CallStatus: "no-answer"})

	pending, err := repos.CallQueue().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}
