package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int

func openTestDB(t *testing.T) RepositoryManager {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:repotest%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return NewGormRepositoryManager(db)
}

func TestAutoMigrate_Idempotent(t *testing.T) {
	dbSeq++
	dsn := fmt.Sprintf("file:repotest%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(db))
	// Re-running against a populated schema must not fail.
	require.NoError(t, AutoMigrate(db))
}

func TestCallQueue_ClaimDue(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, repos.CallQueue().Enqueue(ctx, &domain.CallQueueEntry{
			ContactID:   fmt.Sprintf("C%d", i),
			PhoneNumber: "+390600000000",
			Service:     domain.ServiceInfissi,
			ScheduledAt: now.Add(time.Duration(i-2) * time.Minute), // all three due (the last exactly at now)
		}))
	}
	future := &domain.CallQueueEntry{
		ContactID:   "C-future",
		Service:     domain.ServiceInfissi,
		ScheduledAt: now.Add(time.Hour),
	}
	require.NoError(t, repos.CallQueue().Enqueue(ctx, future))

	claimed, err := repos.CallQueue().ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
	for _, e := range claimed {
		assert.Equal(t, domain.QueueStatusProcessing, e.Status)
		assert.NotNil(t, e.LastAttemptAt)
	}

	// Claimed rows are gone from the pending pool.
	again, err := repos.CallQueue().ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// The future row is still pending.
	pending, err := repos.CallQueue().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestCallQueue_ClaimLimit(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repos.CallQueue().Enqueue(ctx, &domain.CallQueueEntry{
			ContactID:   fmt.Sprintf("C%d", i),
			Service:     domain.ServiceVetrate,
			ScheduledAt: now.Add(-time.Minute),
		}))
	}

	claimed, err := repos.CallQueue().ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestCallQueue_MarkFailedAndDelete(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	entry := &domain.CallQueueEntry{ContactID: "C1", Service: domain.ServicePergole, ScheduledAt: time.Now().UTC()}
	require.NoError(t, repos.CallQueue().Enqueue(ctx, entry))

	require.NoError(t, repos.CallQueue().MarkFailed(ctx, entry.ID, "dial error"))
	got, err := repos.CallQueue().GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusFailed, got.Status)
	assert.Equal(t, "dial error", got.LastError)

	require.NoError(t, repos.CallQueue().Delete(ctx, entry.ID))
	_, err = repos.CallQueue().GetByID(ctx, entry.ID)
	assert.Error(t, err)
}

func TestCalls_RetryLatch(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Calls().Create(ctx, &domain.CallRecord{
		CallSID:   "CA1",
		ContactID: "C1",
		Service:   domain.ServiceInfissi,
	}))

	won, err := repos.Calls().TrySetRetryLatch(ctx, "CA1")
	require.NoError(t, err)
	assert.True(t, won)

	// The duplicate callback loses the conditional update.
	won, err = repos.Calls().TrySetRetryLatch(ctx, "CA1")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestCalls_LatestProvinceForContact(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.Calls().Create(ctx, &domain.CallRecord{
		CallSID: "CA1", ContactID: "C1", Province: "RM",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, repos.Calls().Create(ctx, &domain.CallRecord{
		CallSID: "CA2", ContactID: "C1", Province: "MI",
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	prov, err := repos.Calls().LatestProvinceForContact(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "MI", prov)

	prov, err = repos.Calls().LatestProvinceForContact(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", prov)
}

func TestFollowUps_DueAndStuck(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := &domain.FollowUp{ContactID: "C1", FollowUpAt: now.Add(-time.Minute), Service: domain.ServiceInfissi}
	stuck := &domain.FollowUp{ContactID: "C2", FollowUpAt: now.Add(-25 * time.Hour)}
	future := &domain.FollowUp{ContactID: "C3", FollowUpAt: now.Add(time.Hour)}
	bouncing := &domain.FollowUp{ContactID: "C4", FollowUpAt: now.Add(-2 * time.Hour)}
	for _, fu := range []*domain.FollowUp{due, stuck, future, bouncing} {
		require.NoError(t, repos.FollowUps().Create(ctx, fu))
	}
	require.NoError(t, repos.FollowUps().RecordFailure(ctx, bouncing.ID, "intake status 502"))

	dueList, err := repos.FollowUps().Due(ctx, now)
	require.NoError(t, err)
	assert.Len(t, dueList, 3) // due + stuck + bouncing are all past due

	stuckList, err := repos.FollowUps().Stuck(ctx, now)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, fu := range stuckList {
		ids[fu.ContactID] = true
	}
	assert.True(t, ids["C2"], "24h-overdue entry must be stuck")
	assert.True(t, ids["C4"], "1h-overdue entry with failures must be stuck")
	assert.False(t, ids["C1"])
	assert.False(t, ids["C3"])
}

func TestTokens_Upsert(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	tok, err := repos.Tokens().Get(ctx, "loc1")
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, repos.Tokens().Upsert(ctx, &domain.GHLToken{
		LocationID:  "loc1",
		AccessToken: "a1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, repos.Tokens().Upsert(ctx, &domain.GHLToken{
		LocationID:  "loc1",
		AccessToken: "a2",
		ExpiresAt:   time.Now().Add(2 * time.Hour),
	}))

	tok, err = repos.Tokens().Get(ctx, "loc1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "a2", tok.AccessToken)
}

func TestSalesReps_Covers(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, repos.SalesReps().Upsert(ctx, &domain.SalesRep{
		GHLUserID: "U1", Name: "Anna", Services: "Infissi,Vetrate", Provinces: "RM,LT", Active: true,
	}))
	require.NoError(t, repos.SalesReps().Upsert(ctx, &domain.SalesRep{
		GHLUserID: "U2", Name: "Bruno", Services: "Pergole", Provinces: "MI", Active: false,
	}))

	reps, err := repos.SalesReps().GetAllActive(ctx)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.True(t, reps[0].Covers(domain.ServiceInfissi, "RM"))
	assert.False(t, reps[0].Covers(domain.ServicePergole, "RM"))
	assert.False(t, reps[0].Covers(domain.ServiceInfissi, "MI"))
}
