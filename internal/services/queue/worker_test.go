package queue

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakePhone struct {
	active     int
	activeErr  error
	placeErr   error
	placed     []telephony.CallOptions
	nextSIDSeq int
}

func (f *fakePhone) PlaceCall(opts telephony.CallOptions) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placed = append(f.placed, opts)
	f.nextSIDSeq++
	return fmt.Sprintf("CA%03d", f.nextSIDSeq), nil
}

func (f *fakePhone) ActiveCallCount() (int, error) {
	return f.active, f.activeErr
}

type staticTokens struct{ err error }

func (s staticTokens) AccessToken(ctx context.Context, locationID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "test-token", nil
}

var dbSeq int

func newWorker(t *testing.T, phone *fakePhone, tokens ghl.TokenSource) (*Worker, repository.RepositoryManager) {
	t.Helper()
	dbSeq++
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:workertest%d?mode=memory&cache=shared", dbSeq)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	repos := repository.NewGormRepositoryManager(db)

	crm := ghl.NewClient("loc1", "cal1", tokens)
	httpmock.ActivateNonDefault(crm.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodPost, `=~/contacts/.*/notes$`,
		httpmock.NewStringResponder(201, `{}`))

	w := NewWorker(repos, phone, crm, tokens, notify.New(""), "loc1", 3, 10*time.Second)
	return w, repos
}

func enqueue(t *testing.T, repos repository.RepositoryManager, contactID string, at time.Time) *domain.CallQueueEntry {
	t.Helper()
	entry := &domain.CallQueueEntry{
		ContactID:   contactID,
		PhoneNumber: "+390612345678",
		Service:     domain.ServiceInfissi,
		Province:    "RM",
		ScheduledAt: at,
		CallOptionsBlob: telephony.EncodeCallOptions(telephony.CallOptions{
			To:   "+390612345678",
			From: "+390600000000",
		}),
		InitialSignedURL:      "wss://example/signed",
		FirstAttemptTimestamp: at,
	}
	require.NoError(t, repos.CallQueue().Enqueue(context.Background(), entry))
	return entry
}

func TestTick_PlacesDueCalls(t *testing.T) {
	phone := &fakePhone{active: 0}
	w, repos := newWorker(t, phone, staticTokens{})
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, repos, "C1", now.Add(-time.Minute))
	enqueue(t, repos, "C2", now.Add(-time.Second))
	enqueue(t, repos, "C3", now.Add(time.Hour)) // not due

	w.Tick(ctx)

	assert.Len(t, phone.placed, 2)

	// Each placed call has its record keyed by the returned sid.
	rec, err := repos.Calls().GetBySID(ctx, "CA001")
	require.NoError(t, err)
	assert.Equal(t, "C1", rec.ContactID)
	assert.Equal(t, "wss://example/signed", rec.SignedURL)

	// Placed rows are deleted; the future row stays pending.
	pending, err := repos.CallQueue().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestTick_AdmissionControl(t *testing.T) {
	phone := &fakePhone{active: 2} // only one free slot under the cap of 3
	w, repos := newWorker(t, phone, staticTokens{})
	ctx := context.Background()
	now := time.Now().UTC()

	enqueue(t, repos, "C1", now.Add(-time.Minute))
	enqueue(t, repos, "C2", now.Add(-time.Minute))

	w.Tick(ctx)
	assert.Len(t, phone.placed, 1)
}

func TestTick_FailClosedOnListError(t *testing.T) {
	phone := &fakePhone{activeErr: fmt.Errorf("twilio down")}
	w, repos := newWorker(t, phone, staticTokens{})
	ctx := context.Background()

	enqueue(t, repos, "C1", time.Now().UTC().Add(-time.Minute))

	w.Tick(ctx)
	assert.Empty(t, phone.placed)

	pending, err := repos.CallQueue().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "entries must stay pending when the cap is unknowable")
}

func TestTick_PlaceFailureMarksRowFailed(t *testing.T) {
	phone := &fakePhone{placeErr: fmt.Errorf("dial rejected")}
	w, repos := newWorker(t, phone, staticTokens{})
	ctx := context.Background()

	entry := enqueue(t, repos, "C1", time.Now().UTC().Add(-time.Minute))

	w.Tick(ctx)

	got, err := repos.CallQueue().GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "dial rejected")
}

func TestTick_MissingTokenFailsEntry(t *testing.T) {
	phone := &fakePhone{}
	w, repos := newWorker(t, phone, staticTokens{err: fmt.Errorf("no token stored")})
	ctx := context.Background()

	entry := enqueue(t, repos, "C1", time.Now().UTC().Add(-time.Minute))

	w.Tick(ctx)

	assert.Empty(t, phone.placed)
	got, err := repos.CallQueue().GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "crm token unavailable")
}
