package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jarcoal/httpmock"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/postcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const webhookSecret = "wh-secret"

func newWebhookEnv(t *testing.T) (*mux.Router, repository.RepositoryManager) {
	t.Helper()
	dbSeq++
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:webhooktest%d?mode=memory&cache=shared", dbSeq)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	repos := repository.NewGormRepositoryManager(db)

	crm := ghl.NewClient("loc1", "cal1", staticTokens{})
	httpmock.ActivateNonDefault(crm.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodPost, `=~/contacts/.*/notes$`,
		httpmock.NewStringResponder(201, `{}`))

	pipeline := postcall.NewPipeline(repos, crm, notify.New(""), nil)
	h := NewWebhookHandler(webhookSecret, pipeline, notify.New(""))
	r := mux.NewRouter()
	h.SetupWebhookRoutes(r)
	return r, repos
}

func signBody(ts int64, body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	return fmt.Sprintf("t=%d,v0=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(router *mux.Router, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/elevenlabs/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("elevenlabs-signature", signature)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

const transcriptionBody = `{
	"type": "post_call_transcription",
	"data": {
		"conversation_id": "conv1",
		"transcript": [{"role": "agent", "message": "Pronto"}],
		"analysis": {"call_successful": "success", "transcript_summary": "Cliente interessato"},
		"conversation_initiation_client_data": {"dynamic_variables": {"contactId": "C1", "phone": "+39061", "fullName": "Mario Rossi", "service": "Infissi"}}
	}
}`

func TestWebhook_ValidSignature(t *testing.T) {
	router, repos := newWebhookEnv(t)

	ctx := context.Background()
	require.NoError(t, repos.Calls().Create(ctx, &domain.CallRecord{
		CallSID:   "CA1",
		ContactID: "C1",
		Service:   domain.ServiceInfissi,
	}))
	require.NoError(t, repos.Calls().SetConversationID(ctx, "CA1", "conv1"))

	rr := postWebhook(router, transcriptionBody, signBody(time.Now().Add(-5*time.Minute).Unix(), transcriptionBody))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rec, err := repos.Calls().GetBySID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, "completed-success", rec.Status)
	assert.Equal(t, "Cliente interessato", rec.TranscriptSummary)
}

func TestWebhook_ReplayIsRejected(t *testing.T) {
	router, _ := newWebhookEnv(t)

	rr := postWebhook(router, transcriptionBody, signBody(time.Now().Add(-31*time.Minute).Unix(), transcriptionBody))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWebhook_BadSignatureIsRejected(t *testing.T) {
	router, _ := newWebhookEnv(t)

	rr := postWebhook(router, transcriptionBody, "t=123,v0=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = postWebhook(router, transcriptionBody, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestWebhook_OtherTypesIgnored(t *testing.T) {
	router, _ := newWebhookEnv(t)

	body := `{"type": "post_call_audio", "data": {}}`
	rr := postWebhook(router, body, signBody(time.Now().Unix(), body))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ignored")
}
