package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/services/postcall"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// WebhookHandler receives the signed ElevenLabs post-call webhook.
type WebhookHandler struct {
	secret   string
	pipeline *postcall.Pipeline
	notifier *notify.Notifier
}

// NewWebhookHandler creates the webhook handler. An empty secret disables
// signature validation; that is logged loudly at startup.
func NewWebhookHandler(secret string, pipeline *postcall.Pipeline, notifier *notify.Notifier) *WebhookHandler {
	if secret == "" {
		logger.Base().Warn("ELEVENLABS_WEBHOOK_SECRET not set: post-call webhook signature validation is DISABLED")
	}
	return &WebhookHandler{secret: secret, pipeline: pipeline, notifier: notifier}
}

// SetupWebhookRoutes registers the webhook endpoint.
func (h *WebhookHandler) SetupWebhookRoutes(r *mux.Router) {
	r.HandleFunc("/elevenlabs/webhook", h.handleWebhook).Methods(http.MethodPost)
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.secret != "" {
		header := r.Header.Get("elevenlabs-signature")
		if err := postcall.VerifySignature(header, body, h.secret, time.Now()); err != nil {
			logger.Base().Warn("post-call webhook rejected",
				zap.Error(err),
				zap.String("remote_addr", r.RemoteAddr),
			)
			h.notifier.Error(r.Context(), notify.SeverityFatal,
				fmt.Sprintf("Webhook post-chiamata rifiutato (%s, %s)", r.RemoteAddr, r.UserAgent()), err,
				notify.Context{})
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var hook postcall.Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if hook.Type != "post_call_transcription" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	h.pipeline.HandleTranscription(r.Context(), &hook)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
