package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// Severity selects the card style and the send timeout.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityNormal  Severity = "normal"
	SeverityFatal   Severity = "fatal"
	SeveritySuccess Severity = "success"
)

// Context carries whatever call identity is known at the notification site.
type Context struct {
	RequestID string
	ContactID string
	Phone     string
	Service   string
	Province  string
}

// Notifier posts structured operator messages to a chat incoming webhook.
// Fatal-path sends use a tight 5s timeout; everything else gets 8s.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// New creates a Notifier. An empty webhook URL turns every send into a logged
// no-op so tests and local runs work without a channel.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{},
	}
}

// Error posts an error notification with the raw error attached.
func (n *Notifier) Error(ctx context.Context, severity Severity, title string, err error, nctx Context) {
	icon := "⚠️"
	if severity == SeverityFatal {
		icon = "🚨"
	}
	lines := []string{fmt.Sprintf("%s *%s*", icon, title)}
	lines = append(lines, n.contextLines(nctx)...)
	if err != nil {
		lines = append(lines, fmt.Sprintf("Errore: `%s`", err.Error()))
	}
	n.send(ctx, severity, strings.Join(lines, "\n"))
}

// Success posts a success card, e.g. a completed call with its evaluation
// metrics.
func (n *Notifier) Success(ctx context.Context, title string, details map[string]string, nctx Context) {
	lines := []string{fmt.Sprintf("✅ *%s*", title)}
	lines = append(lines, n.contextLines(nctx)...)
	for k, v := range details {
		lines = append(lines, fmt.Sprintf("%s: %s", k, v))
	}
	n.send(ctx, SeveritySuccess, strings.Join(lines, "\n"))
}

// Info posts a plain informational message.
func (n *Notifier) Info(ctx context.Context, title string, nctx Context) {
	lines := []string{fmt.Sprintf("ℹ️ *%s*", title)}
	lines = append(lines, n.contextLines(nctx)...)
	n.send(ctx, SeverityNormal, strings.Join(lines, "\n"))
}

func (n *Notifier) contextLines(nctx Context) []string {
	if nctx.RequestID == "" {
		nctx.RequestID = uuid.NewString()
	}
	lines := []string{
		fmt.Sprintf("Timestamp: %s", time.Now().UTC().Format(time.RFC3339)),
		fmt.Sprintf("Request: %s", nctx.RequestID),
	}
	if nctx.ContactID != "" {
		lines = append(lines, fmt.Sprintf("Contact: %s", nctx.ContactID))
	}
	if nctx.Phone != "" {
		lines = append(lines, fmt.Sprintf("Phone: %s", nctx.Phone))
	}
	if nctx.Service != "" {
		lines = append(lines, fmt.Sprintf("Service: %s", nctx.Service))
	}
	if nctx.Province != "" {
		lines = append(lines, fmt.Sprintf("Province: %s", nctx.Province))
	}
	return lines
}

func (n *Notifier) send(ctx context.Context, severity Severity, text string) {
	if n.webhookURL == "" {
		logger.Base().Info("notification (no webhook configured)", zap.String("text", text))
		return
	}

	timeout := 8 * time.Second
	if severity == SeverityFatal {
		timeout = 5 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		logger.Base().Warn("failed to build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		logger.Base().Warn("failed to send notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Base().Warn("notification webhook non-2xx", zap.Int("status", resp.StatusCode))
	}
}
