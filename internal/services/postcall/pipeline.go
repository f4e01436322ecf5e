package postcall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// Webhook is the ElevenLabs post-call payload, reduced to the fields the
// pipeline reads.
type Webhook struct {
	Type string      `json:"type"`
	Data WebhookData `json:"data"`
}

// WebhookData is the transcription body.
type WebhookData struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`

	Transcript []TranscriptTurn `json:"transcript"`

	Analysis struct {
		CallSuccessful    string                      `json:"call_successful"`
		TranscriptSummary string                      `json:"transcript_summary"`
		EvaluationResults map[string]EvaluationResult `json:"evaluation_criteria_results"`
	} `json:"analysis"`

	ConversationInitiationClientData struct {
		DynamicVariables map[string]string `json:"dynamic_variables"`
	} `json:"conversation_initiation_client_data"`
}

// TranscriptTurn is one conversation turn.
type TranscriptTurn struct {
	Role     string `json:"role"`
	Message  string `json:"message"`
	ToolCalls []struct {
		ToolName string `json:"tool_name"`
	} `json:"tool_calls"`
}

// EvaluationResult is one agent evaluation criterion outcome.
type EvaluationResult struct {
	Result    string `json:"result"`
	Rationale string `json:"rationale"`
}

// Pipeline records post-call outcomes and runs the missed-action recovery.
type Pipeline struct {
	repos    repository.RepositoryManager
	crm      *ghl.Client
	notifier *notify.Notifier
	analyzer *Analyzer
}

// NewPipeline creates the post-call pipeline. analyzer may be nil when
// post-call analysis is disabled.
func NewPipeline(repos repository.RepositoryManager, crm *ghl.Client, notifier *notify.Notifier, analyzer *Analyzer) *Pipeline {
	return &Pipeline{repos: repos, crm: crm, notifier: notifier, analyzer: analyzer}
}

// HandleTranscription processes one verified post_call_transcription webhook.
// The heavy analysis runs asynchronously after this returns.
func (p *Pipeline) HandleTranscription(ctx context.Context, hook *Webhook) {
	data := &hook.Data
	vars := data.ConversationInitiationClientData.DynamicVariables
	contactID := vars["contactId"]
	phone := vars["phone"]
	fullName := vars["fullName"]
	service := vars["service"]

	outcome := data.Analysis.CallSuccessful
	if outcome == "" {
		outcome = "failure"
	}
	summary := p.buildSummary(data)

	// A contactId equal to the conversation id means no real contact was
	// tracked; skip the CRM note in that case.
	if contactID != "" && contactID != data.ConversationID {
		note := p.renderNote(data, outcome, summary, fullName)
		if err := p.crm.AddNote(ctx, contactID, note); err != nil {
			logger.Base().Warn("failed to attach post-call note",
				zap.String("contact_id", contactID),
				zap.Error(err),
			)
		}
	}

	status := "completed-" + outcome
	rec, err := p.repos.Calls().GetByConversationID(ctx, data.ConversationID)
	if err == nil {
		if err := p.repos.Calls().UpdateTranscript(ctx, rec.CallSID, status, summary); err != nil {
			logger.Base().Error("failed to update call transcript", zap.Error(err))
		}
	} else {
		logger.Base().Warn("post-call webhook for unknown conversation",
			zap.String("conversation_id", data.ConversationID),
		)
	}

	details := map[string]string{"Esito": outcome}
	for name, res := range data.Analysis.EvaluationResults {
		details[name] = res.Result
	}
	p.notifier.Success(ctx, "Chiamata conclusa", details, notify.Context{
		ContactID: contactID,
		Phone:     phone,
		Service:   service,
	})

	if p.analyzer == nil {
		return
	}
	if outcome != "success" && outcome != "partial" {
		return
	}
	if contactID == "" || contactID == data.ConversationID || len(data.Transcript) == 0 {
		return
	}

	// Run recovery off the webhook handler's path.
	go func() {
		bg, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		p.analyzer.Run(bg, data, contactID)
	}()
}

func (p *Pipeline) buildSummary(data *WebhookData) string {
	if s := strings.TrimSpace(data.Analysis.TranscriptSummary); s != "" {
		return s
	}
	agent, user := 0, 0
	for _, turn := range data.Transcript {
		if turn.Role == "agent" {
			agent++
		} else {
			user++
		}
	}
	return fmt.Sprintf("Conversazione di %d battute (%d agente, %d cliente), nessun riepilogo disponibile.",
		len(data.Transcript), agent, user)
}

func (p *Pipeline) renderNote(data *WebhookData, outcome, summary, fullName string) string {
	var b strings.Builder
	b.WriteString("🎙️ Esito chiamata AI\n")
	b.WriteString(fmt.Sprintf("Data: %s\n", timeutil.NowItalianStamp(time.Now())))
	if fullName != "" {
		b.WriteString(fmt.Sprintf("Cliente: %s\n", fullName))
	}
	b.WriteString(fmt.Sprintf("Risultato: %s\n", outcome))
	b.WriteString(fmt.Sprintf("Riepilogo: %s", summary))
	return b.String()
}

// UsedTools lists the tool names invoked during the conversation. The
// analyzer uses this to avoid double-booking.
func UsedTools(data *WebhookData) []string {
	seen := map[string]bool{}
	var out []string
	for _, turn := range data.Transcript {
		for _, call := range turn.ToolCalls {
			if call.ToolName != "" && !seen[call.ToolName] {
				seen[call.ToolName] = true
				out = append(out, call.ToolName)
			}
		}
	}
	return out
}
