package postcall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/gemini"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/booking"
	"github.com/katxuyu/voice-ai-agent/internal/services/router"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// AnalysisResult is the strict JSON shape the model must return.
type AnalysisResult struct {
	NeedsAppointment   bool `json:"needsAppointment"`
	AppointmentDetails struct {
		PreferredDate string `json:"preferredDate"`
		PreferredTime string `json:"preferredTime"`
		Notes         string `json:"notes"`
	} `json:"appointmentDetails"`
	NeedsFollowUp   bool `json:"needsFollowUp"`
	FollowUpDetails struct {
		SuggestedDelay string `json:"suggestedDelay"` // 24h | 48h | 1week
		Reasoning      string `json:"reasoning"`
	} `json:"followUpDetails"`
	NeedsContactUpdate   bool `json:"needsContactUpdate"`
	ContactUpdateDetails struct {
		NewAddress      string `json:"newAddress"`
		AdditionalNotes string `json:"additionalNotes"`
		ServiceDetails  string `json:"serviceDetails"`
	} `json:"contactUpdateDetails"`
	OverallAssessment string `json:"overallAssessment"`
}

// Analyzer re-reads a finished transcript for actions the live conversation
// missed, then executes the recovery: a retroactive booking, a follow-up, or
// a contact enrichment.
type Analyzer struct {
	llm      *gemini.Client
	mock     bool
	repos    repository.RepositoryManager
	crm      *ghl.Client
	booker   *booking.Coordinator
	slotSvc  *slots.Service
	routes   *router.Router
	notifier *notify.Notifier
}

// NewAnalyzer creates the missed-action analyzer. mock selects the canned
// no-action result used when analysis is enabled without an LLM key; that is
// an explicit opt-in, never a silent fallback.
func NewAnalyzer(llm *gemini.Client, mock bool, repos repository.RepositoryManager, crm *ghl.Client,
	booker *booking.Coordinator, slotSvc *slots.Service, routes *router.Router, notifier *notify.Notifier) *Analyzer {
	return &Analyzer{
		llm:      llm,
		mock:     mock,
		repos:    repos,
		crm:      crm,
		booker:   booker,
		slotSvc:  slotSvc,
		routes:   routes,
		notifier: notifier,
	}
}

// Run performs the analysis and recovery for one call.
func (a *Analyzer) Run(ctx context.Context, data *WebhookData, contactID string) {
	result, err := a.analyze(ctx, data)
	if err != nil {
		logger.Base().Error("missed-action analysis failed", zap.Error(err))
		a.notifier.Error(ctx, notify.SeverityNormal, "Analisi post-chiamata fallita", err,
			notify.Context{ContactID: contactID})
		return
	}

	usedTools := UsedTools(data)
	alreadyBooked := contains(usedTools, "book_appointment")

	booked := false
	if result.NeedsAppointment && !alreadyBooked {
		booked = a.recoverAppointment(ctx, data, contactID)
	}

	if !booked && result.NeedsFollowUp {
		a.scheduleFollowUp(ctx, data, contactID, result.FollowUpDetails.SuggestedDelay)
	}

	if result.NeedsContactUpdate {
		a.updateContact(ctx, contactID, result)
	}
}

func (a *Analyzer) analyze(ctx context.Context, data *WebhookData) (*AnalysisResult, error) {
	if a.mock || a.llm == nil {
		if !a.mock {
			return nil, fmt.Errorf("analysis enabled but no llm configured")
		}
		logger.Base().Info("mock post-call analysis in use")
		return &AnalysisResult{OverallAssessment: "mock analysis"}, nil
	}

	prompt := a.buildPrompt(data)
	text, err := a.llm.GenerateWithRetry(ctx, prompt, gemini.GenerateOptions{
		Temperature:     0.2,
		MaxOutputTokens: 1024,
		JSONResponse:    true,
	})
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var result AnalysisResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("analysis output not valid json: %w", err)
	}
	return &result, nil
}

func (a *Analyzer) buildPrompt(data *WebhookData) string {
	var transcript strings.Builder
	for _, turn := range data.Transcript {
		transcript.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Message))
	}

	vars := data.ConversationInitiationClientData.DynamicVariables
	return fmt.Sprintf(`Analizza questa trascrizione di una chiamata di vendita e individua azioni mancate.
Strumenti già usati durante la chiamata: %s
Cliente: %s, Servizio: %s

Trascrizione:
%s

Rispondi SOLO con JSON in questo formato esatto:
{"needsAppointment": bool, "appointmentDetails": {"preferredDate": "", "preferredTime": "", "notes": ""}, "needsFollowUp": bool, "followUpDetails": {"suggestedDelay": "24h|48h|1week", "reasoning": ""}, "needsContactUpdate": bool, "contactUpdateDetails": {"newAddress": "", "additionalNotes": "", "serviceDetails": ""}, "overallAssessment": ""}`,
		strings.Join(UsedTools(data), ", "),
		vars["fullName"], vars["service"],
		transcript.String())
}

// recoverAppointment books the earliest available slot for the contact's
// service and province. Returns true when a booking landed.
func (a *Analyzer) recoverAppointment(ctx context.Context, data *WebhookData, contactID string) bool {
	vars := data.ConversationInitiationClientData.DynamicVariables
	service := domain.Service(vars["service"])
	province := vars["province"]

	reps, err := a.routes.RepsFor(ctx, service, province)
	if err != nil || len(reps) == 0 {
		logger.Base().Warn("no reps for post-call booking",
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
		a.scheduleFollowUp(ctx, data, contactID, "24h")
		return false
	}

	now := time.Now().UTC()
	res := a.slotSvc.Fetch(ctx, now, now.Add(7*24*time.Hour), reps, 1)
	if res.Kind != slots.ResultOK || len(res.Slots) == 0 {
		a.scheduleFollowUp(ctx, data, contactID, "24h")
		return false
	}

	first := res.Slots[0]
	d, hm := timeutil.UTCToItalian(first.Time)
	outcome, err := a.booker.Book(ctx, booking.Request{
		AppointmentDate: d + " " + hm,
		ContactID:       contactID,
		UserID:          first.RepID,
	})
	if err != nil || outcome.Status != booking.StatusBooked {
		logger.Base().Warn("post-call booking failed",
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
		a.scheduleFollowUp(ctx, data, contactID, "24h")
		return false
	}

	a.notifier.Success(ctx, "Appuntamento recuperato dopo la chiamata", map[string]string{
		"Slot": d + " " + hm,
		"Rep":  first.RepID,
	}, notify.Context{ContactID: contactID, Service: string(service), Province: province})
	return true
}

func (a *Analyzer) scheduleFollowUp(ctx context.Context, data *WebhookData, contactID, delay string) {
	hours := delayHours(delay)
	vars := data.ConversationInitiationClientData.DynamicVariables

	fu := &domain.FollowUp{
		ContactID:  contactID,
		FollowUpAt: time.Now().UTC().Add(time.Duration(hours) * time.Hour),
		Status:     domain.FollowUpStatusPending,
		Province:   vars["province"],
		Service:    domain.Service(vars["service"]),
	}
	if err := a.repos.FollowUps().Create(ctx, fu); err != nil {
		logger.Base().Error("failed to persist follow-up", zap.Error(err))
		return
	}
	logger.Base().Info("follow-up scheduled",
		zap.String("contact_id", contactID),
		zap.Int("delay_hours", hours),
	)
}

func delayHours(delay string) int {
	switch delay {
	case "48h":
		return 48
	case "1week":
		return 168
	default:
		return 24
	}
}

func (a *Analyzer) updateContact(ctx context.Context, contactID string, result *AnalysisResult) {
	details := result.ContactUpdateDetails
	if details.NewAddress != "" {
		if err := a.crm.UpdateContactAddress(ctx, contactID, details.NewAddress); err != nil {
			logger.Base().Warn("failed to update contact address", zap.Error(err))
		}
	}
	notes := strings.TrimSpace(strings.Join(filterEmpty([]string{details.AdditionalNotes, details.ServiceDetails}), "\n"))
	if notes != "" {
		if err := a.crm.AddNote(ctx, contactID, "📝 Dettagli emersi in chiamata:\n"+notes); err != nil {
			logger.Base().Warn("failed to append contact notes", zap.Error(err))
		}
	}
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func filterEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
