package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/elevenlabs"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/bridge"
	"github.com/katxuyu/voice-ai-agent/internal/config"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/locale"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/retrysched"
	"github.com/katxuyu/voice-ai-agent/internal/services/router"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// OutboundHandler owns the outbound-call surface: intake, status callbacks,
// the TwiML bridge instructions and the media WebSocket.
type OutboundHandler struct {
	cfg        *config.Config
	repos      repository.RepositoryManager
	crm        *ghl.Client
	tokens     ghl.TokenSource
	elevenlabs *elevenlabs.Client
	extractor  *locale.Extractor
	routes     *router.Router
	slotSvc    *slots.Service
	scheduler  *retrysched.Scheduler
	mediaBridge *bridge.Bridge
	notifier   *notify.Notifier
}

// NewOutboundHandler creates the outbound handler.
func NewOutboundHandler(cfg *config.Config, repos repository.RepositoryManager, crm *ghl.Client,
	tokens ghl.TokenSource, el *elevenlabs.Client, extractor *locale.Extractor, routes *router.Router,
	slotSvc *slots.Service, scheduler *retrysched.Scheduler, mediaBridge *bridge.Bridge,
	notifier *notify.Notifier) *OutboundHandler {
	return &OutboundHandler{
		cfg:         cfg,
		repos:       repos,
		crm:         crm,
		tokens:      tokens,
		elevenlabs:  el,
		extractor:   extractor,
		routes:      routes,
		slotSvc:     slotSvc,
		scheduler:   scheduler,
		mediaBridge: mediaBridge,
		notifier:    notifier,
	}
}

// SetupOutboundRoutes registers the outbound surface under the configured
// prefix.
func (h *OutboundHandler) SetupOutboundRoutes(r *mux.Router) {
	sub := r.PathPrefix(h.cfg.OutgoingPrefix).Subrouter()
	sub.HandleFunc("/outbound-call", h.handleOutboundCall).Methods(http.MethodPost)
	sub.HandleFunc("/call-status", h.handleCallStatus).Methods(http.MethodPost)
	sub.HandleFunc("/outbound-call-twiml", h.handleTwiML)
	sub.HandleFunc("/outbound-media-stream", h.mediaBridge.HandleOutboundStream)
}

// outboundCallRequest is the intake webhook payload.
type outboundCallRequest struct {
	Phone       string `json:"phone"`
	ContactID   string `json:"contact_id"`
	FirstName   string `json:"first_name"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Service     string `json:"Service"`
	FullAddress string `json:"full_address"`
	CustomData  struct {
		IsAbruptEndingRetry    bool   `json:"isAbruptEndingRetry"`
		OriginalConversationID string `json:"originalConversationId"`
		PastCallSummary        string `json:"pastCallSummary"`
	} `json:"customData"`
}

func (h *OutboundHandler) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	abrupt := req.CustomData.IsAbruptEndingRetry
	nctx := notify.Context{ContactID: req.ContactID, Phone: req.Phone, Service: req.Service}

	// Validation order matters: first failure wins.
	if req.Service == "" || !domain.ValidService(req.Service) {
		h.notifier.Error(ctx, notify.SeverityWarning, "Richiesta chiamata senza servizio valido", nil, nctx)
		writeError(w, http.StatusBadRequest, "service field is required and must be one of Infissi, Vetrate, Pergole")
		return
	}
	if req.FullAddress == "" && !abrupt {
		h.notifier.Error(ctx, notify.SeverityWarning, "Richiesta chiamata senza indirizzo", nil, nctx)
		writeError(w, http.StatusBadRequest, "Address is required")
		return
	}
	if req.Phone == "" || req.ContactID == "" {
		h.notifier.Error(ctx, notify.SeverityWarning, "Richiesta chiamata senza telefono o contatto", nil, nctx)
		writeError(w, http.StatusBadRequest, "phone and contact_id are required")
		return
	}

	// A missing CRM token must fail the request loudly, never drop the call.
	if _, err := h.tokens.AccessToken(ctx, h.cfg.GHLLocationID); err != nil {
		h.notifier.Error(ctx, notify.SeverityFatal, "Token CRM non disponibile", err, nctx)
		writeError(w, http.StatusInternalServerError, "CRM token unavailable")
		return
	}

	service := domain.Service(req.Service)
	province := h.extractor.Extract(ctx, req.FullAddress)
	nctx.Province = province

	reps, err := h.routes.RepsFor(ctx, service, province)
	if err != nil {
		h.notifier.Error(ctx, notify.SeverityFatal, "Routing venditori fallito", err, nctx)
		writeError(w, http.StatusInternalServerError, "sales rep routing failed")
		return
	}

	if len(reps) == 0 && !abrupt {
		if h.cfg.WorkflowNoRepsID != "" {
			if err := h.crm.AddToWorkflow(ctx, req.ContactID, h.cfg.WorkflowNoRepsID); err != nil {
				logger.Base().Warn("failed to tag no-rep contact", zap.Error(err))
			}
		}
		h.notifier.Error(ctx, notify.SeverityNormal, "Nessun venditore per servizio e provincia", nil, nctx)
		writeError(w, http.StatusBadRequest, "No sales representatives available: contact is not in right area")
		return
	}

	slotsText := ""
	layout := domain.SlotLayoutSingle
	if len(reps) > 0 {
		windowStart := timeutil.TomorrowRomeAt(time.Now(), 8, 30)
		windowEnd := timeutil.RomeDayAt(windowStart.AddDate(0, 0, 13), 21, 30)

		res := h.slotSvc.Fetch(ctx, windowStart, windowEnd, reps, 15)
		switch res.Kind {
		case slots.ResultAPIError, slots.ResultEmpty:
			// Reps exist but cannot be offered availability. Hiding this would
			// mask a systemic outage.
			h.notifier.Error(ctx, notify.SeverityFatal, "🚨 Venditori presenti ma nessuna disponibilità dal calendario", res.Err, nctx)
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":    "no availability for assigned sales representatives",
				"critical": true,
			})
			return
		case slots.ResultOK:
			slotsText, layout = slots.Render(res.Slots)
		}
	}

	signedURL, err := h.elevenlabs.GetSignedURL(ctx, h.cfg.AgentIDFor(false))
	if err != nil {
		h.notifier.Error(ctx, notify.SeverityFatal, "Impossibile ottenere la signed URL dell'agente", err, nctx)
		writeError(w, http.StatusInternalServerError, "voice agent unavailable")
		return
	}

	now := time.Now().UTC()
	opts := composeCallOptions(h.cfg, callParams{
		To:                     req.Phone,
		Service:                service,
		FirstName:              req.FirstName,
		FullName:               req.FullName,
		Email:                  req.Email,
		ContactID:              req.ContactID,
		AbruptRetry:            abrupt,
		PastCallSummary:        req.CustomData.PastCallSummary,
		OriginalConversationID: req.CustomData.OriginalConversationID,
	})

	entry := &domain.CallQueueEntry{
		ContactID:             req.ContactID,
		PhoneNumber:           req.Phone,
		FirstName:             req.FirstName,
		FullName:              req.FullName,
		Email:                 req.Email,
		Service:               service,
		Province:              province,
		RetryStage:            0,
		Status:                domain.QueueStatusPending,
		ScheduledAt:           now,
		CallOptionsBlob:       telephony.EncodeCallOptions(opts),
		AvailableSlotsText:    slotsText,
		SlotLayout:            layout,
		InitialSignedURL:      signedURL,
		FirstAttemptTimestamp: now,
	}
	if err := h.repos.CallQueue().Enqueue(ctx, entry); err != nil {
		h.notifier.Error(ctx, notify.SeverityFatal, "Impossibile accodare la chiamata", err, nctx)
		writeError(w, http.StatusInternalServerError, "failed to enqueue call")
		return
	}

	if h.cfg.WorkflowCallScheduledID != "" {
		if err := h.crm.AddToWorkflow(ctx, req.ContactID, h.cfg.WorkflowCallScheduledID); err != nil {
			logger.Base().Warn("failed to tag call-scheduled contact", zap.Error(err))
		}
	}

	logger.Base().Info("call enqueued",
		zap.Uint("queue_id", entry.ID),
		zap.String("contact_id", req.ContactID),
		zap.String("service", req.Service),
		zap.String("province", province),
	)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"queueId": entry.ID})
}

// handleCallStatus consumes Twilio status callbacks. Always 200: the provider
// retries non-2xx responses and the scheduler is idempotent anyway.
func (h *OutboundHandler) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		logger.Base().Warn("unparseable status callback", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := retrysched.StatusEvent{
		CallSID:    r.FormValue("CallSid"),
		CallStatus: r.FormValue("CallStatus"),
		AnsweredBy: r.FormValue("AnsweredBy"),
	}
	logger.Base().Info("status callback",
		zap.String("call_sid", ev.CallSID),
		zap.String("status", ev.CallStatus),
		zap.String("answered_by", ev.AnsweredBy),
	)
	if ev.CallSID != "" {
		h.scheduler.HandleStatus(r.Context(), ev)
	}
	w.WriteHeader(http.StatusOK)
}

// handleTwiML returns the bridge instructions, echoing the query parameters
// into the media stream.
func (h *OutboundHandler) handleTwiML(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 && values[0] != "" {
			params[key] = values[0]
		}
	}

	wsURL := websocketURL(h.cfg, h.cfg.OutgoingPrefix+"/outbound-media-stream")
	xml, err := telephony.RenderStreamTwiML(wsURL, params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render TwiML: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml))
}
