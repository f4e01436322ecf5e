package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/elevenlabs"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/bridge"
	"github.com/katxuyu/voice-ai-agent/internal/config"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// InboundHandler answers incoming calls by bridging them onto the inbound
// media WebSocket seeded with current availability.
type InboundHandler struct {
	cfg         *config.Config
	repos       repository.RepositoryManager
	elevenlabs  *elevenlabs.Client
	slotSvc     *slots.Service
	mediaBridge *bridge.Bridge
	notifier    *notify.Notifier
	repPool     []string
}

// NewInboundHandler creates the inbound handler. repPool is the rep set used
// to label inbound availability.
func NewInboundHandler(cfg *config.Config, repos repository.RepositoryManager, el *elevenlabs.Client,
	slotSvc *slots.Service, mediaBridge *bridge.Bridge, notifier *notify.Notifier, repPool []string) *InboundHandler {
	return &InboundHandler{
		cfg:         cfg,
		repos:       repos,
		elevenlabs:  el,
		slotSvc:     slotSvc,
		mediaBridge: mediaBridge,
		notifier:    notifier,
		repPool:     repPool,
	}
}

// SetupInboundRoutes registers the inbound surface under the configured
// prefix.
func (h *InboundHandler) SetupInboundRoutes(r *mux.Router) {
	sub := r.PathPrefix(h.cfg.IncomingPrefix).Subrouter()
	sub.HandleFunc("/incoming-call", h.handleIncomingCall).Methods(http.MethodPost)
	sub.HandleFunc("/inbound-call-status", h.handleInboundStatus).Methods(http.MethodPost)
	sub.HandleFunc("/inbound-media-stream", h.mediaBridge.HandleInboundStream)
}

func (h *InboundHandler) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unparseable request")
		return
	}
	callSID := r.FormValue("CallSid")
	caller := r.FormValue("From")

	// Availability for today and tomorrow, rendered for the agent.
	now := time.Now()
	windowStart := now.UTC()
	windowEnd := timeutil.RomeDayAt(now.AddDate(0, 0, 1), 21, 30)
	availableSlots := ""
	if res := h.slotSvc.Fetch(ctx, windowStart, windowEnd, h.repPool, 3); res.Kind == slots.ResultOK {
		availableSlots, _ = slots.Render(res.Slots)
	} else {
		availableSlots = "Disponibilità non determinata"
	}

	signedURL, err := h.elevenlabs.GetSignedURL(ctx, h.cfg.AgentIDFor(true))
	if err != nil {
		logger.Base().Error("failed to mint inbound signed url", zap.Error(err))
		h.notifier.Error(ctx, notify.SeverityNormal, "Chiamata in ingresso senza agente disponibile", err,
			notify.Context{Phone: caller})
		writeError(w, http.StatusInternalServerError, "voice agent unavailable")
		return
	}

	rec := &domain.IncomingCall{
		CallSID:        callSID,
		From:           caller,
		Status:         "ringing",
		SignedURL:      signedURL,
		AvailableSlots: availableSlots,
	}
	if err := h.repos.IncomingCalls().Create(ctx, rec); err != nil {
		logger.Base().Warn("failed to persist incoming call", zap.Error(err))
	}

	wsURL := websocketURL(h.cfg, h.cfg.IncomingPrefix+"/inbound-media-stream")
	xml, err := telephony.RenderStreamTwiML(wsURL, map[string]string{
		"callSid":      callSID,
		"callerNumber": caller,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render TwiML")
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml))
}

func (h *InboundHandler) handleInboundStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		callSID := r.FormValue("CallSid")
		status := r.FormValue("CallStatus")
		if callSID != "" && status != "" {
			if err := h.repos.IncomingCalls().UpdateStatus(r.Context(), callSID, status); err != nil {
				logger.Base().Warn("failed to update inbound call status", zap.Error(err))
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}
