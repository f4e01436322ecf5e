package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/elevenlabs"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/gemini"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/bridge"
	"github.com/katxuyu/voice-ai-agent/internal/config"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/locale"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/booking"
	"github.com/katxuyu/voice-ai-agent/internal/services/followup"
	"github.com/katxuyu/voice-ai-agent/internal/services/postcall"
	"github.com/katxuyu/voice-ai-agent/internal/services/queue"
	"github.com/katxuyu/voice-ai-agent/internal/services/retrysched"
	"github.com/katxuyu/voice-ai-agent/internal/services/router"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// HandlerManager is the composition root: it builds every adapter and
// service, wires the handlers and owns the background loops.
type HandlerManager struct {
	cfg   *config.Config
	repos repository.RepositoryManager

	worker  *queue.Worker
	sweeper *followup.Sweeper

	outboundHandler *OutboundHandler
	inboundHandler  *InboundHandler
	apiHandler      *APIHandler
	webhookHandler  *WebhookHandler
	oauthHandler    *OAuthHandler
}

// NewHandlerManager creates and wires all services.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	repos, err := repository.NewRepositoryManager(cfg.DBPath)
	if err != nil {
		logger.Base().Error("failed to initialize database", zap.Error(err))
		return nil, err
	}

	notifier := notify.New(cfg.ChatWebhookURL)

	oauth := ghl.NewOAuthManager(cfg.GHLClientID, cfg.GHLClientSecret, cfg.GHLRedirectURI, repos.Tokens())
	crm := ghl.NewClient(cfg.GHLLocationID, cfg.GHLCalendarID, oauth)

	phone := telephony.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	el := elevenlabs.NewClient(cfg.ElevenLabsAPIKey)
	llm := gemini.NewClient(cfg.GeminiAPIKey)

	zips := locale.NewZipCache(cfg.ZipSheetID, cfg.ZipSheetRange, cfg.SheetsAPIKey)
	var provinceLLM locale.ProvinceLLM
	if llm != nil {
		provinceLLM = llm
	}
	extractor := locale.NewExtractor(zips, provinceLLM)

	routes := router.New(repos.SalesReps(), cfg.RepUserIDs)
	slotSvc := slots.NewService(crm)
	booker := booking.NewCoordinator(crm, cfg.DefaultAppointmentAddr)

	var analyzer *postcall.Analyzer
	switch cfg.PostCallAnalysis {
	case "true", "1", "yes":
		if llm == nil {
			logger.Base().Warn("post-call analysis enabled without GEMINI_API_KEY; analysis disabled (set ENABLE_POST_CALL_ANALYSIS=mock to opt into mock analysis)")
		} else {
			analyzer = postcall.NewAnalyzer(llm, false, repos, crm, booker, slotSvc, routes, notifier)
		}
	case "mock":
		analyzer = postcall.NewAnalyzer(llm, true, repos, crm, booker, slotSvc, routes, notifier)
	}
	pipeline := postcall.NewPipeline(repos, crm, notifier, analyzer)

	scheduler := retrysched.New(repos, phone, notifier, func(rec *domain.CallRecord) telephony.CallOptions {
		return callOptionsFromRecord(cfg, rec)
	})

	mediaBridge := bridge.New(repos, el, booker, notifier,
		cfg.ElevenLabsAgentIDOutbound, cfg.ElevenLabsAgentIDInbound)

	worker := queue.NewWorker(repos, phone, crm, oauth, notifier, cfg.GHLLocationID,
		cfg.MaxActiveCalls, time.Duration(cfg.QueueTickSeconds)*time.Second)

	intakeURL := strings.TrimRight(cfg.PublicBaseURL, "/") + cfg.OutgoingPrefix + "/outbound-call"
	sweeper := followup.NewSweeper(repos, crm, extractor, notifier, intakeURL)

	// The inbound agent offers availability over the union of every
	// configured rep pool.
	var inboundPool []string
	seen := map[string]bool{}
	for _, pool := range cfg.RepUserIDs {
		for _, id := range pool {
			if !seen[id] {
				seen[id] = true
				inboundPool = append(inboundPool, id)
			}
		}
	}

	hm := &HandlerManager{
		cfg:     cfg,
		repos:   repos,
		worker:  worker,
		sweeper: sweeper,
		outboundHandler: NewOutboundHandler(cfg, repos, crm, oauth, el, extractor, routes,
			slotSvc, scheduler, mediaBridge, notifier),
		inboundHandler: NewInboundHandler(cfg, repos, el, slotSvc, mediaBridge, notifier, inboundPool),
		apiHandler:     NewAPIHandler(cfg, repos, crm, routes, slotSvc, booker, sweeper, notifier),
		webhookHandler: NewWebhookHandler(cfg.ElevenLabsWebhookSecret, pipeline, notifier),
		oauthHandler:   NewOAuthHandler(oauth),
	}
	return hm, nil
}

// SetupAllRoutes registers every route with global middleware.
func (hm *HandlerManager) SetupAllRoutes(r *mux.Router) {
	r.Use(CORSMiddleware)
	r.Use(LoggingMiddleware)

	hm.outboundHandler.SetupOutboundRoutes(r)
	hm.inboundHandler.SetupInboundRoutes(r)
	hm.webhookHandler.SetupWebhookRoutes(r)
	hm.oauthHandler.SetupOAuthRoutes(r)
	hm.apiHandler.SetupAPIRoutes(r)

	logger.Base().Info("all application routes registered")
}

// StartBackground launches the queue worker and the follow-up sweeper.
func (hm *HandlerManager) StartBackground(ctx context.Context) {
	go hm.worker.Start(ctx)
	go hm.sweeper.Start(ctx)
}

// Close releases held resources.
func (hm *HandlerManager) Close() error {
	return hm.repos.Close()
}
