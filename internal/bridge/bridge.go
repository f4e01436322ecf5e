package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/elevenlabs"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/notify"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/internal/services/booking"
	"github.com/katxuyu/voice-ai-agent/internal/services/slots"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/katxuyu/voice-ai-agent/pkg/timeutil"
	"go.uber.org/zap"
)

// abruptRetryFirstMessage resumes the pretense of a dropped line.
const abruptRetryFirstMessage = "Pronto %s? Era caduta la linea, mi senti?"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge owns the per-call pump between the telephony media socket and the
// voice agent socket.
type Bridge struct {
	repos      repository.RepositoryManager
	elevenlabs *elevenlabs.Client
	booker     *booking.Coordinator
	notifier   *notify.Notifier

	agentIDOutbound string
	agentIDInbound  string
}

// New creates the media bridge.
func New(repos repository.RepositoryManager, el *elevenlabs.Client, booker *booking.Coordinator,
	notifier *notify.Notifier, agentIDOutbound, agentIDInbound string) *Bridge {
	return &Bridge{
		repos:           repos,
		elevenlabs:      el,
		booker:          booker,
		notifier:        notifier,
		agentIDOutbound: agentIDOutbound,
		agentIDInbound:  agentIDInbound,
	}
}

// session is one live call: two sockets and the context read off the start
// frame. All writes to either socket go through the session's write mutexes;
// gorilla/websocket allows one concurrent writer per connection.
type session struct {
	bridge  *Bridge
	inbound bool

	twilioConn *websocket.Conn
	twilioMu   sync.Mutex

	aiConn *websocket.Conn
	aiMu   sync.Mutex
	aiOpen bool

	streamSID string
	callSID   string
	params    map[string]string

	record *domain.CallRecord

	closeOnce sync.Once
}

// HandleOutboundStream upgrades and runs the outbound media WebSocket.
func (b *Bridge) HandleOutboundStream(w http.ResponseWriter, r *http.Request) {
	b.handleStream(w, r, false)
}

// HandleInboundStream upgrades and runs the inbound media WebSocket.
func (b *Bridge) HandleInboundStream(w http.ResponseWriter, r *http.Request) {
	b.handleStream(w, r, true)
}

func (b *Bridge) handleStream(w http.ResponseWriter, r *http.Request, inbound bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Error("media socket upgrade failed", zap.Error(err))
		return
	}

	s := &session{bridge: b, inbound: inbound, twilioConn: conn}
	defer s.close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Base().Info("telephony socket closed",
				zap.String("call_sid", s.callSID),
				zap.Error(err),
			)
			return
		}

		var ev TwilioEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Base().Warn("unparseable telephony frame", zap.Error(err))
			continue
		}

		switch ev.Event {
		case "start":
			if ev.Start == nil {
				continue
			}
			s.streamSID = ev.Start.StreamSID
			s.callSID = ev.Start.CallSID
			s.params = ev.Start.CustomParameters
			if err := s.onStart(r.Context()); err != nil {
				logger.Base().Error("failed to start agent leg",
					zap.String("call_sid", s.callSID),
					zap.Error(err),
				)
				return
			}
		case "media":
			if ev.Media == nil {
				continue
			}
			s.sendUserAudio(ev.Media.Payload)
		case "mark":
			// Playback checkpoints are not used.
		case "stop":
			logger.Base().Info("telephony stream stopped", zap.String("call_sid", s.callSID))
			s.markStopped()
			return
		}
	}
}

// onStart looks up the call, opens the agent socket and seeds the
// conversation with dynamic variables.
func (s *session) onStart(ctx context.Context) error {
	b := s.bridge
	logger.Base().Info("media stream started",
		zap.String("call_sid", s.callSID),
		zap.String("stream_sid", s.streamSID),
		zap.Bool("inbound", s.inbound),
	)

	signedURL := ""
	if s.inbound {
		if rec, err := b.repos.IncomingCalls().GetBySID(ctx, s.callSID); err == nil {
			signedURL = rec.SignedURL
		}
		if err := b.repos.IncomingCalls().SetStreamSID(ctx, s.callSID, s.streamSID); err != nil {
			logger.Base().Warn("failed to persist inbound stream sid", zap.Error(err))
		}
	} else {
		rec, err := b.repos.Calls().GetBySID(ctx, s.callSID)
		if err != nil {
			logger.Base().Warn("media stream for unknown call", zap.String("call_sid", s.callSID))
		} else {
			s.record = rec
			signedURL = rec.SignedURL
		}
		if err := b.repos.Calls().SetStreamSID(ctx, s.callSID, s.streamSID); err != nil {
			logger.Base().Warn("failed to persist stream sid", zap.Error(err))
		}
	}

	if signedURL == "" {
		agentID := b.agentIDOutbound
		if s.inbound {
			agentID = b.agentIDInbound
		}
		fresh, err := b.elevenlabs.GetSignedURL(ctx, agentID)
		if err != nil {
			return fmt.Errorf("no stored signed url and minting failed: %w", err)
		}
		signedURL = fresh
	}

	aiConn, _, err := websocket.DefaultDialer.Dial(signedURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial agent socket: %w", err)
	}
	s.aiConn = aiConn
	s.aiOpen = true

	vars, firstMessage := s.dynamicVariables()
	init := elevenlabs.NewConversationInitiation(vars, firstMessage)
	if err := s.writeAI(init); err != nil {
		return fmt.Errorf("failed to send conversation initiation: %w", err)
	}

	go s.aiReadLoop()
	return nil
}

// dynamicVariables assembles the per-call agent context.
func (s *session) dynamicVariables() (map[string]string, string) {
	now := timeutil.NowItalianStamp(time.Now())

	if s.inbound {
		caller := s.params["callerNumber"]
		availableSlots := ""
		if rec, err := s.bridge.repos.IncomingCalls().GetBySID(context.Background(), s.callSID); err == nil {
			availableSlots = rec.AvailableSlots
		}
		return map[string]string{
			"callerIdentifier": caller,
			"nowDate":          now,
			"availableSlots":   availableSlots,
		}, ""
	}

	vars := map[string]string{
		"firstName": s.params["firstName"],
		"fullName":  s.params["fullName"],
		"email":     s.params["email"],
		"phone":     s.params["phone"],
		"contactId": s.params["contactId"],
		"nowDate":   now,
		"service":   s.params["service"],
	}

	service := domain.Service(s.params["service"])
	vars["businessName"] = service.BusinessName()

	if s.record != nil {
		vars["availableSlots"] = s.record.AvailableSlots
		vars["province"] = s.record.Province
	}

	firstMessage := ""
	if s.params["isAbruptEndingRetry"] == "true" {
		vars["pastCallSummary"] = s.params["pastCallSummary"]
		vars["originalConversationId"] = s.params["originalConversationId"]
		firstMessage = fmt.Sprintf(abruptRetryFirstMessage, s.params["firstName"])
	}
	return vars, firstMessage
}

// aiReadLoop pumps agent messages back toward the caller until either socket
// dies.
func (s *session) aiReadLoop() {
	defer s.close()

	for {
		_, data, err := s.aiConn.ReadMessage()
		if err != nil {
			s.onAIClosed(err)
			return
		}

		var msg elevenlabs.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Base().Warn("unparseable agent message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "audio":
			if msg.AudioEvent != nil {
				s.writeTwilio(newMediaOut(s.streamSID, msg.AudioEvent.AudioBase64))
			}
		case "interruption":
			s.writeTwilio(twilioClearOut{Event: "clear", StreamSID: s.streamSID})
		case "ping":
			if msg.PingEvent != nil {
				s.pong(msg.PingEvent.EventID)
			}
		case "conversation_initiation_metadata":
			if msg.InitiationMetadata != nil {
				s.persistConversationID(msg.InitiationMetadata.ConversationID)
			}
		case "client_tool_call":
			if msg.FunctionCall != nil {
				s.handleToolCall(msg.FunctionCall.ToolName, msg.FunctionCall.ToolCallID, msg.FunctionCall.Parameters)
			}
		}
	}
}

// onAIClosed reports abnormal agent-socket terminations to the operator.
func (s *session) onAIClosed(err error) {
	s.aiMu.Lock()
	s.aiOpen = false
	s.aiMu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		return
	}

	closeCode := 0
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		closeCode = ce.Code
		reason = ce.Text
	}

	logger.Base().Error("agent socket closed abnormally",
		zap.String("call_sid", s.callSID),
		zap.Int("close_code", closeCode),
		zap.String("reason", reason),
	)
	nctx := notify.Context{}
	if s.record != nil {
		nctx = notify.Context{
			ContactID: s.record.ContactID,
			Phone:     s.record.To,
			Service:   string(s.record.Service),
			Province:  s.record.Province,
		}
	}
	s.bridge.notifier.Error(context.Background(), notify.SeverityNormal,
		fmt.Sprintf("Socket agente chiuso in modo anomalo (codice %d): %s", closeCode, reason), err, nctx)
}

func (s *session) persistConversationID(conversationID string) {
	ctx := context.Background()
	var err error
	if s.inbound {
		err = s.bridge.repos.IncomingCalls().SetConversationID(ctx, s.callSID, conversationID)
	} else {
		err = s.bridge.repos.Calls().SetConversationID(ctx, s.callSID, conversationID)
		if s.record != nil {
			s.record.ConversationID = conversationID
		}
	}
	if err != nil {
		logger.Base().Warn("failed to persist conversation id", zap.Error(err))
	}
}

// bookAppointmentArgs are the parameters the agent passes to the
// book_appointment tool.
type bookAppointmentArgs struct {
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	Address         string `json:"address"`
}

func (s *session) handleToolCall(toolName, toolCallID string, params json.RawMessage) {
	if toolName != "book_appointment" {
		s.respondTool(toolCallID, fmt.Sprintf("strumento %q non disponibile", toolName), true)
		return
	}

	var args bookAppointmentArgs
	if err := json.Unmarshal(params, &args); err != nil {
		s.respondTool(toolCallID, "parametri appuntamento non validi", true)
		return
	}

	chosen := args.AppointmentDate
	if args.AppointmentTime != "" {
		chosen = args.AppointmentDate + " " + args.AppointmentTime
	}

	repID := s.resolveRep(chosen)
	contactID := s.params["contactId"]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outcome, err := s.bridge.booker.Book(ctx, booking.Request{
		AppointmentDate: slots.StripLetterSuffix(chosen),
		ContactID:       contactID,
		Address:         args.Address,
		UserID:          repID,
	})
	if err != nil {
		logger.Base().Warn("in-call booking failed",
			zap.String("call_sid", s.callSID),
			zap.Error(err),
		)
		s.respondTool(toolCallID, "Non sono riuscito a fissare l'appuntamento, riprova con un altro orario.", true)
		return
	}

	switch outcome.Status {
	case booking.StatusBooked:
		d, hm := timeutil.UTCToItalian(outcome.StartUTC)
		s.respondTool(toolCallID, fmt.Sprintf("Appuntamento confermato per %s alle %s.", d, hm), false)
	case booking.StatusAlternatives:
		s.respondTool(toolCallID, "Orario non disponibile. Alternative: "+renderAlternatives(outcome.Alternatives), false)
	default:
		s.respondTool(toolCallID, "Orario non disponibile e nessuna alternativa nei prossimi giorni.", false)
	}
}

// resolveRep recovers the rep behind the chosen slot from the stored display
// text.
func (s *session) resolveRep(chosen string) string {
	if s.record == nil {
		return ""
	}
	return slots.ResolveRep(chosen, s.record.AvailableSlots, s.record.SlotLayout)
}

func renderAlternatives(alts []slots.Slot) string {
	out := ""
	for i, a := range alts {
		if i > 0 {
			out += ", "
		}
		d, hm := timeutil.UTCToItalian(a.Time)
		out += d + " " + hm
	}
	return out
}

func (s *session) respondTool(toolCallID, result string, isError bool) {
	_ = s.writeAI(elevenlabs.FunctionCallResponse{
		Type:       "client_tool_result",
		ToolCallID: toolCallID,
		Result:     result,
		IsError:    isError,
	})
}

func (s *session) sendUserAudio(payload string) {
	s.aiMu.Lock()
	open := s.aiOpen
	s.aiMu.Unlock()
	if !open {
		return
	}
	_ = s.writeAI(elevenlabs.UserAudio{Type: "user_audio", UserAudioChunk: payload})
}

func (s *session) pong(eventID int) {
	s.aiMu.Lock()
	open := s.aiOpen
	s.aiMu.Unlock()
	if !open {
		return
	}
	_ = s.writeAI(elevenlabs.Pong{Type: "pong", EventID: eventID})
}

func (s *session) writeAI(v interface{}) error {
	s.aiMu.Lock()
	defer s.aiMu.Unlock()
	if s.aiConn == nil || !s.aiOpen {
		return fmt.Errorf("agent socket not open")
	}
	return s.aiConn.WriteJSON(v)
}

func (s *session) writeTwilio(v interface{}) {
	s.twilioMu.Lock()
	defer s.twilioMu.Unlock()
	if err := s.twilioConn.WriteJSON(v); err != nil {
		logger.Base().Warn("failed to write telephony frame", zap.Error(err))
	}
}

func (s *session) markStopped() {
	ctx := context.Background()
	if s.callSID == "" {
		return
	}
	var err error
	if s.inbound {
		err = s.bridge.repos.IncomingCalls().UpdateStatus(ctx, s.callSID, "stream-ended")
	} else {
		err = s.bridge.repos.Calls().UpdateStatus(ctx, s.callSID, "stream-ended", "")
	}
	if err != nil {
		logger.Base().Warn("failed to record stream end", zap.Error(err))
	}
}

// close tears down both sockets exactly once. Further sends are no-ops behind
// the open flags.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.aiMu.Lock()
		if s.aiConn != nil && s.aiOpen {
			_ = s.aiConn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = s.aiConn.Close()
		}
		s.aiOpen = false
		s.aiMu.Unlock()

		_ = s.twilioConn.Close()
	})
}
