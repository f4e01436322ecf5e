package handler

import (
	"net/url"
	"strings"

	"github.com/katxuyu/voice-ai-agent/internal/adapters/telephony"
	"github.com/katxuyu/voice-ai-agent/internal/config"
	"github.com/katxuyu/voice-ai-agent/internal/domain"
)

// callParams is everything the TwiML endpoint needs to echo back into the
// media stream as custom parameters.
type callParams struct {
	To                     string
	Service                domain.Service
	FirstName              string
	FullName               string
	Email                  string
	ContactID              string
	AbruptRetry            bool
	PastCallSummary        string
	OriginalConversationID string
}

// composeCallOptions builds the telephony options blob for one dial attempt.
// Custom parameters ride on the TwiML URL so Twilio hands them back when it
// fetches the bridge instructions.
func composeCallOptions(cfg *config.Config, p callParams) telephony.CallOptions {
	q := url.Values{}
	q.Set("firstName", p.FirstName)
	q.Set("fullName", p.FullName)
	q.Set("email", p.Email)
	q.Set("phone", p.To)
	q.Set("contactId", p.ContactID)
	q.Set("service", string(p.Service))
	if p.AbruptRetry {
		q.Set("isAbruptEndingRetry", "true")
		q.Set("pastCallSummary", p.PastCallSummary)
		q.Set("originalConversationId", p.OriginalConversationID)
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/") + cfg.OutgoingPrefix
	return telephony.CallOptions{
		To:                  p.To,
		From:                cfg.TwilioNumberFor(string(p.Service)),
		TwimlURL:            base + "/outbound-call-twiml?" + q.Encode(),
		StatusCallbackURL:   base + "/call-status",
		MachineDetection:    "Enable",
		AsyncAMDCallbackURL: base + "/call-status",
	}
}

// callOptionsFromRecord rebuilds options for a retry from the call's audit
// record.
func callOptionsFromRecord(cfg *config.Config, rec *domain.CallRecord) telephony.CallOptions {
	return composeCallOptions(cfg, callParams{
		To:        rec.To,
		Service:   rec.Service,
		FirstName: rec.FirstName,
		FullName:  rec.FullName,
		Email:     rec.Email,
		ContactID: rec.ContactID,
	})
}

// websocketURL converts the public base URL to its wss equivalent and appends
// path.
func websocketURL(cfg *config.Config, path string) string {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + path
}
