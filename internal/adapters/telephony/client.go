package telephony

import (
	"encoding/json"
	"fmt"

	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// activeStates are the call states that count against the concurrency cap.
var activeStates = []string{"queued", "ringing", "in-progress"}

// Client wraps the Twilio REST client with the three operations the system
// needs: place a call, count active calls, hang up a live call.
type Client struct {
	rest       *twilio.RestClient
	accountSID string
}

// NewClient creates a Twilio client from account credentials.
func NewClient(accountSID, authToken string) *Client {
	return &Client{
		rest:       twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		accountSID: accountSID,
	}
}

// CallOptions is the opaque telephony-call parameter blob persisted on queue
// rows and replayed at dial time.
type CallOptions struct {
	To                  string `json:"to"`
	From                string `json:"from"`
	TwimlURL            string `json:"twimlUrl"`
	StatusCallbackURL   string `json:"statusCallbackUrl"`
	MachineDetection    string `json:"machineDetection"`
	AsyncAMDCallbackURL string `json:"asyncAmdCallbackUrl"`
}

// EncodeCallOptions serializes options for storage on a queue row.
func EncodeCallOptions(opts CallOptions) string {
	data, _ := json.Marshal(opts)
	return string(data)
}

// DecodeCallOptions parses a stored call-options blob.
func DecodeCallOptions(blob string) (CallOptions, error) {
	var opts CallOptions
	if err := json.Unmarshal([]byte(blob), &opts); err != nil {
		return CallOptions{}, fmt.Errorf("invalid call options blob: %w", err)
	}
	return opts, nil
}

// PlaceCall creates an outbound call and returns the assigned call sid.
func (c *Client) PlaceCall(opts CallOptions) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(opts.To)
	params.SetFrom(opts.From)
	params.SetUrl(opts.TwimlURL)
	params.SetStatusCallback(opts.StatusCallbackURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	if opts.MachineDetection != "" {
		params.SetMachineDetection(opts.MachineDetection)
		params.SetAsyncAmd("true")
		if opts.AsyncAMDCallbackURL != "" {
			params.SetAsyncAmdStatusCallback(opts.AsyncAMDCallbackURL)
		}
	}

	resp, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("create call returned no sid")
	}

	logger.Base().Info("outbound call placed",
		zap.String("call_sid", *resp.Sid),
		zap.String("to", opts.To),
	)
	return *resp.Sid, nil
}

// ActiveCallCount returns how many calls are currently queued, ringing or in
// progress. Errors must be treated as cap-saturated by the caller.
func (c *Client) ActiveCallCount() (int, error) {
	total := 0
	for _, state := range activeStates {
		params := &openapi.ListCallParams{}
		params.SetStatus(state)
		params.SetLimit(100)
		calls, err := c.rest.Api.ListCall(params)
		if err != nil {
			return 0, fmt.Errorf("failed to list %s calls: %w", state, err)
		}
		total += len(calls)
	}
	return total, nil
}

// Hangup completes a live call, used when machine detection fires mid-call.
func (c *Client) Hangup(callSID string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.rest.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to hang up call %s: %w", callSID, err)
	}
	return nil
}
