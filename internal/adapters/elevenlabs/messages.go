package elevenlabs

import "encoding/json"

// Message types exchanged on the conversation WebSocket. Only the fields the
// bridge reads or writes are modeled; unknown fields pass through untouched.

// InboundMessage is one message received from the agent socket. Type selects
// which of the payload fields is populated.
type InboundMessage struct {
	Type string `json:"type"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int    `json:"event_id"`
	} `json:"audio_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	InitiationMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	FunctionCall *struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call,omitempty"`
}

// ConversationInitiation is the single message sent when the socket opens,
// seeding the agent with per-call context.
type ConversationInitiation struct {
	Type                     string                 `json:"type"`
	DynamicVariables         map[string]string      `json:"dynamic_variables,omitempty"`
	ConversationConfigOverride map[string]interface{} `json:"conversation_config_override,omitempty"`
}

// NewConversationInitiation builds the initiation message.
func NewConversationInitiation(vars map[string]string, firstMessage string) ConversationInitiation {
	msg := ConversationInitiation{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: vars,
	}
	if firstMessage != "" {
		msg.ConversationConfigOverride = map[string]interface{}{
			"agent": map[string]interface{}{
				"first_message": firstMessage,
			},
		}
	}
	return msg
}

// UserAudio carries one caller audio chunk to the agent.
type UserAudio struct {
	Type           string `json:"type"`
	UserAudioChunk string `json:"user_audio_chunk"`
}

// Pong answers a ping.
type Pong struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// FunctionCallResponse answers a client tool call.
type FunctionCallResponse struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error,omitempty"`
}
