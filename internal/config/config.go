package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full environment surface of the service, loaded once at
// startup. Required settings missing cause a startup failure.
type Config struct {
	Port string

	// Twilio
	TwilioAccountSID       string
	TwilioAuthToken        string
	TwilioNumberInfissi    string
	TwilioNumberUnico      string

	// GoHighLevel CRM
	GHLClientID     string
	GHLClientSecret string
	GHLRedirectURI  string
	GHLLocationID   string
	GHLCalendarID   string

	// ElevenLabs
	ElevenLabsAPIKey          string
	ElevenLabsAgentIDOutbound string
	ElevenLabsAgentIDInbound  string
	ElevenLabsWebhookSecret   string

	// Gemini (optional; province fallback and post-call analysis)
	GeminiAPIKey string

	// Operator notifications
	ChatWebhookURL string

	// Routing / exposure
	PublicBaseURL  string
	OutgoingPrefix string
	IncomingPrefix string

	// Behavior
	MaxActiveCalls         int
	QueueTickSeconds       int
	PostCallAnalysis       string // "", "true", "mock"
	DefaultAppointmentAddr string
	DBPath                 string

	// ZIP → province sheet
	ZipSheetID    string
	ZipSheetRange string
	SheetsAPIKey  string

	// CRM workflow ids for contact tagging
	WorkflowNoRepsID        string
	WorkflowCallScheduledID string

	// Per-service rep pools used when the CRM slot response carries no rep
	// identity (comma-separated GHL user ids).
	RepUserIDs map[string][]string
}

// Load reads the configuration from the environment. It returns an error
// naming the first missing required variable.
func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnvOrDefault("PORT", "8080"),

		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioNumberInfissi: os.Getenv("TWILIO_PHONE_NUMBER"),
		TwilioNumberUnico:   os.Getenv("TWILIO_PHONE_NUMBER_UNICO"),

		GHLClientID:     os.Getenv("GHL_CLIENT_ID"),
		GHLClientSecret: os.Getenv("GHL_CLIENT_SECRET"),
		GHLRedirectURI:  os.Getenv("GHL_REDIRECT_URI"),
		GHLLocationID:   os.Getenv("GHL_LOCATION_ID"),
		GHLCalendarID:   os.Getenv("GHL_CALENDAR_ID"),

		ElevenLabsAPIKey:          os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsAgentIDOutbound: os.Getenv("ELEVENLABS_AGENT_ID"),
		ElevenLabsAgentIDInbound:  os.Getenv("ELEVENLABS_AGENT_ID_INBOUND"),
		ElevenLabsWebhookSecret:   os.Getenv("ELEVENLABS_WEBHOOK_SECRET"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),

		ChatWebhookURL: os.Getenv("CHAT_WEBHOOK_URL"),

		PublicBaseURL:  os.Getenv("PUBLIC_BASE_URL"),
		OutgoingPrefix: os.Getenv("OUTGOING_PREFIX"),
		IncomingPrefix: os.Getenv("INCOMING_PREFIX"),

		MaxActiveCalls:         getEnvAsIntOrDefault("MAX_ACTIVE_CALLS", 3),
		QueueTickSeconds:       getEnvAsIntOrDefault("QUEUE_TICK_SECONDS", 10),
		PostCallAnalysis:       strings.ToLower(os.Getenv("ENABLE_POST_CALL_ANALYSIS")),
		DefaultAppointmentAddr: getEnvOrDefault("DEFAULT_APPOINTMENT_ADDRESS", "Da definire con il cliente"),
		DBPath:                 getEnvOrDefault("DB_PATH", "voice_agent.db"),

		WorkflowNoRepsID:        os.Getenv("WORKFLOW_NO_REPS_ID"),
		WorkflowCallScheduledID: os.Getenv("WORKFLOW_CALL_SCHEDULED_ID"),

		ZipSheetID:    os.Getenv("ZIP_SHEET_ID"),
		ZipSheetRange: getEnvOrDefault("ZIP_SHEET_RANGE", "A:B"),
		SheetsAPIKey:  os.Getenv("GOOGLE_SHEETS_API_KEY"),

		RepUserIDs: map[string][]string{
			"Infissi": splitAndTrim(os.Getenv("REP_USER_IDS_INFISSI")),
			"Vetrate": splitAndTrim(os.Getenv("REP_USER_IDS_VETRATE")),
			"Pergole": splitAndTrim(os.Getenv("REP_USER_IDS_PERGOLE")),
		},
	}

	if cfg.QueueTickSeconds < 5 {
		cfg.QueueTickSeconds = 5
	}

	required := []struct{ name, value string }{
		{"TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", cfg.TwilioNumberInfissi},
		{"TWILIO_PHONE_NUMBER_UNICO", cfg.TwilioNumberUnico},
		{"GHL_CLIENT_ID", cfg.GHLClientID},
		{"GHL_CLIENT_SECRET", cfg.GHLClientSecret},
		{"GHL_REDIRECT_URI", cfg.GHLRedirectURI},
		{"GHL_LOCATION_ID", cfg.GHLLocationID},
		{"GHL_CALENDAR_ID", cfg.GHLCalendarID},
		{"CHAT_WEBHOOK_URL", cfg.ChatWebhookURL},
		{"ELEVENLABS_API_KEY", cfg.ElevenLabsAPIKey},
		{"ELEVENLABS_AGENT_ID", cfg.ElevenLabsAgentIDOutbound},
		{"ELEVENLABS_AGENT_ID_INBOUND", cfg.ElevenLabsAgentIDInbound},
		{"PUBLIC_BASE_URL", cfg.PublicBaseURL},
		{"OUTGOING_PREFIX", cfg.OutgoingPrefix},
		{"INCOMING_PREFIX", cfg.IncomingPrefix},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("missing required environment variable %s", r.name)
		}
	}

	return cfg, nil
}

// TwilioNumberFor returns the outbound caller id for a service.
func (c *Config) TwilioNumberFor(service string) string {
	if service == "Infissi" {
		return c.TwilioNumberInfissi
	}
	return c.TwilioNumberUnico
}

// AgentIDFor returns the ElevenLabs agent for a direction.
func (c *Config) AgentIDFor(inbound bool) string {
	if inbound {
		return c.ElevenLabsAgentIDInbound
	}
	return c.ElevenLabsAgentIDOutbound
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
