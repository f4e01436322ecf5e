package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "models/gemini-2.0-flash"
)

// Client calls the Gemini generateContent endpoint. Used for the province
// fallback and the post-call missed-action analysis.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewClient creates a Gemini client. An empty apiKey yields a nil client so
// callers can treat the LLM as absent.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		APIKey:     apiKey,
		Model:      defaultModel,
		HTTPClient: &http.Client{Timeout: 45 * time.Second},
	}
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateOptions tune a single generateContent call.
type GenerateOptions struct {
	Temperature     float64
	MaxOutputTokens int
	JSONResponse    bool
}

// Generate runs one generateContent call and returns the first candidate text.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}
	if opts.JSONResponse {
		reqBody.GenerationConfig.ResponseMimeType = "application/json"
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1beta/%s:generateContent?key=%s", c.BaseURL, c.Model, c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(body[:min(len(body), 200)]))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// GenerateWithRetry wraps Generate with up to three exponential-backoff
// retries for transient failures.
func (c *Client) GenerateWithRetry(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var out string
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		text, err := c.Generate(ctx, prompt, opts)
		if err != nil {
			logger.Base().Warn("gemini call failed, retrying", zap.Error(err))
			return err
		}
		out = text
		return nil
	}, policy)
	return out, err
}

// GuessProvince implements locale.ProvinceLLM: asks for the two-letter
// province code of an Italian address.
func (c *Client) GuessProvince(ctx context.Context, address string) (string, error) {
	prompt := fmt.Sprintf(
		"Qual è la sigla della provincia italiana (due lettere) di questo indirizzo? Rispondi SOLO con la sigla.\nIndirizzo: %s",
		address)
	text, err := c.GenerateWithRetry(ctx, prompt, GenerateOptions{Temperature: 0.1, MaxOutputTokens: 10})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
