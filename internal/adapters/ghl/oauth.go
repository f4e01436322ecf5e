package ghl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"github.com/katxuyu/voice-ai-agent/internal/repository"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	authorizeURL = "https://marketplace.gohighlevel.com/oauth/chooselocation"
	tokenURL     = "https://services.leadconnectorhq.com/oauth/token"
	oauthScopes  = "calendars.readonly calendars/events.write contacts.readonly contacts.write workflows.readonly"
)

// OAuthManager acquires and refreshes GoHighLevel tokens, persisting state in
// the ghl_tokens table. It implements TokenSource.
type OAuthManager struct {
	clientID     string
	clientSecret string
	redirectURI  string
	tokens       *repository.TokenRepository
	httpClient   *http.Client

	mu sync.Mutex // serializes refreshes so concurrent callers don't race the token endpoint
}

// NewOAuthManager creates the OAuth token manager.
func NewOAuthManager(clientID, clientSecret, redirectURI string, tokens *repository.TokenRepository) *OAuthManager {
	return &OAuthManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: 20 * time.Second},
	}
}

// AuthorizeURL builds the URL the operator visits to start the OAuth dance.
func (m *OAuthManager) AuthorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.clientID)
	q.Set("redirect_uri", m.redirectURI)
	q.Set("scope", oauthScopes)
	return authorizeURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	LocationID   string `json:"locationId"`
}

// Exchange swaps an authorization code for tokens and persists them keyed by
// the location the code was issued for.
func (m *OAuthManager) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := m.requestToken(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"redirect_uri":  {m.redirectURI},
	})
	if err != nil {
		return "", err
	}

	if err := m.store(ctx, tok); err != nil {
		return "", err
	}
	logger.Base().Info("ghl oauth tokens stored", zap.String("location_id", tok.LocationID))
	return tok.LocationID, nil
}

// AccessToken returns a valid bearer for the location, refreshing when the
// stored token is within five minutes of expiry.
func (m *OAuthManager) AccessToken(ctx context.Context, locationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.tokens.Get(ctx, locationID)
	if err != nil {
		return "", fmt.Errorf("failed to load ghl token: %w", err)
	}
	if stored == nil {
		return "", fmt.Errorf("no ghl token stored for location %s: complete the oauth flow first", locationID)
	}

	if !stored.Expired(time.Now()) {
		return stored.AccessToken, nil
	}

	tok, err := m.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {stored.RefreshToken},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	})
	if err != nil {
		return "", fmt.Errorf("failed to refresh ghl token: %w", err)
	}
	if tok.LocationID == "" {
		tok.LocationID = locationID
	}
	if err := m.store(ctx, tok); err != nil {
		return "", err
	}
	logger.Base().Info("ghl token refreshed", zap.String("location_id", locationID))
	return tok.AccessToken, nil
}

func (m *OAuthManager) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access token")
	}
	return &tok, nil
}

func (m *OAuthManager) store(ctx context.Context, tok *tokenResponse) error {
	return m.tokens.Upsert(ctx, &domain.GHLToken{
		LocationID:   tok.LocationID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	})
}
