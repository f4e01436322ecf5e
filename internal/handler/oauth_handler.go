package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/katxuyu/voice-ai-agent/internal/adapters/ghl"
	"github.com/katxuyu/voice-ai-agent/pkg/logger"
	"go.uber.org/zap"
)

// OAuthHandler runs the GoHighLevel OAuth dance.
type OAuthHandler struct {
	oauth *ghl.OAuthManager
}

// NewOAuthHandler creates the OAuth handler.
func NewOAuthHandler(oauth *ghl.OAuthManager) *OAuthHandler {
	return &OAuthHandler{oauth: oauth}
}

// SetupOAuthRoutes registers the authorization entry point and the callback.
func (h *OAuthHandler) SetupOAuthRoutes(r *mux.Router) {
	r.HandleFunc("/gohighlevel/auth", h.handleAuth).Methods(http.MethodGet)
	r.HandleFunc("/hl/callback", h.handleCallback).Methods(http.MethodGet)
}

func (h *OAuthHandler) handleAuth(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.oauth.AuthorizeURL(), http.StatusFound)
}

func (h *OAuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	locationID, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		logger.Base().Error("oauth exchange failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token exchange failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "authorized",
		"locationId": locationID,
	})
}
