package web

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/jyothri/detach/db"
)

func (s *Server) oauth(r *mux.Router) {
	oauthRouter := r.PathPrefix("/api/").Subrouter()
	oauthRouter.Use(RequestSizeLimitMiddleware(OAuthCallbackMaxBodySize))
	oauthRouter.HandleFunc("/glink", s.GoogleAccountLinkingHandler).Methods("GET")
}

// GoogleAccountLinkingHandler exchanges the authorization code for a
// refresh token, stores it and sends the browser back to the frontend.
func (s *Server) GoogleAccountLinkingHandler(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if handleMaxBytesError(w, r, err) {
		return
	}
	if err != nil {
		slog.Error("Failed to parse OAuth form", "error", err)
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request format")
		return
	}
	redirectUri := r.FormValue("redirectUri")
	if redirectUri == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "redirectUri not found in request")
		return
	}
	u, err := url.Parse(redirectUri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		slog.Error("Failed to parse redirect URI", "redirect_uri", redirectUri, "error", err)
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid redirect URI")
		return
	}
	code := r.FormValue("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "code not found in request")
		return
	}

	t, err := s.opts.OAuth(redirectUri).Exchange(r.Context(), code)
	if err != nil {
		slog.Warn("Could not exchange authorization code", "error", err)
		writeError(w, http.StatusBadGateway, "OAUTH_EXCHANGE_FAILED", "Authorization code could not be exchanged")
		return
	}
	if t.AccessToken == "" || t.RefreshToken == "" {
		slog.Warn("Access or Refresh token could not be obtained.", "token_type", t.TokenType)
		writeError(w, http.StatusBadRequest, "OAUTH_EXCHANGE_FAILED", "Access or Refresh token could not be obtained")
		return
	}

	clientKey := generateRandomString(12)
	email, err := s.opts.Identify(r.Context(), t.RefreshToken)
	if err != nil {
		slog.Error("Failed to get user identity", "error", err)
		writeError(w, http.StatusInternalServerError, "IDENTITY_FAILED", "Failed to verify account")
		return
	}
	err = s.opts.DB.SaveOAuthToken(r.Context(), db.NewPrivateToken(t, clientKey, getDisplayName(email, clientKey)))
	if err != nil {
		slog.Error("Failed to save OAuth token",
			"client_key", clientKey,
			"error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Failed to save account information")
		return
	}

	returnUrl := u.Scheme + "://" + u.Host + "/"
	w.Header().Set("Location", returnUrl)
	w.WriteHeader(http.StatusFound)
}

// getDisplayName masks the local part of email, falling back to the
// client key for short or missing addresses.
func getDisplayName(email string, clientKey string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return clientKey
	}
	username := email[:at]
	if len(username) < 6 {
		return clientKey
	}
	return fmt.Sprintf("%s****%s%s", username[:3], username[len(username)-2:], email[at:])
}

func generateRandomString(length int) string {
	var chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890-"
	ll := len(chars)
	b := make([]byte, length)
	rand.Read(b)
	for i := 0; i < length; i++ {
		b[i] = chars[int(b[i])%ll]
	}
	return string(b)
}
