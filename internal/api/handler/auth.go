package handler

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digitalrelab/star-export/internal/api/middleware"
	"github.com/digitalrelab/star-export/internal/auth"
	"github.com/digitalrelab/star-export/internal/repository"
)

const stateCookie = "star_oauth_state"

// AuthHandler drives the OAuth login flows and session lifecycle.
type AuthHandler struct {
	oauth       *auth.OAuthService
	sessions    *auth.Sessions
	users       *repository.UserRepository
	frontendURL string
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(oauth *auth.OAuthService, sessions *auth.Sessions, users *repository.UserRepository, frontendURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		oauth:       oauth,
		sessions:    sessions,
		users:       users,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// Login redirects the browser to the provider's authorization page.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := randomState()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	loginURL, err := h.oauth.LoginURL(provider, state)
	if errors.Is(err, auth.ErrUnknownProvider) {
		respondError(w, http.StatusNotFound, "Unknown provider")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// Callback completes the OAuth flow: it verifies the state, exchanges
// the code, issues a session cookie, and redirects to the frontend.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	failureURL := h.frontendURL + "/auth/failure"

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	stored, err := r.Cookie(stateCookie)
	if code == "" || err != nil || stored.Value == "" || stored.Value != state {
		h.logger.Warn("oauth callback rejected", "provider", provider, "error", r.URL.Query().Get("error"))
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}

	user, err := h.oauth.HandleCallback(r.Context(), provider, code)
	if err != nil {
		h.logger.Error("oauth callback failed", "provider", provider, "error", err)
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}

	token, expires, err := h.sessions.Issue(user.ID)
	if err != nil {
		h.logger.Error("failed to issue session", "user_id", user.ID, "error", err)
		http.Redirect(w, r, failureURL, http.StatusFound)
		return
	}

	clearCookie(w, stateCookie)
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	successURL := h.frontendURL + "/dashboard?auth=success"
	if provider == auth.ProviderInstagram {
		successURL += "&platform=instagram"
	}
	http.Redirect(w, r, successURL, http.StatusFound)
}

// Logout clears the session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, auth.SessionCookie)
	respond(w, http.StatusOK, envelope{Success: true, Message: "Logged out successfully"})
}

// Status reports whether the request carries a valid session and, if
// so, the account it belongs to.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	unauthenticated := map[string]any{"authenticated": false, "user": nil}

	token := middleware.SessionToken(r)
	if token == "" {
		respondData(w, http.StatusOK, unauthenticated)
		return
	}

	userID, err := h.sessions.Validate(token)
	if err != nil {
		respondData(w, http.StatusOK, unauthenticated)
		return
	}
	user, err := h.users.FindByID(userID)
	if err != nil {
		respondData(w, http.StatusOK, unauthenticated)
		return
	}

	respondData(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user": map[string]string{
			"id":      user.ID,
			"name":    user.Name,
			"email":   user.Email,
			"picture": user.Picture,
		},
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
