package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"lumora.app/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, user, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"tokens":  pair,
	})
}

// handleRefresh exchanges a refresh token for a new pair. The revocation
// check happens inside the exchange, independent of the rate-limit decision
// already rendered by the admission middleware.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenRevoked):
			writeError(w, r, http.StatusUnauthorized, "token revoked")
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
			writeError(w, r, http.StatusUnauthorized, "invalid token")
		default:
			writeError(w, r, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		// Revocation is best-effort; the session still ends client-side.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "persisted": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleLogoutAll revokes every live session of the authenticated caller.
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	header := strings.TrimSpace(r.Header.Get(authHeader))
	if !strings.HasPrefix(header, bearer) {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	userID, err := a.auth.VerifyAccess(header[len(bearer):])
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	if err := a.auth.LogoutAll(r.Context(), userID); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "persisted": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
