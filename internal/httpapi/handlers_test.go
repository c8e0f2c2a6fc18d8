package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lumora.app/internal/auth"
)

func postJSON(t *testing.T, handler http.Handler, path string, body any, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeTokens(t *testing.T, rr *httptest.ResponseRecorder) auth.TokenPair {
	t.Helper()
	var resp struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	return resp.Tokens
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, nil)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	handler := api.Handler()
	addr := "10.0.0.5:1234"

	rr := postJSON(t, handler, "/v1/auth/login",
		map[string]string{"email": "ada@example.com", "password": "hunter22"}, addr)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body %s", rr.Code, rr.Body.String())
	}
	tokens := decodeTokens(t, rr)
	if tokens.RefreshToken == "" {
		t.Fatal("login returned no refresh token")
	}

	rr = postJSON(t, handler, "/v1/auth/refresh",
		map[string]string{"refresh_token": tokens.RefreshToken}, addr)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, body %s", rr.Code, rr.Body.String())
	}
	rotated := decodeTokens(t, rr)

	// The rotated-out token is revoked and may not be replayed.
	rr = postJSON(t, handler, "/v1/auth/refresh",
		map[string]string{"refresh_token": tokens.RefreshToken}, addr)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status = %d, want 401", rr.Code)
	}

	rr = postJSON(t, handler, "/v1/auth/logout",
		map[string]string{"refresh_token": rotated.RefreshToken}, addr)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: status = %d", rr.Code)
	}
	rr = postJSON(t, handler, "/v1/auth/refresh",
		map[string]string{"refresh_token": rotated.RefreshToken}, "10.0.0.6:1234")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: status = %d, want 401", rr.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t, nil)
	handler := api.Handler()

	rr := postJSON(t, handler, "/v1/auth/login",
		map[string]string{"email": "ada@example.com", "password": "wrong"}, "10.0.0.7:1234")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	api := newTestAPI(t, nil)
	handler := api.Handler()

	rr := postJSON(t, handler, "/v1/auth/refresh",
		map[string]string{"refresh_token": "not-a-token"}, "10.0.0.8:1234")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestLogoutAllRequiresBearer(t *testing.T) {
	api := newTestAPI(t, nil)
	handler := api.Handler()
	addr := "10.0.0.10:1234"

	rr := postJSON(t, handler, "/v1/auth/logout_all", map[string]string{}, addr)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no bearer: status = %d, want 401", rr.Code)
	}

	login := postJSON(t, handler, "/v1/auth/login",
		map[string]string{"email": "ada@example.com", "password": "hunter22"}, addr)
	tokens := decodeTokens(t, login)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout_all", bytes.NewReader([]byte("{}")))
	req.RemoteAddr = addr
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	out := httptest.NewRecorder()
	handler.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("logout_all: status = %d, body %s", out.Code, out.Body.String())
	}

	rr = postJSON(t, handler, "/v1/auth/refresh",
		map[string]string{"refresh_token": tokens.RefreshToken}, "10.0.0.11:1234")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout_all: status = %d, want 401", rr.Code)
	}
}

func TestAuthEndpointsUseAuthTier(t *testing.T) {
	api := newTestAPI(t, nil)
	handler := api.Handler()

	rr := postJSON(t, handler, "/v1/auth/login",
		map[string]string{"email": "ada@example.com", "password": "hunter22"}, "10.0.0.12:1234")
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("auth tier limit header = %q, want 5", got)
	}
}
