package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/token"
)

// --- モック定義 ---

type mockRefresher struct {
	refreshFn func(ctx context.Context, claims token.Claims) (string, token.Claims, error)
	calls     int
}

func (m *mockRefresher) Refresh(ctx context.Context, claims token.Claims) (string, token.Claims, error) {
	m.calls++
	return m.refreshFn(ctx, claims)
}

// --- ヘルパー ---

var testSecret = []byte("middleware-test-secret")

func testClaims(userID string) token.Claims {
	email := userID + "@example.com"
	return token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		Email:            &email,
		Role:             model.RoleUser,
	}
}

func issueToken(t *testing.T, codec *token.Codec, claims token.Claims) string {
	t.Helper()
	raw, err := codec.Encode(claims)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// serveWithSession はセッションミドルウェアを通してリクエストを処理し、
// ハンドラーが受け取ったクレームを返す。
func serveWithSession(mw func(http.Handler) http.Handler, req *http.Request) (*http.Response, token.Claims, bool) {
	var got token.Claims
	var ok bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Result(), got, ok
}

// --- テスト ---

func TestSessionMiddleware_ValidToken_InjectsClaims(t *testing.T) {
	codec := token.NewCodec(testSecret, time.Hour)
	mw := NewSessionMiddleware(codec, nil, SessionConfig{})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: issueToken(t, codec, testClaims("user-123"))})

	resp, claims, ok := serveWithSession(mw, req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !ok || claims.Subject != "user-123" {
		t.Errorf("claims = %+v, ok = %v", claims, ok)
	}
}

func TestSessionMiddleware_NoCookie_Anonymous(t *testing.T) {
	mw := NewSessionMiddleware(token.NewCodec(testSecret, time.Hour), nil, SessionConfig{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, _, ok := serveWithSession(mw, req)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ok {
		t.Error("expected anonymous request")
	}
	if findCookie(resp, SessionCookieName) != nil {
		t.Error("session cookie should not be touched")
	}
}

func TestSessionMiddleware_InvalidToken_ClearsCookie(t *testing.T) {
	codec := token.NewCodec(testSecret, time.Hour)
	other := token.NewCodec([]byte("other-secret"), time.Hour)
	expired := token.NewCodec(testSecret, -time.Minute)

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong secret", issueToken(t, other, testClaims("u1"))},
		{"expired", issueToken(t, expired, testClaims("u1"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewSessionMiddleware(codec, nil, SessionConfig{})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.raw})

			resp, _, ok := serveWithSession(mw, req)
			if ok {
				t.Error("expected anonymous request")
			}
			c := findCookie(resp, SessionCookieName)
			if c == nil || c.MaxAge >= 0 {
				t.Errorf("expected session cookie to be cleared, got %+v", c)
			}
		})
	}
}

func TestSessionMiddleware_StaleToken_RefreshesCookie(t *testing.T) {
	codec := token.NewCodec(testSecret, time.Hour)
	raw := issueToken(t, codec, testClaims("u1"))

	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, claims token.Claims) (string, token.Claims, error) {
			next := claims
			name := "Renamed"
			next.Name = &name
			next.Role = model.RoleAdmin
			return codec.Issue(next)
		},
	}
	mw := NewSessionMiddleware(codec, refresher, SessionConfig{
		UpdateAge: time.Minute,
		Now:       func() time.Time { return time.Now().Add(2 * time.Minute) },
	})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: raw})

	resp, claims, ok := serveWithSession(mw, req)
	if refresher.calls != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresher.calls)
	}
	if !ok || claims.Role != model.RoleAdmin || model.StringValue(claims.Name) != "Renamed" {
		t.Errorf("claims = %+v", claims)
	}
	c := findCookie(resp, SessionCookieName)
	if c == nil || c.Value == "" || !c.HttpOnly {
		t.Fatalf("expected refreshed HttpOnly cookie, got %+v", c)
	}
	if c.MaxAge != int(time.Hour.Seconds()) {
		t.Errorf("cookie MaxAge = %d, want %d", c.MaxAge, int(time.Hour.Seconds()))
	}
}

func TestSessionMiddleware_FreshToken_NoRefresh(t *testing.T) {
	codec := token.NewCodec(testSecret, time.Hour)
	refresher := &mockRefresher{}
	mw := NewSessionMiddleware(codec, refresher, SessionConfig{UpdateAge: time.Hour})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: issueToken(t, codec, testClaims("u1"))})

	resp, _, ok := serveWithSession(mw, req)
	if !ok {
		t.Error("expected authenticated request")
	}
	if refresher.calls != 0 {
		t.Errorf("refresh calls = %d, want 0", refresher.calls)
	}
	if findCookie(resp, SessionCookieName) != nil {
		t.Error("fresh token should not be re-issued")
	}
}

func TestSessionMiddleware_StaleToken_UserGone_ClearsCookie(t *testing.T) {
	codec := token.NewCodec(testSecret, time.Hour)
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, claims token.Claims) (string, token.Claims, error) {
			claims.Error = token.ErrorUserNotFound
			return "", claims, nil
		},
	}
	mw := NewSessionMiddleware(codec, refresher, SessionConfig{
		UpdateAge: time.Minute,
		Now:       func() time.Time { return time.Now().Add(2 * time.Minute) },
	})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: issueToken(t, codec, testClaims("gone"))})

	resp, _, ok := serveWithSession(mw, req)
	if ok {
		t.Error("expected anonymous request after user removal")
	}
	c := findCookie(resp, SessionCookieName)
	if c == nil || c.MaxAge >= 0 {
		t.Errorf("expected session cookie to be cleared, got %+v", c)
	}
}

func TestSessionMiddleware_RefreshError_KeepsClaims(t *testing.T) {
	codec := token.NewCodec(testSecret, time.Hour)
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, claims token.Claims) (string, token.Claims, error) {
			return "", claims, errors.New("db down")
		},
	}
	mw := NewSessionMiddleware(codec, refresher, SessionConfig{
		UpdateAge: time.Minute,
		Now:       func() time.Time { return time.Now().Add(2 * time.Minute) },
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: issueToken(t, codec, testClaims("u1"))})

	resp, claims, ok := serveWithSession(mw, req)
	if !ok || claims.Subject != "u1" {
		t.Errorf("claims = %+v, ok = %v", claims, ok)
	}
	if findCookie(resp, SessionCookieName) != nil {
		t.Error("cookie should be left untouched on refresh error")
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("anonymous", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req = req.WithContext(ContextWithClaims(req.Context(), testClaims("u1")))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("error marker", func(t *testing.T) {
		claims := testClaims("u1")
		claims.Error = token.ErrorUserNotFound
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		req = req.WithContext(ContextWithClaims(req.Context(), claims))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
	id, err := UserIDFromContext(ContextWithClaims(context.Background(), testClaims("u9")))
	if err != nil || id != "u9" {
		t.Errorf("UserIDFromContext() = %q, %v", id, err)
	}
}
