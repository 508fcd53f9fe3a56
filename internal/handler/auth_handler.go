// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authbase/internal/auth"
	"github.com/hitoshi/authbase/internal/middleware"
	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/session"
	"github.com/hitoshi/authbase/internal/token"
)

const (
	oauthStateCookie    = "oauth_state"
	callbackURLCookie   = "auth_callback_url"
	oauthCookieMaxAge   = 600 // 10分
	oauthCallbackFailed = "OAUTH_CALLBACK"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Providers() []auth.ProviderInfo
	GetLoginURL(providerID, state string) (string, error)
	HandleOAuthCallback(ctx context.Context, providerID, code, linkUserID string) (*auth.SignInResult, error)
	Register(ctx context.Context, in auth.RegisterInput) (*auth.SignInResult, error)
	SignInWithCredentials(ctx context.Context, email, password string) (*auth.SignInResult, error)
	Refresh(ctx context.Context, claims token.Claims) (string, token.Claims, error)
	SessionFor(ctx context.Context, claims token.Claims) session.Session
	SignOut(ctx context.Context, claims token.Claims) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL                  string
	Cookie                   middleware.CookieConfig
	SessionMaxAge            time.Duration
	LoginPath                string
	DefaultAuthenticatedPath string
}

// AuthHandler は/api/auth配下のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	if config.DefaultAuthenticatedPath == "" {
		config.DefaultAuthenticatedPath = "/dashboard"
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// credentialsRequest はcredentialsサインインの入力。JSONとフォーム送信の両方を受け付ける。
type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CallbackURL string `json:"callbackUrl"`
}

// Providers は利用可能なサインイン方法を返す。
// GET /api/auth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]auth.ProviderInfo)
	for _, p := range h.service.Providers() {
		out[p.ID] = p
	}
	writeJSON(w, http.StatusOK, out)
}

// SignIn はOAuthフローを開始する。credentialsの場合はログイン画面へ誘導する。
// GET /api/auth/signin/{provider}?callbackUrl=/dashboard
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	if providerID == auth.ProviderCredentials {
		http.Redirect(w, r, h.config.LoginPath, http.StatusFound)
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(providerID, state)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewValidationError("未対応のプロバイダーです"))
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortCookie(w, oauthStateCookie, state)
	if cb := r.URL.Query().Get("callbackUrl"); cb != "" {
		h.setShortCookie(w, callbackURLCookie, h.safeCallbackURL(cb))
	}

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// OAuthCallback はOAuthコールバックを処理する。
// GET /api/auth/callback/{provider}?code=xxx&state=yyy
// サインインが拒否された場合はログイン画面に ?error=コード を付けて戻す。
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("provider", providerID),
			slog.String("query_state", state),
		)
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.clearCookie(w, oauthStateCookie)

	callbackURL := h.config.DefaultAuthenticatedPath
	if c, err := r.Cookie(callbackURLCookie); err == nil && c.Value != "" {
		callbackURL = h.safeCallbackURL(c.Value)
		h.clearCookie(w, callbackURLCookie)
	}

	// プロバイダー側でユーザーが拒否した場合など
	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		slog.Info("oauth provider returned error",
			slog.String("provider", providerID),
			slog.String("error", providerErr),
		)
		h.redirectToLogin(w, r, model.ErrCodeSignInDenied)
		return
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	// 3. 認証処理（サインイン済みの場合はaccountの紐付け先とする）
	var linkUserID string
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		linkUserID = claims.Subject
	}
	result, err := h.service.HandleOAuthCallback(r.Context(), providerID, code, linkUserID)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.redirectToLogin(w, r, apiErr.Code)
			return
		}
		slog.Error("oauth callback failed",
			slog.String("provider", providerID),
			slog.String("error", err.Error()),
		)
		h.redirectToLogin(w, r, oauthCallbackFailed)
		return
	}

	// 4. セッションCookieを設定してリダイレクト
	middleware.SetSessionCookie(w, result.Token, h.config.SessionMaxAge, h.config.Cookie)
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

// CredentialsCallback はメールアドレスとパスワードでサインインする。
// POST /api/auth/callback/credentials
func (h *AuthHandler) CredentialsCallback(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if isFormRequest(r) {
		req = credentialsRequest{
			Email:       r.PostFormValue("email"),
			Password:    r.PostFormValue("password"),
			CallbackURL: r.PostFormValue("callbackUrl"),
		}
	} else if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.SignInWithCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetSessionCookie(w, result.Token, h.config.SessionMaxAge, h.config.Cookie)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":  true,
		"url": h.safeCallbackURL(req.CallbackURL),
	})
}

// Register はcredentialsでユーザーを登録し、サインイン済みのセッションを返す。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decodeJSON(w, r, &in) {
		return
	}

	result, err := h.service.Register(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetSessionCookie(w, result.Token, h.config.SessionMaxAge, h.config.Cookie)
	writeJSON(w, http.StatusCreated, h.service.SessionFor(r.Context(), result.Claims))
}

// Session は現在のセッションを返す。未認証の場合は空のオブジェクトを返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.service.SessionFor(r.Context(), claims))
}

// UpdateSession はトークンをDBから再読み込みして再発行する（update トリガー）。
// POST /api/auth/session
// ユーザーが削除されていた場合はCookieを削除して401を返す。
func (h *AuthHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	raw, next, err := h.service.Refresh(r.Context(), claims)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if raw == "" {
		middleware.ClearSessionCookie(w, h.config.Cookie)
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return
	}

	middleware.SetSessionCookie(w, raw, h.config.SessionMaxAge, h.config.Cookie)
	writeJSON(w, http.StatusOK, h.service.SessionFor(r.Context(), next))
}

// SignOut はセッションCookieを削除する。トークンが無い場合もCookieは削除する。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		if err := h.service.SignOut(r.Context(), claims); err != nil {
			// サインアウト記録に失敗してもCookieはクリアする
			slog.Error("failed to sign out", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	writeJSON(w, http.StatusOK, map[string]string{"url": h.config.LoginPath})
}

// safeCallbackURL はオープンリダイレクトを防ぐため、同一オリジンのパスのみを許可する。
// それ以外はデフォルトの遷移先を返す。
func (h *AuthHandler) safeCallbackURL(raw string) string {
	if base := strings.TrimRight(h.config.BaseURL, "/"); base != "" && strings.HasPrefix(raw, base+"/") {
		raw = strings.TrimPrefix(raw, base)
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return h.config.DefaultAuthenticatedPath
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return h.config.DefaultAuthenticatedPath
	}
	return raw
}

func (h *AuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.config.LoginPath+"?error="+url.QueryEscape(code), http.StatusFound)
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func isFormRequest(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/x-www-form-urlencoded"
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
