// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/session"
	"github.com/hitoshi/authbase/internal/token"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストにクレームを格納するためのキー。
var claimsContextKey = contextKey("session_claims")

// TokenRefresher は古くなったクレームをDBから再読み込みして再発行する。
// auth.Serviceが実装する。
type TokenRefresher interface {
	Refresh(ctx context.Context, claims token.Claims) (string, token.Claims, error)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	Cookie CookieConfig
	// UpdateAge を過ぎたトークンはリクエスト時に再発行される。0の場合は再発行しない。
	UpdateAge time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// NewSessionMiddleware はCookieのセッショントークンを検証し、
// クレームをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない・不正・期限切れの場合は匿名として処理を続ける。
// UpdateAgeを過ぎたトークンはrefresherで再発行し、Cookieを差し替える。
func NewSessionMiddleware(codec *token.Codec, refresher TokenRefresher, config SessionConfig) func(next http.Handler) http.Handler {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := codec.Decode(cookie.Value)
			if err != nil {
				level := slog.LevelWarn
				if errors.Is(err, token.ErrExpired) {
					level = slog.LevelDebug
				}
				slog.Log(r.Context(), level, "session token rejected",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path),
				)
				ClearSessionCookie(w, config.Cookie)
				next.ServeHTTP(w, r)
				return
			}

			if refresher != nil && config.UpdateAge > 0 && session.State(claims, config.UpdateAge, now()) == session.StateStale {
				raw, refreshed, err := refresher.Refresh(r.Context(), claims)
				switch {
				case err != nil:
					// 再発行に失敗しても、期限内のトークンはそのまま使う
					slog.Error("failed to refresh session token",
						slog.String("user_id", claims.Subject),
						slog.String("error", err.Error()),
					)
				case raw == "":
					claims = refreshed
				default:
					claims = refreshed
					SetSessionCookie(w, raw, codec.MaxAge(), config.Cookie)
				}
			}

			if !claims.Authenticated() {
				ClearSessionCookie(w, config.Cookie)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireAuth は未認証のリクエストに401 Unauthorizedを返すミドルウェア。
// NewSessionMiddlewareの内側で使用する。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie はセッショントークンをHTTP Only Cookieに設定する。
func SetSessionCookie(w http.ResponseWriter, raw string, maxAge time.Duration, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    raw,
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClaimsFromContext はリクエストコンテキストから認証済みクレームを取得する。
// 匿名リクエストの場合はfalseを返す。
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(token.Claims)
	if !ok || !claims.Authenticated() {
		return token.Claims{}, false
	}
	return claims, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過した認証済みリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claims.Subject, nil
}

// ContextWithClaims はコンテキストにクレームを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
