package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authbase/internal/middleware"
	"github.com/hitoshi/authbase/internal/session"
	"github.com/hitoshi/authbase/internal/token"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// SessionProjector はクレームをセッションに射影する。
type SessionProjector interface {
	SessionFor(ctx context.Context, claims token.Claims) session.Session
}

// pageResponse はページスタブのレスポンス。画面の描画はフロントエンドが行う。
type pageResponse struct {
	Page    string           `json:"page"`
	Session *session.Session `json:"session"`
}

// PageHandler はページルートのスタブ。ゲートキーパーを通過したリクエストにセッションを返す。
type PageHandler struct {
	sessions SessionProjector
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(sessions SessionProjector) *PageHandler {
	return &PageHandler{sessions: sessions}
}

// Render はページ名と現在のセッションを返す。未認証の場合sessionはnull。
func (h *PageHandler) Render(w http.ResponseWriter, r *http.Request) {
	resp := pageResponse{Page: r.URL.Path}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		s := h.sessions.SessionFor(r.Context(), claims)
		resp.Session = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// checkerがnilの場合はプロセスの稼働のみを返す。
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
