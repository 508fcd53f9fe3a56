package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/authbase/internal/route"
)

// GateRecorder はゲート判定の結果を記録する。
type GateRecorder interface {
	RecordGateDecision(action string)
}

// NewGatekeeperMiddleware はページへのアクセスをルート分類と認証状態で振り分けるミドルウェアを返す。
// 保護ページへの未認証アクセスはログインページへ、
// 認証専用ページ（ログイン・登録）への認証済みアクセスは既定ページへリダイレクトする。
// NewSessionMiddlewareの内側で使用する。
func NewGatekeeperMiddleware(gk *route.Gatekeeper, recorder GateRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, authenticated := ClaimsFromContext(r.Context())
			decision := gk.Decide(r.URL.Path, r.URL.RawQuery, authenticated)

			if recorder != nil {
				recorder.RecordGateDecision(decision.Action.String())
			}

			if decision.Action == route.Allow {
				next.ServeHTTP(w, r)
				return
			}

			slog.DebugContext(r.Context(), "gatekeeper redirect",
				slog.String("path", r.URL.Path),
				slog.String("action", decision.Action.String()),
				slog.String("location", decision.Location),
			)
			http.Redirect(w, r, decision.Location, http.StatusTemporaryRedirect)
		})
	}
}
