package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/authbase/internal/metrics"
	"github.com/hitoshi/authbase/internal/middleware"
	"github.com/hitoshi/authbase/internal/route"
	"github.com/hitoshi/authbase/internal/token"
)

// DefaultPages はページスタブとして登録するパス。
var DefaultPages = []string{"/", "/login", "/register", "/dashboard", "/profile", "/settings"}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Codec             *token.Codec
	SessionUpdateAge  time.Duration
	Gatekeeper        *route.Gatekeeper
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig

	// 運用
	HealthChecker  HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// Pages はページスタブとして登録するパス。nilの場合はDefaultPages。
	Pages []string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → CORS → Session → Logging
//
// /api/auth/* と /api/users/* にはCSRFを、ページにはGatekeeperを追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages := deps.Pages
	if pages == nil {
		pages = DefaultPages
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.Cookie.Secure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionMiddleware(deps.Codec, deps.AuthService, middleware.SessionConfig{
		Cookie:    deps.AuthConfig.Cookie,
		UpdateAge: deps.SessionUpdateAge,
	}))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService)
	pageHandler := NewPageHandler(deps.AuthService)

	// --- 運用エンドポイント ---
	health := NewHealthHandler(deps.HealthChecker)
	r.Get("/health", health)
	r.Get("/api/health", health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証API ---
	r.Route(route.DefaultAuthAPIPrefix, func(r chi.Router) {
		r.Get("/csrf", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Get("/providers", authHandler.Providers)
			r.Get("/signin/{provider}", authHandler.SignIn)
			r.Get("/callback/{provider}", authHandler.OAuthCallback)
			r.Post("/callback/credentials", authHandler.CredentialsCallback)
			r.Post("/register", authHandler.Register)
			r.Get("/session", authHandler.Session)
			r.Post("/session", authHandler.UpdateSession)
			r.Post("/signout", authHandler.SignOut)
		})
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: RequireAuth → CSRF
	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/me", userHandler.Me)
		r.Patch("/me", userHandler.UpdateMe)
	})

	// --- ページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewGatekeeperMiddleware(deps.Gatekeeper, deps.Metrics))
		for _, p := range pages {
			r.Get(p, pageHandler.Render)
		}
	})

	return r
}
