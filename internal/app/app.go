package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authbase/internal/audit"
	"github.com/hitoshi/authbase/internal/auth"
	"github.com/hitoshi/authbase/internal/config"
	"github.com/hitoshi/authbase/internal/database"
	"github.com/hitoshi/authbase/internal/handler"
	"github.com/hitoshi/authbase/internal/logger"
	"github.com/hitoshi/authbase/internal/metrics"
	"github.com/hitoshi/authbase/internal/middleware"
	"github.com/hitoshi/authbase/internal/repository"
	"github.com/hitoshi/authbase/internal/route"
	"github.com/hitoshi/authbase/internal/security"
	"github.com/hitoshi/authbase/internal/session"
	"github.com/hitoshi/authbase/internal/token"
	"github.com/hitoshi/authbase/internal/user"
)

// oauthHTTPTimeout はOAuthプロバイダーとの通信タイムアウト。
const oauthHTTPTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再初期化する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	if cfg.AuthSecretGenerated {
		slog.Warn("AUTH_SECRET is not set; using development secret",
			slog.String("app_env", cfg.AppEnv),
		)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("app_env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 資格情報ストア
	store := repository.NewCredentialStore(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresAccountRepo(db),
	)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. 認証サービス
	guard := security.NewSSRFGuard()
	sanitizer := security.NewNameSanitizer()
	codec := token.NewCodec([]byte(cfg.AuthSecret), seconds(cfg.SessionMaxAge))

	machine := session.NewMachine(store, slog.Default())
	tracker := audit.NewTracker(slog.Default(), collector)
	events := audit.NewEventLogger(slog.Default(), collector)

	authService := auth.NewService(
		store, machine, events, codec,
		auth.NewPasswordHasher(0), sanitizer, tracker, collector,
		auth.ServiceConfig{BaseURL: cfg.BaseURL},
		oauthProviders(cfg, guard)...,
	)
	userService := user.NewService(store, sanitizer, guard)

	// 5. ルーターの構築
	cookie := middleware.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	}
	rules := route.Rules{
		AuthAPIPrefix:            route.DefaultAuthAPIPrefix,
		Protected:                cfg.ProtectedRoutes,
		AuthOnly:                 cfg.AuthOnlyRoutes,
		LoginPath:                cfg.LoginPath,
		DefaultAuthenticatedPath: cfg.DefaultAuthenticatedPath,
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Codec:             codec,
		SessionUpdateAge:  seconds(cfg.SessionUpdateAge),
		Gatekeeper:        route.NewGatekeeper(rules),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		HealthChecker:  db,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:                  cfg.BaseURL,
			Cookie:                   cookie,
			SessionMaxAge:            seconds(cfg.SessionMaxAge),
			LoginPath:                cfg.LoginPath,
			DefaultAuthenticatedPath: cfg.DefaultAuthenticatedPath,
		},

		UserService: userService,
		Pages:       pagePaths(cfg),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("google_enabled", cfg.GoogleEnabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// oauthProviders は設定で有効になっているOAuthプロバイダーを返す。
// プロバイダーとの通信はSSRFガード付きクライアントで行う。
func oauthProviders(cfg *config.Config, guard security.SSRFGuardService) []auth.OAuthProvider {
	var providers []auth.OAuthProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   guard.NewSafeClient(oauthHTTPTimeout),
		}))
	}
	return providers
}

// pagePaths はページスタブとして登録するパスを返す。
// 既定のページに、設定で追加された保護ルート・認証専用ルートを重複なく加える。
func pagePaths(cfg *config.Config) []string {
	seen := make(map[string]struct{})
	var paths []string
	add := func(list []string) {
		for _, p := range list {
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	add(handler.DefaultPages)
	add([]string{cfg.LoginPath, cfg.DefaultAuthenticatedPath})
	add(cfg.ProtectedRoutes)
	add(cfg.AuthOnlyRoutes)
	return paths
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
