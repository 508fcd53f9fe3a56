package audit

import (
	"context"
	"log/slog"

	"github.com/hitoshi/authbase/internal/metrics"
	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/session"
	"github.com/hitoshi/authbase/internal/token"
)

// EventLogger は認証イベントを構造化ログとメトリクスに記録するsession.Events実装。
type EventLogger struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewEventLogger はEventLoggerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewEventLogger(logger *slog.Logger, collector metrics.MetricsCollector) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger, metrics: collector}
}

func (e *EventLogger) with(ctx context.Context) *slog.Logger {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return e.logger.With(slog.String("correlation_id", id))
	}
	return e.logger
}

// SignIn はサインイン成功を記録する。
func (e *EventLogger) SignIn(ctx context.Context, user *model.User, account *model.Account, isNewUser bool) {
	attrs := []any{
		slog.String("user_id", user.ID),
		slog.Bool("is_new_user", isNewUser),
	}
	if account != nil {
		attrs = append(attrs, slog.String("provider", account.Provider))
	}
	e.with(ctx).InfoContext(ctx, "user signed in", attrs...)
	if e.metrics != nil {
		e.metrics.RecordTokenTransition("sign_in")
	}
}

// SignOut はサインアウトを記録する。
func (e *EventLogger) SignOut(ctx context.Context, claims token.Claims) {
	e.with(ctx).InfoContext(ctx, "user signed out",
		slog.String("user_id", claims.Subject),
	)
	if e.metrics != nil {
		e.metrics.RecordSignOut()
	}
}

// CreateUser はユーザー作成を記録する。
func (e *EventLogger) CreateUser(ctx context.Context, user *model.User) {
	e.with(ctx).InfoContext(ctx, "user created",
		slog.String("user_id", user.ID),
		slog.String("email", model.StringValue(user.Email)),
	)
}

// LinkAccount はaccountの紐付けを記録する。
func (e *EventLogger) LinkAccount(ctx context.Context, user *model.User, account *model.Account) {
	e.with(ctx).InfoContext(ctx, "account linked",
		slog.String("user_id", user.ID),
		slog.String("provider", account.Provider),
	)
}

// Session はセッション参照を記録する。
func (e *EventLogger) Session(ctx context.Context, s session.Session, claims token.Claims) {
	if s.User == nil {
		e.with(ctx).DebugContext(ctx, "anonymous session read")
		return
	}
	e.with(ctx).DebugContext(ctx, "session read",
		slog.String("user_id", s.User.ID),
		slog.Time("expires", s.Expires),
	)
}

// compile-time interface check
var _ session.Events = (*EventLogger)(nil)
