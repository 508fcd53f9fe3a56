package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/authbase/internal/metrics"
	"github.com/hitoshi/authbase/internal/model"
)

// 監査対象の操作名
const (
	OpSignIn   = "signIn"
	OpSignOut  = "signOut"
	OpRegister = "register"
)

// softFailure は想定内の失敗（認証拒否・入力不正）を表すエラーが実装する。
type softFailure interface {
	SoftFailure() bool
}

// Tracker は認証操作を相関ID付きのログで囲む。
type Tracker struct {
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewTracker はTrackerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewTracker(logger *slog.Logger, collector metrics.MetricsCollector) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Track はfnを実行し、前後に initiated / completed・failed・threw のログを記録する。
// fnには相関IDを格納したコンテキストが渡される。
// fnの戻り値はそのまま返し、panicは記録した上で元の値のまま再送出する。
func (t *Tracker) Track(ctx context.Context, operation, provider string, fn func(ctx context.Context) error) error {
	id := NewCorrelationID(strings.ToLower(operation))
	ctx = WithCorrelationID(ctx, id)

	log := t.logger.With(
		slog.String("correlation_id", id),
		slog.String("operation", operation),
		slog.String("provider", provider),
	)

	log.InfoContext(ctx, "auth operation initiated")
	start := t.now()

	defer func() {
		if r := recover(); r != nil {
			elapsed := t.now().Sub(start)
			name, message := describePanic(r)
			log.ErrorContext(ctx, "auth operation threw",
				slog.Int64("duration_ms", elapsed.Milliseconds()),
				slog.Group("error",
					slog.String("name", name),
					slog.String("message", message),
				),
			)
			t.record(operation, provider, metrics.OutcomeError, elapsed)
			panic(r)
		}
	}()

	err := fn(ctx)
	elapsed := t.now().Sub(start)
	duration := slog.Int64("duration_ms", elapsed.Milliseconds())

	var soft softFailure
	switch {
	case err == nil:
		log.InfoContext(ctx, "auth operation completed", duration)
		t.record(operation, provider, metrics.OutcomeSuccess, elapsed)
	case errors.As(err, &soft) && soft.SoftFailure():
		log.WarnContext(ctx, "auth operation failed", duration,
			slog.Group("error",
				slog.String("name", errorName(err)),
				slog.String("message", err.Error()),
			),
		)
		t.record(operation, provider, metrics.OutcomeDenied, elapsed)
	default:
		log.ErrorContext(ctx, "auth operation threw", duration,
			slog.Group("error",
				slog.String("name", errorName(err)),
				slog.String("message", err.Error()),
			),
		)
		t.record(operation, provider, metrics.OutcomeError, elapsed)
	}

	return err
}

func (t *Tracker) record(operation, provider, outcome string, elapsed time.Duration) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordAuthLatency(operation, elapsed)
	if operation == OpSignIn || operation == OpRegister {
		t.metrics.RecordSignIn(provider, outcome)
	}
}

// describePanic はpanic値を名前とメッセージに正規化する。
// error以外の値は名前を"Unknown"とする。
func describePanic(v any) (string, string) {
	if err, ok := v.(error); ok {
		return errorName(err), err.Error()
	}
	return "Unknown", fmt.Sprint(v)
}

func errorName(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return fmt.Sprintf("%T", err)
}
