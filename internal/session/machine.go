package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/repository"
	"github.com/hitoshi/authbase/internal/token"
)

// TokenState はトークンの概念上の状態を表す。
type TokenState int

const (
	// StateAnonymous はsubを持たない、またはエラーマーカー付きのトークン。
	StateAnonymous TokenState = iota
	// StateFresh はクレームが揃っており再読み込み不要なトークン。
	StateFresh
	// StateStale はクレームをDBから再読み込みすべきトークン。
	StateStale
)

// String はログ・メトリクス用の名前を返す。
func (s TokenState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "anonymous"
	}
}

// State はクレームの状態を判定する。
// iatからupdateAgeが経過したトークンはStaleとなる。
func State(claims token.Claims, updateAge time.Duration, now time.Time) TokenState {
	if !claims.Authenticated() {
		return StateAnonymous
	}
	if claims.Stale(updateAge, now) {
		return StateStale
	}
	return StateFresh
}

// Machine はCallbacksを実装するセッション状態機械。
// 状態を持たず、クレームの遷移ごとに新しい値を返す。
type Machine struct {
	store  repository.CredentialStoreReader
	logger *slog.Logger
}

// NewMachine はMachineを生成する。loggerがnilの場合はslog.Default()を使う。
func NewMachine(store repository.CredentialStoreReader, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{store: store, logger: logger}
}

// SignIn はuser、account、メールアドレスが揃っている場合のみサインインを許可する。
func (m *Machine) SignIn(ctx context.Context, user *model.User, account *model.Account) bool {
	switch {
	case user == nil:
		m.logger.InfoContext(ctx, "sign-in denied: missing user")
		return false
	case account == nil:
		m.logger.InfoContext(ctx, "sign-in denied: missing account",
			slog.String("user_id", user.ID),
		)
		return false
	case model.StringValue(user.Email) == "":
		m.logger.InfoContext(ctx, "sign-in denied: missing email",
			slog.String("user_id", user.ID),
			slog.String("provider", account.Provider),
		)
		return false
	}
	return true
}

// JWT は次のクレームを決定する。
//
//   - サインイン（Userあり）: ユーザー情報をコピーし、ロールはDBから取得する（無ければUSER）
//   - 更新要求でsubあり: DBから再読み込みする。見つからない場合はエラーマーカーを付けて返す
//   - 更新要求でsubなし: そのまま返す
//   - それ以外: そのまま返す
//
// DBの障害はエラーとして返す。
func (m *Machine) JWT(ctx context.Context, claims token.Claims, params JWTParams) (token.Claims, error) {
	if params.User != nil {
		return m.signInClaims(ctx, claims, params.User, params.Account)
	}

	if params.Trigger != TriggerUpdate {
		return claims, nil
	}

	if claims.Subject == "" {
		m.logger.ErrorContext(ctx, "cannot refresh without id")
		return claims, nil
	}

	user, err := m.store.FindUserByID(ctx, claims.Subject)
	if err != nil {
		return claims, fmt.Errorf("failed to refresh token claims: %w", err)
	}
	if user == nil {
		m.logger.ErrorContext(ctx, "user not found during token refresh",
			slog.String("user_id", claims.Subject),
		)
		next := claims
		next.Error = token.ErrorUserNotFound
		return next, nil
	}

	next := claims
	next.Email = clonePtr(user.Email)
	next.Name = clonePtr(user.Name)
	next.Picture = clonePtr(user.Image)
	next.Role = roleOrDefault(user.Role)
	next.Error = ""
	return next, nil
}

func (m *Machine) signInClaims(ctx context.Context, claims token.Claims, user *model.User, account *model.Account) (token.Claims, error) {
	next := claims
	next.Subject = user.ID
	next.Email = clonePtr(user.Email)
	next.Name = clonePtr(user.Name)
	next.Picture = clonePtr(user.Image)
	next.Error = ""

	// ロールは呼び出し元の値を信用せず、DBから読み直す
	stored, err := m.store.FindUserByID(ctx, user.ID)
	if err != nil {
		return claims, fmt.Errorf("failed to look up role: %w", err)
	}
	next.Role = model.RoleUser
	if stored != nil {
		next.Role = roleOrDefault(stored.Role)
	}

	attrs := []any{
		slog.String("user_id", user.ID),
		slog.String("role", string(next.Role)),
	}
	if account != nil {
		attrs = append(attrs, slog.String("provider", account.Provider))
	}
	m.logger.DebugContext(ctx, "token issued for sign-in", attrs...)

	return next, nil
}

// Session はクレームをセッションに射影する。
// subが無い場合は入力のセッションをそのまま返し、警告を記録する。
func (m *Machine) Session(ctx context.Context, s Session, claims token.Claims) Session {
	if claims.Subject == "" {
		m.logger.WarnContext(ctx, "session requested for token without subject")
		return s
	}

	out := s
	out.User = &SessionUser{
		ID:    claims.Subject,
		Email: clonePtr(claims.Email),
		Name:  clonePtr(claims.Name),
		Image: clonePtr(claims.Picture),
		Role:  roleOrDefault(claims.Role),
	}
	if claims.ExpiresAt != nil {
		out.Expires = claims.ExpiresAt.Time
	}

	m.logger.DebugContext(ctx, "session projected",
		slog.String("user_id", claims.Subject),
		slog.String("email", model.StringValue(claims.Email)),
	)
	return out
}

func roleOrDefault(r model.Role) model.Role {
	if r == "" {
		return model.RoleUser
	}
	return r
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// compile-time interface check
var _ Callbacks = (*Machine)(nil)
