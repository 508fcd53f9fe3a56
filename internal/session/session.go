// Package session はセッショントークンの状態遷移と、
// トークンからクライアント向けセッションへの射影を提供する。
package session

import (
	"context"
	"time"

	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/token"
)

// Trigger はJWTコールバックの起動契機を表す。
type Trigger int

const (
	// TriggerNone はリクエストごとの通常読み込み。
	TriggerNone Trigger = iota
	// TriggerSignIn はサインイン直後のトークン発行。
	TriggerSignIn
	// TriggerUpdate はクレームの再読み込み要求（明示的な更新、またはstale検出）。
	TriggerUpdate
)

// String はログ出力用の名前を返す。
func (t Trigger) String() string {
	switch t {
	case TriggerSignIn:
		return "signIn"
	case TriggerUpdate:
		return "update"
	default:
		return "none"
	}
}

// JWTParams はJWTコールバックに渡されるイベント情報。
// UserとAccountはサインイン時のみ設定される。
type JWTParams struct {
	User    *model.User
	Account *model.Account
	Trigger Trigger
}

// SessionUser はセッションに含まれるユーザー情報。
// 値のない項目はJSONでnullとして出力される。
type SessionUser struct {
	ID    string     `json:"id"`
	Email *string    `json:"email"`
	Name  *string    `json:"name"`
	Image *string    `json:"image"`
	Role  model.Role `json:"role"`
}

// Session はリクエストごとに組み立てられるセッション。永続化はしない。
type Session struct {
	User    *SessionUser `json:"user"`
	Expires time.Time    `json:"expires"`
}

// Callbacks は認証パイプラインが呼び出す3つのコールバック。
// 1リクエスト内ではSignIn、JWT、Sessionの順に呼ばれる。
type Callbacks interface {
	// SignIn はサインインを許可するかを判定する。falseの場合はサインインを拒否する。
	SignIn(ctx context.Context, user *model.User, account *model.Account) bool

	// JWT は現在のクレームとイベントから次のクレームを決定する。
	JWT(ctx context.Context, claims token.Claims, params JWTParams) (token.Claims, error)

	// Session はクレームをセッションに射影する。
	Session(ctx context.Context, s Session, claims token.Claims) Session
}

// Events は認証イベントの通知先。戻り値を持たず、制御フローに影響しない。
type Events interface {
	SignIn(ctx context.Context, user *model.User, account *model.Account, isNewUser bool)
	SignOut(ctx context.Context, claims token.Claims)
	CreateUser(ctx context.Context, user *model.User)
	LinkAccount(ctx context.Context, user *model.User, account *model.Account)
	Session(ctx context.Context, s Session, claims token.Claims)
}

// NopEvents は何もしないEvents実装。
type NopEvents struct{}

func (NopEvents) SignIn(context.Context, *model.User, *model.Account, bool) {}
func (NopEvents) SignOut(context.Context, token.Claims) {}
func (NopEvents) CreateUser(context.Context, *model.User) {}
func (NopEvents) LinkAccount(context.Context, *model.User, *model.Account) {}
func (NopEvents) Session(context.Context, Session, token.Claims) {}

var _ Events = NopEvents{}
