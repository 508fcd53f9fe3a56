// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/authbase/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithAccount はユーザーとaccountを同一トランザクションで作成する。
	CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error

	// UpdateProfile は表示名・プロフィール画像URLを1回のUPDATEで更新し、更新後のユーザーを返す。
	// ユーザーが存在しない場合はnilを返す。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
}

// AccountRepository は外部IdP紐付け情報の永続化インターフェース。
type AccountRepository interface {
	// FindByProviderAccount はproviderとprovider_account_idでaccountを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAccount(ctx context.Context, provider, providerAccountID string) (*model.Account, error)

	// Create は既存ユーザーにaccountを紐付ける。
	Create(ctx context.Context, account *model.Account) error
}

// CredentialStoreReader はセッション状態遷移が参照する読み取り専用の部分集合。
type CredentialStoreReader interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

// CredentialStoreService は認証・プロフィール処理が利用するキー検索と更新の集合。
type CredentialStoreService interface {
	CredentialStoreReader
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUserByAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error)
	// UpdateUserName・UpdateUserProfile はユーザーが存在しない場合にmodel.APIError(USER_NOT_FOUND)を返す。
	UpdateUserName(ctx context.Context, id string, name *string) (*model.User, error)
	UpdateUserProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
	CreateUserWithAccount(ctx context.Context, user *model.User, account *model.Account) error
	LinkAccount(ctx context.Context, account *model.Account) error
}
