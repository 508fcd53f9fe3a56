package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/authbase/internal/model"
)

// CredentialStore はユーザーとaccountのリポジトリを束ね、
// 認証処理が必要とするキー検索をまとめて提供する。
type CredentialStore struct {
	users    UserRepository
	accounts AccountRepository
}

// NewCredentialStore はCredentialStoreを生成する。
func NewCredentialStore(users UserRepository, accounts AccountRepository) *CredentialStore {
	return &CredentialStore{users: users, accounts: accounts}
}

// FindUserByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (s *CredentialStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.users.FindByID(ctx, id)
}

// FindUserByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (s *CredentialStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.users.FindByEmail(ctx, email)
}

// FindUserByAccount はprovider + provider_account_idに紐付くユーザーを取得する。
// accountまたはユーザーが見つからない場合はnilを返す。
func (s *CredentialStore) FindUserByAccount(ctx context.Context, provider, providerAccountID string) (*model.User, error) {
	account, err := s.accounts.FindByProviderAccount(ctx, provider, providerAccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, account.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account owner: %w", err)
	}
	return user, nil
}

// UpdateUserName はユーザー名のみを更新する。
// ユーザーが存在しない場合はmodel.NewUserNotFoundErrorを返す。
func (s *CredentialStore) UpdateUserName(ctx context.Context, id string, name *string) (*model.User, error) {
	return s.UpdateUserProfile(ctx, id, model.ProfileUpdate{SetName: true, Name: name})
}

// UpdateUserProfile は表示名・プロフィール画像URLを更新する。
// ユーザーが存在しない場合はmodel.NewUserNotFoundErrorを返す。
func (s *CredentialStore) UpdateUserProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error) {
	user, err := s.users.UpdateProfile(ctx, id, update)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// CreateUserWithAccount はユーザーとaccountを同時に作成する。
func (s *CredentialStore) CreateUserWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	return s.users.CreateWithAccount(ctx, user, account)
}

// LinkAccount は既存ユーザーにaccountを紐付ける。
func (s *CredentialStore) LinkAccount(ctx context.Context, account *model.Account) error {
	return s.accounts.Create(ctx, account)
}

// compile-time interface check
var _ CredentialStoreService = (*CredentialStore)(nil)
