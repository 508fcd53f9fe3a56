// Package auth はOAuth・credentialsによるサインインと、セッショントークンの発行・更新を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/hitoshi/authbase/internal/audit"
	"github.com/hitoshi/authbase/internal/metrics"
	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/repository"
	"github.com/hitoshi/authbase/internal/security"
	"github.com/hitoshi/authbase/internal/session"
	"github.com/hitoshi/authbase/internal/token"
)

// プロバイダー識別子
const (
	ProviderGoogle      = "google"
	ProviderCredentials = "credentials"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Picture        string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// ID はプロバイダー識別子を返す。
	ID() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ProviderInfo は/api/auth/providersで公開するプロバイダー情報。
type ProviderInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SignInURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// SignInResult はサインイン成功時に発行されたトークンとクレーム。
type SignInResult struct {
	Token     string
	Claims    token.Claims
	User      *model.User
	IsNewUser bool
}

// RegisterInput はcredentialsによるユーザー登録の入力。
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate は入力値を検証する。
func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&in.Name, validation.RuneLength(0, 100)),
	)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BaseURL string
}

// Service は認証に関するビジネスロジックを提供する。
// サインイン・サインアウトはaudit.Trackerで相関ID付きのログに記録される。
type Service struct {
	providers map[string]OAuthProvider
	store     repository.CredentialStoreService
	callbacks session.Callbacks
	events    session.Events
	codec     *token.Codec
	hasher    *PasswordHasher
	sanitizer security.NameSanitizerService
	tracker   *audit.Tracker
	metrics   metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	store repository.CredentialStoreService,
	callbacks session.Callbacks,
	events session.Events,
	codec *token.Codec,
	hasher *PasswordHasher,
	sanitizer security.NameSanitizerService,
	tracker *audit.Tracker,
	collector metrics.MetricsCollector,
	config ServiceConfig,
	providers ...OAuthProvider,
) *Service {
	if events == nil {
		events = session.NopEvents{}
	}
	byID := make(map[string]OAuthProvider, len(providers))
	for _, p := range providers {
		byID[p.ID()] = p
	}
	return &Service{
		providers: byID,
		store:     store,
		callbacks: callbacks,
		events:    events,
		codec:     codec,
		hasher:    hasher,
		sanitizer: sanitizer,
		tracker:   tracker,
		metrics:   collector,
		config:    config,
	}
}

// Providers は利用可能なサインイン方法を返す。credentialsは常に含まれる。
func (s *Service) Providers() []ProviderInfo {
	base := strings.TrimRight(s.config.BaseURL, "/")
	out := make([]ProviderInfo, 0, len(s.providers)+1)
	if _, ok := s.providers[ProviderGoogle]; ok {
		out = append(out, ProviderInfo{
			ID:          ProviderGoogle,
			Name:        "Google",
			Type:        "oauth",
			SignInURL:   base + "/api/auth/signin/" + ProviderGoogle,
			CallbackURL: base + "/api/auth/callback/" + ProviderGoogle,
		})
	}
	out = append(out, ProviderInfo{
		ID:          ProviderCredentials,
		Name:        "Credentials",
		Type:        "credentials",
		SignInURL:   base + "/api/auth/callback/" + ProviderCredentials,
		CallbackURL: base + "/api/auth/callback/" + ProviderCredentials,
	})
	return out
}

// GetLoginURL は指定プロバイダーのOAuth認証URLを生成する。
func (s *Service) GetLoginURL(providerID, state string) (string, error) {
	p, ok := s.providers[providerID]
	if !ok {
		return "", fmt.Errorf("unknown oauth provider: %s", providerID)
	}
	return p.GetLoginURL(state), nil
}

// HandleOAuthCallback はOAuthコールバックを処理し、トークンを発行する。
// 未登録ユーザーの場合はusersレコードとaccountsレコードを同時に作成する。
// 同じメールアドレスのユーザーが別の方法で登録済みの場合はACCOUNT_NOT_LINKEDで拒否する。
// linkUserIDが指定された場合（サインイン済みユーザー）は、未紐付けのaccountをそのユーザーに紐付ける。
func (s *Service) HandleOAuthCallback(ctx context.Context, providerID, code, linkUserID string) (*SignInResult, error) {
	p, ok := s.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider: %s", providerID)
	}

	var result *SignInResult
	err := s.tracker.Track(ctx, audit.OpSignIn, providerID, func(ctx context.Context) error {
		info, err := p.ExchangeCode(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to exchange oauth code: %w", err)
		}

		user, err := s.store.FindUserByAccount(ctx, info.Provider, info.ProviderUserID)
		if err != nil {
			return fmt.Errorf("failed to find account: %w", err)
		}

		account := &model.Account{
			Provider:          info.Provider,
			ProviderAccountID: info.ProviderUserID,
		}

		isNewUser := false
		linking := false
		switch {
		case user != nil && linkUserID != "" && user.ID != linkUserID:
			// 別ユーザーに紐付け済みのaccountは付け替えない
			return model.NewAccountNotLinkedError()
		case user == nil && linkUserID != "":
			user, err = s.store.FindUserByID(ctx, linkUserID)
			if err != nil {
				return fmt.Errorf("failed to find link target: %w", err)
			}
			if user == nil {
				return model.NewUserNotFoundError()
			}
			account.ID = uuid.New().String()
			account.UserID = user.ID
			account.CreatedAt = time.Now()
			linking = true
		case user != nil:
			account.UserID = user.ID
			slog.InfoContext(ctx, "existing user logged in",
				slog.String("user_id", user.ID),
				slog.String("provider", info.Provider),
			)
		default:
			if info.Email != "" {
				owner, err := s.store.FindUserByEmail(ctx, info.Email)
				if err != nil {
					return fmt.Errorf("failed to find user by email: %w", err)
				}
				if owner != nil {
					return model.NewAccountNotLinkedError()
				}
			}
			user = newUserRecord(account, info.Email, info.Name, info.Picture, nil)
			isNewUser = true
		}

		if !s.callbacks.SignIn(ctx, user, account) {
			return model.NewSignInDeniedError()
		}
		if isNewUser {
			if err := s.persistUser(ctx, user, account); err != nil {
				return err
			}
		}
		if linking {
			if err := s.linkAccount(ctx, user, account); err != nil {
				return err
			}
		}

		result, err = s.issue(ctx, user, account, isNewUser)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Register はcredentialsプロバイダーでユーザーを登録し、そのままサインインする。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*SignInResult, error) {
	in.Email = strings.TrimSpace(in.Email)

	var result *SignInResult
	err := s.tracker.Track(ctx, audit.OpRegister, ProviderCredentials, func(ctx context.Context) error {
		if err := in.Validate(); err != nil {
			return model.NewValidationError(err.Error())
		}

		existing, err := s.store.FindUserByEmail(ctx, in.Email)
		if err != nil {
			return fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			return model.NewEmailInUseError()
		}

		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return err
		}

		account := &model.Account{Provider: ProviderCredentials}
		user := newUserRecord(account, in.Email, s.sanitizer.SanitizeName(in.Name), "", &hash)
		if !s.callbacks.SignIn(ctx, user, account) {
			return model.NewSignInDeniedError()
		}
		if err := s.persistUser(ctx, user, account); err != nil {
			return err
		}

		result, err = s.issue(ctx, user, account, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SignInWithCredentials はメールアドレスとパスワードでサインインする。
// 失敗理由に関わらず同一のCREDENTIALS_SIGNINエラーを返す。
func (s *Service) SignInWithCredentials(ctx context.Context, email, password string) (*SignInResult, error) {
	email = strings.TrimSpace(email)

	var result *SignInResult
	err := s.tracker.Track(ctx, audit.OpSignIn, ProviderCredentials, func(ctx context.Context) error {
		if email == "" || password == "" {
			return model.NewCredentialsSignInError()
		}

		user, err := s.store.FindUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to find user by email: %w", err)
		}

		var hash string
		if user != nil {
			hash = model.StringValue(user.PasswordHash)
		}
		if !s.hasher.Verify(hash, password) {
			return model.NewCredentialsSignInError()
		}

		account := &model.Account{
			UserID:            user.ID,
			Provider:          ProviderCredentials,
			ProviderAccountID: user.ID,
		}
		if !s.callbacks.SignIn(ctx, user, account) {
			return model.NewSignInDeniedError()
		}
		result, err = s.issue(ctx, user, account, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh はクレームをDBから再読み込みし、新しいトークンを発行する。
// ユーザーが見つからない場合はトークンを発行せず、エラーマーカー付きのクレームを返す。
func (s *Service) Refresh(ctx context.Context, claims token.Claims) (string, token.Claims, error) {
	next, err := s.callbacks.JWT(ctx, claims, session.JWTParams{Trigger: session.TriggerUpdate})
	if err != nil {
		return "", claims, err
	}
	if !next.Authenticated() {
		s.recordTransition("user_not_found")
		return "", next, nil
	}

	raw, issued, err := s.codec.Issue(next)
	if err != nil {
		return "", claims, err
	}
	s.recordTransition("refresh")
	return raw, issued, nil
}

// SessionFor はクレームをクライアント向けセッションに射影する。
// 認証済みでないクレームからは空のセッションを返す。
func (s *Service) SessionFor(ctx context.Context, claims token.Claims) session.Session {
	out := session.Session{}
	if claims.Authenticated() {
		out = s.callbacks.Session(ctx, out, claims)
	}
	s.events.Session(ctx, out, claims)
	return out
}

// SignOut はサインアウトを記録する。トークンはサーバーに保存されないため、
// Cookieの削除は呼び出し元が行う。
func (s *Service) SignOut(ctx context.Context, claims token.Claims) error {
	return s.tracker.Track(ctx, audit.OpSignOut, "session", func(ctx context.Context) error {
		if claims.Subject == "" {
			return model.NewUnauthorizedError()
		}
		s.events.SignOut(ctx, claims)
		return nil
	})
}

// issue はJWTコールバックでクレームを組み立てて署名する。
// 呼び出し前にSignInコールバックで許可されている必要がある。
func (s *Service) issue(ctx context.Context, user *model.User, account *model.Account, isNewUser bool) (*SignInResult, error) {
	claims, err := s.callbacks.JWT(ctx, token.Claims{}, session.JWTParams{
		User:    user,
		Account: account,
		Trigger: session.TriggerSignIn,
	})
	if err != nil {
		return nil, err
	}

	raw, issued, err := s.codec.Issue(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.events.SignIn(ctx, user, account, isNewUser)

	return &SignInResult{
		Token:     raw,
		Claims:    issued,
		User:      user,
		IsNewUser: isNewUser,
	}, nil
}

// newUserRecord は未保存のユーザーを組み立て、accountをそのユーザーに紐付ける。
// provider_account_idが未設定の場合（credentials）はユーザーIDを使う。
func newUserRecord(account *model.Account, email, name, picture string, passwordHash *string) *model.User {
	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        model.StringPtr(email),
		Name:         model.StringPtr(name),
		Image:        model.StringPtr(picture),
		Role:         model.RoleUser,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	account.ID = uuid.New().String()
	account.UserID = user.ID
	account.CreatedAt = now
	if account.ProviderAccountID == "" {
		account.ProviderAccountID = user.ID
	}
	return user
}

// persistUser はユーザーとaccountを同時に保存し、CreateUser・LinkAccountイベントを通知する。
func (s *Service) persistUser(ctx context.Context, user *model.User, account *model.Account) error {
	if err := s.store.CreateUserWithAccount(ctx, user, account); err != nil {
		return fmt.Errorf("failed to create user and account: %w", err)
	}

	s.events.CreateUser(ctx, user)
	s.events.LinkAccount(ctx, user, account)

	slog.InfoContext(ctx, "new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", account.Provider),
	)
	return nil
}

// linkAccount は既存ユーザーにaccountを保存し、LinkAccountイベントを通知する。
func (s *Service) linkAccount(ctx context.Context, user *model.User, account *model.Account) error {
	if err := s.store.LinkAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to link account: %w", err)
	}

	s.events.LinkAccount(ctx, user, account)

	slog.InfoContext(ctx, "account linked",
		slog.String("user_id", user.ID),
		slog.String("provider", account.Provider),
	)
	return nil
}

func (s *Service) recordTransition(transition string) {
	if s.metrics != nil {
		s.metrics.RecordTokenTransition(transition)
	}
}
