// Package user はプロフィール管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/hitoshi/authbase/internal/model"
	"github.com/hitoshi/authbase/internal/repository"
	"github.com/hitoshi/authbase/internal/security"
)

// 表示名の最大文字数
const maxNameLength = 100

// UpdateProfileInput はプロフィール更新の入力。
// nilのフィールドは更新しない。空文字列は値を削除する。
type UpdateProfileInput struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// Service はプロフィール管理のサービス層。
type Service struct {
	store     repository.CredentialStoreService
	sanitizer security.NameSanitizerService
	guard     security.SSRFGuardService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	store repository.CredentialStoreService,
	sanitizer security.NameSanitizerService,
	guard security.SSRFGuardService,
) *Service {
	return &Service{
		store:     store,
		sanitizer: sanitizer,
		guard:     guard,
	}
}

// Profile は指定ユーザーのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は表示名とプロフィール画像URLを更新する。
// 表示名はHTMLを除去してから長さを検証し、画像URLはSSRFガードで検証する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.User, error) {
	if in.Name == nil && in.Image == nil {
		return nil, model.NewValidationError("name または image を指定してください")
	}

	var name, image string
	if in.Name != nil {
		name = s.sanitizer.SanitizeName(*in.Name)
		if err := validation.Validate(name, validation.RuneLength(0, maxNameLength)); err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("name: %v", err))
		}
	}
	if in.Image != nil {
		image = strings.TrimSpace(*in.Image)
		if image != "" {
			if err := s.guard.ValidateImageURL(image); err != nil {
				return nil, model.NewInvalidImageURLError(err.Error())
			}
		}
	}

	// 表示名と画像URLは1回の書き込みで更新する
	var user *model.User
	var err error
	if in.Image == nil {
		user, err = s.store.UpdateUserName(ctx, userID, model.StringPtr(name))
	} else {
		user, err = s.store.UpdateUserProfile(ctx, userID, model.ProfileUpdate{
			SetName:  in.Name != nil,
			Name:     model.StringPtr(name),
			SetImage: true,
			Image:    model.StringPtr(image),
		})
	}
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "プロフィールを更新しました",
		slog.String("user_id", userID),
		slog.Bool("name", in.Name != nil),
		slog.Bool("image", in.Image != nil),
	)
	return user, nil
}
