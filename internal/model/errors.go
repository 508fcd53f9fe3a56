// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// SoftFailure はauth/validationカテゴリのエラーを想定内の失敗として扱う。
// 監査ログでは "failed" として記録され、"threw" とは区別される。
func (e *APIError) SoftFailure() bool {
	return e.Category == "auth" || e.Category == "validation"
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeSignInDenied      = "SIGNIN_DENIED"
	ErrCodeCredentialsSignIn = "CREDENTIALS_SIGNIN"
	ErrCodeAccountNotLinked  = "ACCOUNT_NOT_LINKED"
	ErrCodeEmailInUse        = "EMAIL_IN_USE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidImageURL   = "INVALID_IMAGE_URL"
	ErrCodeCSRFFailed        = "CSRF_FAILED"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewSignInDeniedError はサインインが拒否された場合のエラーを生成する。
// アカウント列挙を防ぐため、拒否理由は含めない。
func NewSignInDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignInDenied,
		Message:  "サインインできませんでした。",
		Category: "auth",
		Action:   "別の方法でサインインするか、しばらく待ってから再度お試しください。",
	}
}

// NewCredentialsSignInError はメールアドレスまたはパスワードが一致しない場合のエラーを生成する。
func NewCredentialsSignInError() *APIError {
	return &APIError{
		Code:     ErrCodeCredentialsSignIn,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewAccountNotLinkedError は同じメールアドレスが別の方法で登録済みの場合のエラーを生成する。
func NewAccountNotLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotLinked,
		Message:  "このメールアドレスは別のサインイン方法で登録されています。",
		Category: "auth",
		Action:   "最初に使用したサインイン方法でログインしてください。",
	}
}

// NewEmailInUseError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "ログイン画面からサインインしてください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidImageURLError はプロフィール画像URLが不正な場合のエラーを生成する。
func NewInvalidImageURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImageURL,
		Message:  fmt.Sprintf("無効な画像URLです: %s", reason),
		Category: "validation",
		Action:   "https:// で始まる公開URLを指定してください。",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}
