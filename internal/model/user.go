// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。ロール未設定時のデフォルト。
	RoleUser Role = "USER"
	// RoleAdmin は管理者。
	RoleAdmin Role = "ADMIN"
)

// IsValid は定義済みロールかどうかを判定する。
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole は文字列をRoleに変換する。未知の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}

// User はサービス利用ユーザーを表す。
// Email、Name、Imageはプロバイダーによっては取得できないためnullableとする。
type User struct {
	ID           string
	Email        *string
	Name         *string
	Image        *string
	Role         Role
	PasswordHash *string // credentialsプロバイダー利用時のみ設定される
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account は外部IdP（またはcredentials）とユーザーの紐付け情報を表す。
// (Provider, ProviderAccountID) の組はただ1人のユーザーに解決される。
type Account struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
}

// ProfileUpdate はプロフィールの部分更新。SetName/SetImageがfalseの項目は変更しない。
// Name/Imageがnilの場合は値を削除する。
type ProfileUpdate struct {
	SetName  bool
	Name     *string
	SetImage bool
	Image    *string
}

// StringPtr は文字列のポインタを返す。空文字列の場合はnilを返す。
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue はポインタが指す文字列を返す。nilの場合は空文字列。
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
