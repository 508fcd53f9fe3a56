package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher struct {
	cost int
	// ユーザーが存在しない場合の照合に使うダミーハッシュ。
	// 存在有無で応答時間が変わらないようにする。
	dummy []byte
}

// NewPasswordHasher はPasswordHasherを生成する。costが0の場合はbcrypt.DefaultCostを使う。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("authbase-dummy-password"), cost)
	if err != nil {
		panic(fmt.Sprintf("failed to prepare dummy password hash: %v", err))
	}
	return &PasswordHasher{cost: cost, dummy: dummy}
}

// Hash はパスワードのbcryptハッシュを返す。
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
// hashが空の場合もダミーハッシュで照合し、常にfalseを返す。
func (h *PasswordHasher) Verify(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
