// Package token はセッショントークン（JWT）の署名と検証を提供する。
// トークンはサーバー側に保存せず、クライアントのCookieで保持する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/authbase/internal/model"
)

var (
	// ErrExpired はトークンの有効期限切れを表す。
	ErrExpired = errors.New("token expired")
	// ErrMalformed は署名不正・形式不正など、期限切れ以外の検証失敗を表す。
	ErrMalformed = errors.New("token malformed")
)

// ErrorUserNotFound はリフレッシュ時にユーザーが見つからなかったことを示すマーカー。
const ErrorUserNotFound = "UserNotFound"

// Claims はセッショントークンのクレームセット。
// sub/iat/exp/jti はRegisteredClaimsが保持する。
type Claims struct {
	jwt.RegisteredClaims
	Email   *string    `json:"email,omitempty"`
	Name    *string    `json:"name,omitempty"`
	Picture *string    `json:"picture,omitempty"`
	Role    model.Role `json:"role,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Authenticated はsubを持ち、エラーマーカーが付いていないトークンかどうかを返す。
func (c Claims) Authenticated() bool {
	return c.Subject != "" && c.Error == ""
}

// Stale はiatからupdateAgeが経過しているかを返す。iatが無いトークンは常にstale。
func (c Claims) Stale(updateAge time.Duration, now time.Time) bool {
	if c.IssuedAt == nil {
		return true
	}
	return now.Sub(c.IssuedAt.Time) >= updateAge
}

// Codec はHS256でClaimsを署名・検証する。
type Codec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewCodec はCodecを生成する。maxAgeはトークンの有効期間。
func NewCodec(secret []byte, maxAge time.Duration) *Codec {
	return &Codec{
		secret: secret,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// MaxAge はトークンの有効期間を返す。
func (c *Codec) MaxAge() time.Duration {
	return c.maxAge
}

// Encode はクレームのコピーにiat/expを付与し、署名済みトークン文字列を返す。
// 引数のclaimsは変更しない。
func (c *Codec) Encode(claims Claims) (string, error) {
	raw, _, err := c.Issue(claims)
	return raw, err
}

// Issue はEncodeと同様に署名し、iat/exp/jtiを付与した後のクレームも返す。
// jtiが未設定の場合は新しいUUIDを割り当てる。
func (c *Codec) Issue(claims Claims) (string, Claims, error) {
	if claims.Subject == "" {
		return "", Claims{}, fmt.Errorf("cannot encode token without subject")
	}

	now := c.now()
	out := claims
	out.IssuedAt = jwt.NewNumericDate(now)
	out.ExpiresAt = jwt.NewNumericDate(now.Add(c.maxAge))
	if out.ID == "" {
		out.ID = uuid.New().String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &out).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, out, nil
}

// Decode はトークン文字列を検証し、クレームを返す。
// 期限切れの場合はErrExpired、それ以外の検証失敗はErrMalformedを返す。
// expの無いトークンと、iatが未来のトークンは受け付けない。
func (c *Codec) Decode(raw string) (Claims, error) {
	var claims Claims
	if raw == "" {
		return Claims{}, ErrMalformed
	}

	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !tok.Valid {
		return Claims{}, ErrMalformed
	}

	return claims, nil
}
