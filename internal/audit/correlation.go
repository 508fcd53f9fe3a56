// Package audit はサインイン・サインアウト等の認証操作に相関IDを付与し、
// 構造化ログとメトリクスに記録する。記録は観測のみで、操作の結果には影響しない。
package audit

import (
	"context"
	"crypto/rand"
)

const (
	correlationAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	correlationIDLength = 8
	// 36文字のアルファベットに対して偏りなく選ぶためのマスク
	correlationMask = 63
)

type correlationIDKey struct{}

// NewCorrelationID は "<prefix>_<英小文字・数字8文字>" 形式の相関IDを生成する。
func NewCorrelationID(prefix string) string {
	id := make([]byte, 0, correlationIDLength)
	buf := make([]byte, correlationIDLength*2)

	for len(id) < correlationIDLength {
		// crypto/rand.Read は失敗しない
		_, _ = rand.Read(buf)
		for _, b := range buf {
			idx := int(b & correlationMask)
			if idx < len(correlationAlphabet) {
				id = append(id, correlationAlphabet[idx])
				if len(id) == correlationIDLength {
					break
				}
			}
		}
	}

	return prefix + "_" + string(id)
}

// WithCorrelationID は相関IDをコンテキストに格納する。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext はコンテキストから相関IDを取得する。未設定の場合は空文字列。
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
