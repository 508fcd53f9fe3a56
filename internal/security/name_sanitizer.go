package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名などのプレーンテキスト入力をサニタイズする。
type NameSanitizerService interface {
	// SanitizeName はHTMLタグを除去し、連続する空白を1つにまとめた文字列を返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	SanitizeName(raw string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicyはスレッドセーフに利用できる。
type nameSanitizer struct {
	policy   *bluemonday.Policy
	brackets *strings.Replacer
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
// 全てのタグを除去するStrictPolicyを使用する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy:   bluemonday.StrictPolicy(),
		brackets: strings.NewReplacer("<", "", ">", ""),
	}
}

// SanitizeName はHTMLタグを除去したプレーンテキストを返す。
// エスケープされたエンティティは元の文字に戻し、残った山括弧は取り除く。
func (s *nameSanitizer) SanitizeName(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = s.brackets.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}
