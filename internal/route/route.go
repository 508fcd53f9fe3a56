// Package route はリクエストパスの分類と、認証状態に応じたリダイレクト判定を提供する。
package route

import (
	"net/url"
	"strings"
)

// DefaultAuthAPIPrefix は認証ハンドシェイク用APIのパスプレフィックス。
const DefaultAuthAPIPrefix = "/api/auth"

// Category はパスの分類を表す。
type Category int

const (
	// Public は制限のないパス。
	Public Category = iota
	// AuthOnly はログイン・登録画面など、認証済みユーザーを遠ざけるパス。
	AuthOnly
	// Protected は認証が必要なパス。
	Protected
	// AuthAPI は認証サブシステム自身のAPI。常に許可する。
	AuthAPI
)

// String はログ出力用の名前を返す。
func (c Category) String() string {
	switch c {
	case AuthOnly:
		return "auth_only"
	case Protected:
		return "protected"
	case AuthAPI:
		return "auth_api"
	default:
		return "public"
	}
}

// Rules はルート分類の設定。
type Rules struct {
	AuthAPIPrefix            string
	Protected                []string
	AuthOnly                 []string
	LoginPath                string
	DefaultAuthenticatedPath string
}

// Classifier はRulesに従ってパスを分類する。
// ルート集合は完全一致、AuthAPIPrefixのみ前方一致で判定する。
type Classifier struct {
	apiPrefix string
	protected map[string]struct{}
	authOnly  map[string]struct{}
}

// NewClassifier はClassifierを生成する。AuthAPIPrefixが空の場合は"/api/auth"を使う。
func NewClassifier(rules Rules) *Classifier {
	prefix := rules.AuthAPIPrefix
	if prefix == "" {
		prefix = DefaultAuthAPIPrefix
	}
	return &Classifier{
		apiPrefix: strings.TrimRight(prefix, "/"),
		protected: toSet(rules.Protected),
		authOnly:  toSet(rules.AuthOnly),
	}
}

// Classify はパスの分類を返す。
func (c *Classifier) Classify(path string) Category {
	if c.isAuthAPI(path) {
		return AuthAPI
	}
	if _, ok := c.protected[path]; ok {
		return Protected
	}
	if _, ok := c.authOnly[path]; ok {
		return AuthOnly
	}
	return Public
}

// "/api/authz" のような別パスにはマッチさせない
func (c *Classifier) isAuthAPI(path string) bool {
	if path == c.apiPrefix {
		return true
	}
	return strings.HasPrefix(path, c.apiPrefix+"/")
}

func toSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// Action はゲートキーパーの判定結果。
type Action int

const (
	// Allow はリクエストをそのまま通す。
	Allow Action = iota
	// RedirectToLogin はログイン画面へリダイレクトする。
	RedirectToLogin
	// RedirectToDefault は認証済みユーザーのデフォルト画面へリダイレクトする。
	RedirectToDefault
)

// String はメトリクスラベル用の名前を返す。
func (a Action) String() string {
	switch a {
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToDefault:
		return "redirect_default"
	default:
		return "allow"
	}
}

// Decision はゲートキーパーの判定。LocationはAllow以外の場合のみ設定される。
type Decision struct {
	Action   Action
	Location string
}

// Gatekeeper はパス分類と認証状態からリダイレクト要否を判定する。
type Gatekeeper struct {
	classifier      *Classifier
	loginPath       string
	defaultAuthPath string
}

// NewGatekeeper はGatekeeperを生成する。
func NewGatekeeper(rules Rules) *Gatekeeper {
	login := rules.LoginPath
	if login == "" {
		login = "/login"
	}
	def := rules.DefaultAuthenticatedPath
	if def == "" {
		def = "/dashboard"
	}
	return &Gatekeeper{
		classifier:      NewClassifier(rules),
		loginPath:       login,
		defaultAuthPath: def,
	}
}

// Decide はパスとクエリ文字列、認証済みかどうかから判定を返す。
// 未認証で保護パスにアクセスした場合、元のパス（クエリ含む）をcallbackUrlに付けてログイン画面へ誘導する。
func (g *Gatekeeper) Decide(path, rawQuery string, authenticated bool) Decision {
	switch g.classifier.Classify(path) {
	case Protected:
		if !authenticated {
			return Decision{Action: RedirectToLogin, Location: g.loginLocation(path, rawQuery)}
		}
	case AuthOnly:
		if authenticated {
			return Decision{Action: RedirectToDefault, Location: g.defaultAuthPath}
		}
	}
	return Decision{Action: Allow}
}

func (g *Gatekeeper) loginLocation(path, rawQuery string) string {
	callback := path
	if rawQuery != "" {
		callback += "?" + rawQuery
	}
	return g.loginPath + "?callbackUrl=" + url.QueryEscape(callback)
}
