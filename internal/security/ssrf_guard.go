// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// maxImageURLLength はプロフィール画像URLの最大長。
const maxImageURLLength = 2048

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// OAuthプロバイダーとの通信と、プロフィール画像URLの登録時に使用される。
type SSRFGuardService interface {
	// NewSafeClient はプロバイダー通信用のHTTPクライアントを生成する。
	// 接続先IPはDNS解決後に検証される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// ValidateImageURL はプロフィール画像URLを検証する。httpsのみ許可する。
	ValidateImageURL(rawURL string) error
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はhttpsの443番ポートのみに接続できるクライアントを返す。
// safeurlがダイアル時にプライベート・ループバック・メタデータIPを拒否する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム（http/https）、ホスト、IPリテラルを検証する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	_, err := parsePublicURL(rawURL)
	return err
}

// ValidateImageURL はプロフィール画像URLを検証する。
func (g *ssrfGuard) ValidateImageURL(rawURL string) error {
	if len(rawURL) > maxImageURLLength {
		return fmt.Errorf("image URL exceeds %d characters", maxImageURLLength)
	}
	parsed, err := parsePublicURL(rawURL)
	if err != nil {
		return err
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("image URL must use https: %s", parsed.Scheme)
	}
	if parsed.User != nil {
		return errors.New("image URL must not contain credentials")
	}
	return nil
}

// parsePublicURL はURLを解析し、内部ネットワークを指すものを拒否する。
// 返すURLのスキームは小文字に正規化される。
func parsePublicURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, errors.New("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isInternalAddr(addr) {
			return nil, fmt.Errorf("blocked IP address: %s", addr)
		}
		return parsed, nil
	}

	if isLocalHostname(host) {
		return nil, fmt.Errorf("blocked host: %s", host)
	}

	return parsed, nil
}

// isInternalAddr はループバック・プライベート・リンクローカル（メタデータIPを含む）・
// 未指定・マルチキャストのアドレスかどうかを返す。
func isInternalAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() && addr.As4()[0] == 0 {
		return true
	}
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}

func isLocalHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
