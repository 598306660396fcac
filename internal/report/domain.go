package report

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/mbr/internal/security"
)

// normalizeDomain はユーザーが入力したドメインをホスト名に正規化する。
// スキーム・パス・ポート・sc-domain:接頭辞を除去し、登録可能なドメインを持たないホストは拒否する。
func normalizeDomain(raw string, hosts security.SSRFGuardService) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "sc-domain:")
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid domain: %w", err)
		}
		s = u.Host
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(s, ".")

	if err := hosts.ValidateHost(s); err != nil {
		return "", err
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(s); err != nil {
		return "", fmt.Errorf("domain has no registrable part: %s", s)
	}
	return s, nil
}

// numericID は接頭辞と区切り文字を除いた数字だけのIDを返す。
// 数字以外が残る場合はパスに埋め込めないためfalseを返す。
func numericID(raw string, prefixes ...string) (string, bool) {
	s := strings.TrimSpace(raw)
	for _, p := range prefixes {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.ReplaceAll(s, "-", "")
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return s, true
}
