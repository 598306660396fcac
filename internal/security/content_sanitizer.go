package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部APIから受け取った自由記述テキストを表示用のプレーンテキストにする。
// 検索クエリ、ページパス、商談名などレポートの表セルに入る値に使用する。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなため、集計の並行処理から共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// StrictPolicyは全ての要素と属性を除去する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses は文字実体で二重にエスケープされたタグを除去するための最大反復回数。
const maxSanitizePasses = 3

// Sanitize はタグを除去したテキストを返す。
// StrictPolicyがエスケープした文字実体は元に戻す。JSONとして返すため再エスケープは不要。
func (s *textSanitizer) Sanitize(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses && out != ""; i++ {
		next := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(out)))
		if next == out {
			break
		}
		out = next
	}
	return out
}
