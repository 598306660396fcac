package security

import (
	"strings"
	"testing"
)

// TestSanitize_StripsMarkup はタグが除去されテキストのみが残ることを検証する。
func TestSanitize_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "zapatillas running", want: "zapatillas running"},
		{name: "前後の空白を除去", input: "  /blog/guia-seo  ", want: "/blog/guia-seo"},
		{name: "強調タグを除去", input: "<b>Deal</b> Acme", want: "Deal Acme"},
		{name: "scriptは中身ごと除去", input: `Acme<script>alert("x")</script>`, want: "Acme"},
		{name: "アンパサンドは元に戻す", input: "rock & roll", want: "rock & roll"},
		{name: "不等号は元に戻す", input: "precio < 100", want: "precio < 100"},
		{name: "エスケープされたタグも除去", input: "&lt;img src=x onerror=alert(1)&gt;oferta", want: "oferta"},
		{name: "空文字", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_XSSPayloads は代表的なXSSペイロードが無害化されることを検証する。
func TestSanitize_XSSPayloads(t *testing.T) {
	sanitizer := NewTextSanitizer()

	payloads := []string{
		`<img src=x onerror=alert(1)>`,
		`<svg onload=alert(1)>`,
		`<a href="javascript:alert(1)">click</a>`,
		`<iframe src="https://evil.example"></iframe>`,
		`<div style="background:url(javascript:alert(1))">x</div>`,
	}

	for _, p := range payloads {
		got := sanitizer.Sanitize(p)
		for _, bad := range []string{"<", "onerror", "onload", "javascript:"} {
			if strings.Contains(got, bad) {
				t.Errorf("Sanitize(%q) = %q, should not contain %q", p, got, bad)
			}
		}
	}
}

// TestSanitize_Deterministic は同一入力に対して同一出力を返すことを検証する。
func TestSanitize_Deterministic(t *testing.T) {
	sanitizer := NewTextSanitizer()
	input := "<p>Top <em>query</em></p>"

	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(input)
	if first != second {
		t.Errorf("Sanitize() not deterministic: %q vs %q", first, second)
	}
	if again := sanitizer.Sanitize(first); again != first {
		t.Errorf("Sanitize(Sanitize(x)) = %q, want %q", again, first)
	}
}

// TestTextSanitizerInterface はインターフェースを実装していることを検証する。
func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
