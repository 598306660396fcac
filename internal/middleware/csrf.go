package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/mbr/internal/model"
)

// SameOriginConfig は状態変更リクエストの送信元検証の設定。
type SameOriginConfig struct {
	// AllowedOrigins は許可するオリジン（scheme://host[:port]）。アプリのベースURLとCORS許可オリジン。
	AllowedOrigins []string
}

// NewSameOriginMiddleware はクロスサイトからの状態変更リクエストを拒否するミドルウェアを返す。
// 資格情報はSameSite=LaxのCookieで運ばれるため、POST・DELETEは
// OriginまたはRefererが許可オリジンと一致する場合のみ通す。
// どちらのヘッダーもない場合はブラウザ以外のクライアントとみなして通す。
func NewSameOriginMiddleware(config SameOriginConfig) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			allowed[n] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 安全なメソッドは検証をスキップ
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
				rejectCrossSite(w, r, "sec-fetch-site")
				return
			}

			if origin := r.Header.Get("Origin"); origin != "" {
				if !allowed[normalizeOrigin(origin)] {
					rejectCrossSite(w, r, "origin")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if referer := r.Header.Get("Referer"); referer != "" {
				if !allowed[normalizeOrigin(referer)] {
					rejectCrossSite(w, r, "referer")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// normalizeOrigin はURLまたはオリジンをscheme://hostの形に揃える。解釈できない場合は空文字。
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func rejectCrossSite(w http.ResponseWriter, r *http.Request, header string) {
	slog.Warn("cross-site request rejected",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("header", header),
	)
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     "FORBIDDEN_ORIGIN",
		Message:  "Origen de la solicitud no permitido.",
		Category: "auth",
		Action:   "Usá la aplicación desde su dirección oficial.",
	})
}
