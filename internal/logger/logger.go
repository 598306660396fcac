package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// RedactedValue は秘匿属性の値を置き換える文字列。
const RedactedValue = "[REDACTED]"

// secretKeys は値を出力してはならない属性キー（小文字）。
var secretKeys = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"api_key":       {},
	"apikey":        {},
	"code":          {},
	"secret":        {},
	"password":      {},
	"authorization": {},
	"state":         {},
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。未知の値はInfoになる。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// 秘匿情報を表すキーの属性は値を伏せて出力する。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}
