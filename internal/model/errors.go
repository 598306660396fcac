// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind はエラー分類を表す。
// 認可フロー・キー検証・レポート集計の全経路で共通の分類を使う。
type ErrorKind string

const (
	KindUserDenied          ErrorKind = "user_denied"
	KindStateMismatch       ErrorKind = "state_mismatch"
	KindTokenExchangeFailed ErrorKind = "token_exchange_failed"
	KindInvalidKey          ErrorKind = "invalid_key"
	KindUpstreamUnreachable ErrorKind = "upstream_unreachable"
	KindConfigMissing       ErrorKind = "configuration_missing"
	KindUpstreamError       ErrorKind = "upstream_error"
	KindNotConfigured       ErrorKind = "not_configured"
	KindInvalidRequest      ErrorKind = "invalid_request"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Messageはユーザー向けの文言で、トークンやAPIキーを含めてはならない。
type APIError struct {
	Kind     ErrorKind // エラー分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, upstream, system
	Action   string    // ユーザー向け対処方法

	// Err は原因エラー。ログ用でレスポンスには含めない。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatus はエラー分類に対応するHTTPステータスコードを返す。
func (e *APIError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest, KindConfigMissing:
		return http.StatusBadRequest
	case KindInvalidKey:
		return http.StatusUnauthorized
	case KindUpstreamUnreachable, KindUpstreamError, KindTokenExchangeFailed:
		return http.StatusBadGateway
	case KindNotConfigured:
		return http.StatusServiceUnavailable
	case KindUserDenied, KindStateMismatch:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// KindOf はエラーチェーンからErrorKindを取り出す。
// APIErrorを含まない場合は空文字を返す。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// 定義済みエラーコード
const (
	ErrCodeUserDenied          = "USER_DENIED"
	ErrCodeStateMismatch       = "STATE_MISMATCH"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeInvalidKey          = "INVALID_KEY"
	ErrCodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	ErrCodeConfigMissing       = "CONFIGURATION_MISSING"
	ErrCodeUpstreamError       = "UPSTREAM_ERROR"
	ErrCodeNotConfigured       = "NOT_CONFIGURED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnknownSource       = "UNKNOWN_SOURCE"
)

// NewUserDeniedError はプロバイダー側で同意が拒否された場合のエラーを生成する。
func NewUserDeniedError(provider string) *APIError {
	return &APIError{
		Kind:     KindUserDenied,
		Code:     ErrCodeUserDenied,
		Message:  fmt.Sprintf("Se canceló la autorización de %s.", provider),
		Category: "auth",
		Action:   "Volvé a conectar la fuente y aceptá los permisos solicitados.",
	}
}

// NewStateMismatchError はstate検証に失敗した場合のエラーを生成する。
func NewStateMismatchError(provider string) *APIError {
	return &APIError{
		Kind:     KindStateMismatch,
		Code:     ErrCodeStateMismatch,
		Message:  fmt.Sprintf("La sesión de autorización de %s expiró o no es válida.", provider),
		Category: "auth",
		Action:   "Iniciá la conexión de nuevo desde la aplicación.",
	}
}

// NewTokenExchangeFailedError は認可コードの交換に失敗した場合のエラーを生成する。
func NewTokenExchangeFailedError(provider string, cause error) *APIError {
	return &APIError{
		Kind:     KindTokenExchangeFailed,
		Code:     ErrCodeTokenExchangeFailed,
		Message:  fmt.Sprintf("%s rechazó el código de autorización.", provider),
		Category: "auth",
		Action:   "Intentá conectar la fuente nuevamente.",
		Err:      cause,
	}
}

// NewInvalidKeyError はAPIキーが無効な場合のエラーを生成する。
func NewInvalidKeyError(message string) *APIError {
	return &APIError{
		Kind:     KindInvalidKey,
		Code:     ErrCodeInvalidKey,
		Message:  message,
		Category: "validation",
		Action:   "Verificá la API key en tu cuenta.",
	}
}

// NewUpstreamUnreachableError は外部APIに到達できなかった場合のエラーを生成する。
func NewUpstreamUnreachableError(provider string, cause error) *APIError {
	return &APIError{
		Kind:     KindUpstreamUnreachable,
		Code:     ErrCodeUpstreamUnreachable,
		Message:  fmt.Sprintf("No se pudo conectar con %s. Intentá de nuevo.", provider),
		Category: "upstream",
		Action:   "Esperá unos segundos y volvé a intentar.",
		Err:      cause,
	}
}

// NewConfigMissingError はプロバイダー固有の必須設定が欠けている場合のエラーを生成する。
func NewConfigMissingError(message string) *APIError {
	return &APIError{
		Kind:     KindConfigMissing,
		Code:     ErrCodeConfigMissing,
		Message:  message,
		Category: "validation",
		Action:   "Completá la configuración en el paso anterior.",
	}
}

// NewUpstreamError は外部APIが失敗ステータスや不正なペイロードを返した場合のエラーを生成する。
func NewUpstreamError(provider string, status int, cause error) *APIError {
	msg := fmt.Sprintf("%s devolvió una respuesta inválida.", provider)
	if status > 0 {
		msg = fmt.Sprintf("%s respondió con error %d.", provider, status)
	}
	return &APIError{
		Kind:     KindUpstreamError,
		Code:     ErrCodeUpstreamError,
		Message:  msg,
		Category: "upstream",
		Action:   "Verificá los permisos de la cuenta conectada.",
		Err:      cause,
	}
}

// NewNotConfiguredError はサーバー側のクライアント資格情報が未設定の場合のエラーを生成する。
func NewNotConfiguredError(provider string) *APIError {
	return &APIError{
		Kind:     KindNotConfigured,
		Code:     ErrCodeNotConfigured,
		Message:  fmt.Sprintf("%s not configured", provider),
		Category: "system",
		Action:   "El administrador debe configurar las credenciales del servidor.",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Kind:     KindInvalidRequest,
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "Revisá los datos enviados.",
	}
}
