// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mbr/internal/catalog"
	"github.com/hitoshi/mbr/internal/connector"
	"github.com/hitoshi/mbr/internal/middleware"
	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/session"
)

// semrushProviderID はAPIキーで接続するプロバイダーのID。
const semrushProviderID = "semrush"

// maxRequestBody はJSONリクエストボディの上限。
const maxRequestBody = 1 << 20

// StoreOpener はリクエストごとの資格情報ストアとstateガードを開く。
type StoreOpener interface {
	Open(w http.ResponseWriter, r *http.Request) session.CredentialStore
	Guard(w http.ResponseWriter, r *http.Request) session.StateGuard
}

// OAuthFlow はOAuthコネクター1つ分の認可フロー。connector.Flowが実装する。
type OAuthFlow interface {
	Configured() bool
	Begin(guard session.StateGuard, scopeSet string) (string, error)
	Callback(ctx context.Context, guard session.StateGuard, store session.CredentialStore, params connector.CallbackParams) error
}

// KeyValidator はAPIキーを検証し、有効な場合のみ保存する。
type KeyValidator interface {
	Validate(ctx context.Context, store session.CredentialStore, rawKey string) (*connector.PlanInfo, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はフロー完了後のリダイレクト先の基点。末尾のスラッシュは含まない。
	BaseURL string
}

// AuthHandler はプロバイダー接続関連のHTTPハンドラー。
type AuthHandler struct {
	catalog   *catalog.Catalog
	opener    StoreOpener
	flows     map[string]OAuthFlow
	validator KeyValidator
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。flowsのキーはコネクター名。
func NewAuthHandler(cat *catalog.Catalog, opener StoreOpener, flows map[string]OAuthFlow, validator KeyValidator, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		catalog:   cat,
		opener:    opener,
		flows:     flows,
		validator: validator,
		config:    config,
	}
}

type semrushKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type semrushKeyResponse struct {
	OK       bool                `json:"ok"`
	PlanInfo *connector.PlanInfo `json:"planInfo"`
}

type disconnectRequest struct {
	SourceID string `json:"sourceId"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type statusResponse struct {
	Connected map[string]bool `json:"connected"`
}

// Connect はOAuthフローの開始とコールバックを処理する。
// code・state・errorのいずれもなければ開始、あればコールバックとして扱う。
// GET /api/auth/{connector}?scope=gsc
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "connector")
	flow, ok := h.flows[name]
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeUnknownSource,
			Message:  "Fuente desconocida.",
			Category: "request",
		})
		return
	}

	q := r.URL.Query()
	params := connector.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}
	guard := h.opener.Guard(w, r)

	if !params.IsCallback() {
		authURL, err := flow.Begin(guard, q.Get("scope"))
		if err != nil {
			if model.KindOf(err) != model.KindNotConfigured {
				slog.Error("failed to begin oauth flow",
					slog.String("connector", name),
					slog.String("error", err.Error()),
				)
			}
			middleware.WriteError(w, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
		return
	}

	store := h.opener.Open(w, r)
	if err := flow.Callback(r.Context(), guard, store, params); err != nil {
		reason := connector.RedirectReason(name, err)
		http.Redirect(w, r, h.config.BaseURL+"/?error="+url.QueryEscape(reason), http.StatusTemporaryRedirect)
		return
	}
	http.Redirect(w, r, h.config.BaseURL+"/setup", http.StatusTemporaryRedirect)
}

// ConnectSemrush はAPIキーを検証して保存する。
// POST /api/auth/semrush
func (h *AuthHandler) ConnectSemrush(w http.ResponseWriter, r *http.Request) {
	var req semrushKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Cuerpo de la solicitud inválido."))
		return
	}

	info, err := h.validator.Validate(r.Context(), h.opener.Open(w, r), req.APIKey)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, semrushKeyResponse{OK: true, PlanInfo: info})
}

// DisconnectSemrush はAPIキーを削除する。
// DELETE /api/auth/semrush
func (h *AuthHandler) DisconnectSemrush(w http.ResponseWriter, r *http.Request) {
	h.opener.Open(w, r).Delete(semrushProviderID)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Disconnect は指定されたプロバイダーの資格情報を削除する。
// 同じ資格情報を共有するプロバイダーもまとめて未接続になる。
// 未知のIDや不正なボディでも成功を返す。
// POST /api/auth/disconnect
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := decodeJSON(w, r, &req); err == nil && req.SourceID != "" {
		h.opener.Open(w, r).Delete(req.SourceID)
		slog.Info("provider disconnected", slog.String("provider", req.SourceID))
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Status は全プロバイダーの接続状態を返す。
// GET /api/auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	store := h.opener.Open(w, r)
	connected := make(map[string]bool)
	for _, p := range h.catalog.Providers() {
		connected[p.ID] = session.Connected(store, p.ID)
	}
	writeJSON(w, http.StatusOK, statusResponse{Connected: connected})
}

// decodeJSON はサイズ上限付きでリクエストボディをデコードする。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.String("error", err.Error()))
	}
}
