package connector

import (
	"context"
	"log/slog"

	"github.com/hitoshi/mbr/internal/model"
	"github.com/hitoshi/mbr/internal/session"
)

// CallbackRecorder はOAuthコールバックの結果を記録する。
type CallbackRecorder interface {
	RecordOAuthCallback(connector, outcome string)
}

// ConnState はプロバイダーの接続状態。Cookieの有無から導出する。
type ConnState string

const (
	StateIdle             ConnState = "idle"
	StateAwaitingCallback ConnState = "awaiting_callback"
	StateConnected        ConnState = "connected"
)

// CallbackParams はコールバックリクエストのクエリパラメータ。
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// IsCallback はリクエストがプロバイダーからのコールバックかどうかを返す。
func (p CallbackParams) IsCallback() bool {
	return p.Code != "" || p.State != "" || p.Error != ""
}

// Flow は1つのOAuthコネクターの認可フローを管理する。
// コネクターを共有するプロバイダーは1つの資格情報を共有する。
type Flow struct {
	connector  *OAuthConnector
	providerID string
	recorder   CallbackRecorder
}

// NewFlow はFlowを生成する。providerIDは資格情報の保存先を解決するためのプロバイダーID。
func NewFlow(connector *OAuthConnector, providerID string, recorder CallbackRecorder) *Flow {
	return &Flow{connector: connector, providerID: providerID, recorder: recorder}
}

// Connector はコネクターを返す。
func (f *Flow) Connector() *OAuthConnector {
	return f.connector
}

// Configured はコネクターのクライアント資格情報が設定されているかを返す。
func (f *Flow) Configured() bool {
	return f.connector.Configured()
}

// Begin はstateを発行し、同意画面へのURLを返す。
// 直前に発行したstateは置き換えられる。
func (f *Flow) Begin(guard session.StateGuard, scopeSet string) (string, error) {
	if !f.connector.Configured() {
		return "", model.NewNotConfiguredError(f.connector.Label())
	}
	state, err := guard.Begin(f.connector.Name())
	if err != nil {
		return "", err
	}
	return f.connector.AuthCodeURL(state, scopeSet), nil
}

// Callback はコールバックを検証し、成功時にアクセストークンを保存する。
// state検証はトークン交換より前に行い、失敗時は外部への通信を一切行わない。
// 既存の資格情報は成功時にのみ上書きされる。
func (f *Flow) Callback(ctx context.Context, guard session.StateGuard, store session.CredentialStore, params CallbackParams) error {
	name := f.connector.Name()
	label := f.connector.Label()

	if !f.connector.Configured() {
		f.record("not_configured")
		return model.NewNotConfiguredError(label)
	}

	if params.Error != "" {
		// 保持しているstateは破棄する
		guard.Complete(name, "")
		f.record("denied")
		slog.Info("oauth consent denied", slog.String("connector", name))
		return model.NewUserDeniedError(label)
	}

	if !guard.Complete(name, params.State) {
		f.record("state_mismatch")
		slog.Warn("oauth state mismatch", slog.String("connector", name))
		return model.NewStateMismatchError(label)
	}

	if params.Code == "" {
		f.record("token_failed")
		slog.Warn("oauth callback without code", slog.String("connector", name))
		return model.NewTokenExchangeFailedError(label, nil)
	}

	token, err := f.connector.Exchange(ctx, params.Code)
	if err != nil {
		f.record("token_failed")
		slog.Warn("oauth token exchange failed",
			slog.String("connector", name),
			slog.String("error", err.Error()),
		)
		return model.NewTokenExchangeFailedError(label, err)
	}

	if err := store.Put(f.providerID, token); err != nil {
		f.record("error")
		return err
	}

	f.record("success")
	slog.Info("oauth connection established", slog.String("connector", name))
	return nil
}

// State は現在の接続状態を返す。
func (f *Flow) State(guard session.StateGuard, store session.CredentialStore) ConnState {
	if session.Connected(store, f.providerID) {
		return StateConnected
	}
	if guard.Pending(f.connector.Name()) {
		return StateAwaitingCallback
	}
	return StateIdle
}

func (f *Flow) record(outcome string) {
	if f.recorder != nil {
		f.recorder.RecordOAuthCallback(f.connector.Name(), outcome)
	}
}

// RedirectReason はコールバック失敗時のリダイレクト先に付けるerrorパラメータを返す。
func RedirectReason(connector string, err error) string {
	switch model.KindOf(err) {
	case model.KindUserDenied:
		return connector + "_denied"
	case model.KindStateMismatch:
		return connector + "_state_mismatch"
	case model.KindNotConfigured:
		return connector + "_not_configured"
	default:
		return connector + "_token_failed"
	}
}
