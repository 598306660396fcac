package handler

import (
	"net/http"

	"github.com/hitoshi/mbr/internal/connector"
	"github.com/hitoshi/mbr/internal/narrative"
	"github.com/hitoshi/mbr/internal/report"
	"github.com/hitoshi/mbr/internal/session"
)

// CookieStoreOpener は session.Opener を StoreOpener に適合させるアダプタ。
type CookieStoreOpener struct {
	opener *session.Opener
}

// NewCookieStoreOpener はCookieStoreOpenerを生成する。
func NewCookieStoreOpener(opener *session.Opener) *CookieStoreOpener {
	return &CookieStoreOpener{opener: opener}
}

// Open はリクエストのCookieに資格情報を保持するストアを返す。
func (a *CookieStoreOpener) Open(w http.ResponseWriter, r *http.Request) session.CredentialStore {
	return a.opener.Open(w, r)
}

// Guard はリクエストのCookieにstateを保持するガードを返す。
func (a *CookieStoreOpener) Guard(w http.ResponseWriter, r *http.Request) session.StateGuard {
	return a.opener.Guard(w, r)
}

// FlowsByConnector はconnector.Flowの一覧をコネクター名で引けるOAuthFlowのマップにする。
func FlowsByConnector(flows []*connector.Flow) map[string]OAuthFlow {
	out := make(map[string]OAuthFlow, len(flows))
	for _, f := range flows {
		out[f.Connector().Name()] = f
	}
	return out
}

// compile-time interface check
var (
	_ StoreOpener      = (*CookieStoreOpener)(nil)
	_ OAuthFlow        = (*connector.Flow)(nil)
	_ KeyValidator     = (*connector.KeyValidator)(nil)
	_ ReportGenerator  = (*report.Aggregator)(nil)
	_ NarrativeService = (*narrative.Proxy)(nil)
)
