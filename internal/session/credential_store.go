package session

import (
	"fmt"
	"net/http"
)

// KeyResolver はプロバイダーIDを資格情報キー（Cookie名）に解決する。
// catalog.Catalogが実装する。
type KeyResolver interface {
	CredentialKey(providerID string) (string, bool)
}

// CredentialStore はプロバイダーごとの資格情報（アクセストークンまたはAPIキー）を保持する。
// 複数のプロバイダーが同じキーを共有する場合、Putはそれら全てを接続済みにする。
type CredentialStore interface {
	Put(providerID, secret string) error
	Get(providerID string) (string, bool)
	Delete(providerID string)
}

// Connected はプロバイダーが接続済みかどうかを返す。
func Connected(store CredentialStore, providerID string) bool {
	_, ok := store.Get(providerID)
	return ok
}

// Opener はリクエストごとにCookieベースのストアを生成する。
type Opener struct {
	credentials *Codec
	states      *Codec
	keys        KeyResolver
}

// NewOpener はOpenerを生成する。
// credentialsは資格情報Cookie用、statesはOAuth state Cookie用のCodec。
func NewOpener(credentials, states *Codec, keys KeyResolver) *Opener {
	return &Opener{credentials: credentials, states: states, keys: keys}
}

// Open は1リクエスト分の資格情報ストアを返す。
func (o *Opener) Open(w http.ResponseWriter, r *http.Request) *Jar {
	return &Jar{cookies: newRequestCookies(o.credentials, w, r), keys: o.keys}
}

// Guard は1リクエスト分のstateガードを返す。
func (o *Opener) Guard(w http.ResponseWriter, r *http.Request) *CookieStateGuard {
	return &CookieStateGuard{cookies: newRequestCookies(o.states, w, r)}
}

// Jar はCookieに資格情報を保持するCredentialStore。
type Jar struct {
	cookies *requestCookies
	keys    KeyResolver
}

// Put は資格情報を暗号化Cookieとして保存する。既存の値は上書きする。
func (j *Jar) Put(providerID, secret string) error {
	key, ok := j.keys.CredentialKey(providerID)
	if !ok {
		return fmt.Errorf("unknown provider: %s", providerID)
	}
	if secret == "" {
		return fmt.Errorf("empty credential for provider %s", providerID)
	}
	return j.cookies.set(key, secret)
}

// Get は資格情報を返す。未接続、改ざん、期限切れの場合はfalse。
func (j *Jar) Get(providerID string) (string, bool) {
	key, ok := j.keys.CredentialKey(providerID)
	if !ok {
		return "", false
	}
	return j.cookies.get(key)
}

// Delete は資格情報Cookieを削除する。未知のプロバイダーは無視する。
func (j *Jar) Delete(providerID string) {
	key, ok := j.keys.CredentialKey(providerID)
	if !ok {
		return
	}
	j.cookies.del(key)
}
