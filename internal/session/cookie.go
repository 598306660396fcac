// Package session はブラウザCookieに閉じたセッション状態を提供する。
// 資格情報とOAuth stateはサーバー側に保存せず、暗号化・署名したHTTP Only Cookieにのみ保持する。
package session

import (
	"crypto/hkdf"
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// MinSecretLength はCookie鍵の導出元シークレットの最小長（バイト）。
const MinSecretLength = 32

// CookieConfig はCookie属性の設定。
type CookieConfig struct {
	Secure bool
	Domain string
}

// Codec は1種類のCookie（資格情報、stateなど）の書き込みと読み取りを担う。
// 値はsecurecookieで暗号化・署名され、Cookie名と発行時刻に束縛される。
type Codec struct {
	sc     *securecookie.SecureCookie
	maxAge time.Duration
	config CookieConfig
}

// NewCodec はシークレットから鍵を導出してCodecを生成する。
// maxAgeはCookieの有効期間で、期限切れの値はブラウザが送ってきても復号に失敗する。
func NewCodec(secret []byte, maxAge time.Duration, config CookieConfig) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("cookie secret must be at least %d bytes", MinSecretLength)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("cookie max age must be positive")
	}

	hashKey, err := hkdf.Key(sha256.New, secret, nil, "mbr cookie hash", 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive hash key: %w", err)
	}
	blockKey, err := hkdf.Key(sha256.New, secret, nil, "mbr cookie block", 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive block key: %w", err)
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(maxAge.Seconds()))

	return &Codec{sc: sc, maxAge: maxAge, config: config}, nil
}

// MaxAge はCookieの有効期間を返す。
func (c *Codec) MaxAge() time.Duration {
	return c.maxAge
}

// write は値を暗号化してCookieを設定する。
func (c *Codec) write(w http.ResponseWriter, name, value string) error {
	encoded, err := c.sc.Encode(name, value)
	if err != nil {
		return fmt.Errorf("failed to encode cookie %s: %w", name, err)
	}
	http.SetCookie(w, c.cookie(name, encoded, int(c.maxAge.Seconds())))
	return nil
}

// read はリクエストのCookieを復号する。
// Cookieが無い、改ざんされている、期限切れのいずれの場合もfalseを返す。
func (c *Codec) read(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	var value string
	if err := c.sc.Decode(name, cookie.Value, &value); err != nil {
		return "", false
	}
	if value == "" {
		return "", false
	}
	return value, true
}

// clear はCookieを削除する。
func (c *Codec) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, c.cookie(name, "", -1))
}

func (c *Codec) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// requestCookies は1リクエスト分のCookie読み書きを保持する。
// 同一リクエスト内で書き込んだ値は、以降の読み取りに反映される。
type requestCookies struct {
	codec   *Codec
	w       http.ResponseWriter
	r       *http.Request
	pending map[string]*string // nilは削除済み
}

func newRequestCookies(codec *Codec, w http.ResponseWriter, r *http.Request) *requestCookies {
	return &requestCookies{
		codec:   codec,
		w:       w,
		r:       r,
		pending: make(map[string]*string),
	}
}

func (rc *requestCookies) get(name string) (string, bool) {
	if v, ok := rc.pending[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	return rc.codec.read(rc.r, name)
}

func (rc *requestCookies) set(name, value string) error {
	if err := rc.codec.write(rc.w, name, value); err != nil {
		return err
	}
	rc.pending[name] = &value
	return nil
}

func (rc *requestCookies) del(name string) {
	rc.codec.clear(rc.w, name)
	rc.pending[name] = nil
}
