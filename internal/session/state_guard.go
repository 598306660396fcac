package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
)

// StateCookiePrefix はOAuth state Cookie名の接頭辞。プロバイダーごとに別のCookieを使う。
const StateCookiePrefix = "mbr_oauth_state_"

// StateGuard はOAuthハンドシェイクのCSRF対策トークンを発行・検証する。
type StateGuard interface {
	// Begin は新しいstateを発行し、そのプロバイダーの直前のstateを置き換える。
	Begin(providerID string) (string, error)
	// Complete はsuppliedが直前に発行したstateと一致するか検証する。
	// 結果にかかわらず保持していたstateは破棄され、2回目以降は失敗する。
	Complete(providerID, supplied string) bool
	// Pending は未完了のstateを保持しているかを返す。
	Pending(providerID string) bool
}

// NewState はランダムなstate文字列（16バイトの16進表現）を生成する。
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func stateMatches(expected, supplied string) bool {
	if expected == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// CookieStateGuard はstateを暗号化Cookieに保持するStateGuard。
type CookieStateGuard struct {
	cookies *requestCookies
}

// Begin はstateを発行してCookieに保存する。
func (g *CookieStateGuard) Begin(providerID string) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	if err := g.cookies.set(StateCookiePrefix+providerID, state); err != nil {
		return "", err
	}
	return state, nil
}

// Complete はCookieのstateと照合し、Cookieを削除する。
func (g *CookieStateGuard) Complete(providerID, supplied string) bool {
	name := StateCookiePrefix + providerID
	expected, ok := g.cookies.get(name)
	g.cookies.del(name)
	if !ok {
		return false
	}
	return stateMatches(expected, supplied)
}

// Pending はstate Cookieが有効かどうかを返す。
func (g *CookieStateGuard) Pending(providerID string) bool {
	_, ok := g.cookies.get(StateCookiePrefix + providerID)
	return ok
}

// MemoryStateGuard はstateをメモリに保持するStateGuard。テストやHTTP以外の呼び出し元で使う。
type MemoryStateGuard struct {
	mu     sync.Mutex
	states map[string]string
}

// NewMemoryStateGuard はMemoryStateGuardを生成する。
func NewMemoryStateGuard() *MemoryStateGuard {
	return &MemoryStateGuard{states: make(map[string]string)}
}

// Begin はstateを発行して保持する。
func (g *MemoryStateGuard) Begin(providerID string) (string, error) {
	state, err := NewState()
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.states[providerID] = state
	g.mu.Unlock()
	return state, nil
}

// Complete は保持しているstateと照合して破棄する。
func (g *MemoryStateGuard) Complete(providerID, supplied string) bool {
	g.mu.Lock()
	expected, ok := g.states[providerID]
	delete(g.states, providerID)
	g.mu.Unlock()
	if !ok {
		return false
	}
	return stateMatches(expected, supplied)
}

// Pending はstateを保持しているかを返す。
func (g *MemoryStateGuard) Pending(providerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.states[providerID]
	return ok
}
