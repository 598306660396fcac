package session

import (
	"fmt"
	"sync"
)

// MemoryStore はメモリ上のCredentialStore。テストやHTTP以外の呼び出し元で使う。
// Cookie実装と同じく資格情報キー単位で保持するため、キーを共有するプロバイダーは同時に接続される。
type MemoryStore struct {
	mu      sync.RWMutex
	keys    KeyResolver
	secrets map[string]string
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore(keys KeyResolver) *MemoryStore {
	return &MemoryStore{keys: keys, secrets: make(map[string]string)}
}

// Put は資格情報を保存する。
func (s *MemoryStore) Put(providerID, secret string) error {
	key, ok := s.keys.CredentialKey(providerID)
	if !ok {
		return fmt.Errorf("unknown provider: %s", providerID)
	}
	if secret == "" {
		return fmt.Errorf("empty credential for provider %s", providerID)
	}
	s.mu.Lock()
	s.secrets[key] = secret
	s.mu.Unlock()
	return nil
}

// Get は資格情報を返す。
func (s *MemoryStore) Get(providerID string) (string, bool) {
	key, ok := s.keys.CredentialKey(providerID)
	if !ok {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	return v, ok
}

// Delete は資格情報を削除する。
func (s *MemoryStore) Delete(providerID string) {
	key, ok := s.keys.CredentialKey(providerID)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.secrets, key)
	s.mu.Unlock()
}
