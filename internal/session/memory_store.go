package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. They are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Load(_ context.Context, instanceID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[instanceID]
	if !ok {
		return nil, ErrNoSession
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.InstanceID] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, instanceID)
	return nil
}

// DeleteIdentity removes every session bound to identityID.
func (m *MemoryStore) DeleteIdentity(_ context.Context, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.IdentityID == identityID {
			delete(m.sessions, id)
		}
	}
	return nil
}
