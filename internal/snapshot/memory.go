package snapshot

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-session/internal/model"
)

// MemoryStore keeps the encoded slot in process memory. Payloads still go
// through the codec so a load never aliases the live session.
type MemoryStore struct {
	mu  sync.Mutex
	raw []byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Save(_ context.Context, s *model.ExamSession) error {
	raw, err := Encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.raw = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*model.ExamSession, error) {
	m.mu.Lock()
	raw := m.raw
	m.mu.Unlock()
	if raw == nil {
		return nil, nil
	}
	return Decode(raw)
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.raw = nil
	m.mu.Unlock()
	return nil
}
