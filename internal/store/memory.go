package store

import (
	"context"
	"sync"

	"github.com/mmeshcher/storefront/internal/model"
)

// MemoryStore хранит состояние в памяти процесса. Используется без внешнего хранилища и в тестах.
type MemoryStore struct {
	mu      sync.Mutex
	cart    model.Cart
	session *Session
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadCart(ctx context.Context) (model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cart.Clone(), nil
}

func (m *MemoryStore) SaveCart(ctx context.Context, cart model.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart = cart.Clone()
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNotFound
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemoryStore) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func (m *MemoryStore) Close() error { return nil }
