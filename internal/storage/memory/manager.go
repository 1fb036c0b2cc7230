package memory

import (
	"slices"
	"sync"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/types"
)

// Manager hands out in-memory stores. State is lost on exit.
type Manager struct {
	mu     sync.Mutex
	stores map[types.ResourceID]*Store
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{stores: make(map[types.ResourceID]*Store)}
}

// GetStore returns the store for id, creating it on first use.
func (m *Manager) GetStore(id types.ResourceID) (storage.Store, error) {
	if _, err := types.ParseResourceID(string(id)); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		s = NewStore(id)
		m.stores[id] = s
	}
	return s, nil
}

// LookupStore returns the store for id if one has been created.
func (m *Manager) LookupStore(id types.ResourceID) (storage.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s, nil
}

// List returns every resource that has been initialized.
func (m *Manager) List() ([]types.ResourceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []types.ResourceID
	for id, s := range m.stores {
		s.mu.RLock()
		if s.resource != nil {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	slices.Sort(ids)
	return ids, nil
}

// CloseAll forgets every store.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = make(map[types.ResourceID]*Store)
	return nil
}

var _ storage.Manager = (*Manager)(nil)
