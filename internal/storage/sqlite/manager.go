package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/relves/vaultgate/internal/storage"
	"github.com/relves/vaultgate/pkg/types"
)

// StoreManager manages one Store per resource with caching.
type StoreManager struct {
	basePath string
	stores   map[types.ResourceID]*Store
	mu       sync.RWMutex
}

// NewStoreManager creates a new StoreManager.
func NewStoreManager(basePath string) *StoreManager {
	return &StoreManager{
		basePath: basePath,
		stores:   make(map[types.ResourceID]*Store),
	}
}

// OpenStore returns the Store for id, opening it on first use.
func (m *StoreManager) OpenStore(id types.ResourceID) (*Store, error) {
	m.mu.RLock()
	if store, ok := m.stores[id]; ok {
		m.mu.RUnlock()
		return store, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if store, ok := m.stores[id]; ok {
		return store, nil
	}

	store, err := OpenStore(m.basePath, id)
	if err != nil {
		return nil, err
	}

	m.stores[id] = store
	return store, nil
}

// GetStore returns the Store for id as a storage.Store.
func (m *StoreManager) GetStore(id types.ResourceID) (storage.Store, error) {
	return m.OpenStore(id)
}

// LookupStore returns the Store for id if its database exists.
func (m *StoreManager) LookupStore(id types.ResourceID) (storage.Store, error) {
	m.mu.RLock()
	store, ok := m.stores[id]
	m.mu.RUnlock()
	if ok {
		return store, nil
	}
	if _, err := types.ParseResourceID(string(id)); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(m.basePath, "resources", string(id), "state.db")); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return m.OpenStore(id)
}

// List returns the resources that have a database under the base path.
func (m *StoreManager) List() ([]types.ResourceID, error) {
	entries, err := os.ReadDir(filepath.Join(m.basePath, "resources"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []types.ResourceID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := types.ParseResourceID(e.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.basePath, "resources", e.Name(), "state.db")); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// CloseAll closes all cached stores.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = make(map[types.ResourceID]*Store)
	return errors.Join(errs...)
}

// BasePath returns the base path for resource storage.
func (m *StoreManager) BasePath() string {
	return m.basePath
}

var _ storage.Manager = (*StoreManager)(nil)
