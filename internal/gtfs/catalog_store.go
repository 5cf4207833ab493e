package gtfs

import "sync"

// CatalogStore holds the current route catalog. Readers may call Get from
// any goroutine while a refresh calls Set.
type CatalogStore struct {
	mu   sync.RWMutex
	data *Catalog
}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{}
}

// Set replaces the stored catalog.
func (s *CatalogStore) Set(newData *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = newData
}

// Get returns the stored catalog, or nil before the first successful load.
func (s *CatalogStore) Get() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}
