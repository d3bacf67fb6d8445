package importer

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]Catalog)
	registryMu sync.RWMutex
)

// Register adds a catalog to the registry.
// Panics if a catalog with the same kind is already registered.
func Register(cat Catalog) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[cat.Kind]; exists {
		panic(fmt.Sprintf("catalog already registered: %s", cat.Kind))
	}
	if cat.Identity == "" {
		panic(fmt.Sprintf("catalog %s has no identity field", cat.Kind))
	}
	registry[cat.Kind] = cat
}

// GetCatalog returns a catalog by kind.
// Returns false if not found.
func GetCatalog(kind string) (Catalog, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	cat, ok := registry[kind]
	return cat, ok
}

// Catalogs returns all registered catalogs, sorted by kind.
func Catalogs() []Catalog {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Catalog, 0, len(registry))
	for _, cat := range registry {
		result = append(result, cat)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind < result[j].Kind
	})

	return result
}

// ClearRegistry removes all registered catalogs.
// Primarily useful for testing.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Catalog)
}
