package poc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	sharedErrors "github.com/khanhnv2901/poc-cli/internal/shared/errors"
)

// Unloaded records a module that failed to load or lacks a required capability.
type Unloaded struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// LoadResult is the outcome of a load pass: modules in discovery order plus
// the unloaded registry. It is threaded through the run rather than stored
// globally.
type LoadResult struct {
	Modules  []*Module
	Unloaded []Unloaded
}

// Add validates m and appends it, or records it as unloaded. Duplicate IDs
// are unloaded; the first occurrence wins.
func (r *LoadResult) Add(m *Module) bool {
	if err := m.Validate(); err != nil {
		r.Reject(m.Source, err)
		return false
	}
	for _, existing := range r.Modules {
		if existing.ID == m.ID {
			r.Reject(m.Source, fmt.Errorf("%w: %s", sharedErrors.ErrDuplicateModule, m.ID))
			return false
		}
	}
	r.Modules = append(r.Modules, m)
	return true
}

// Reject records path as unloaded. The reason is the innermost cause so
// that "no verify capability" reads as such in diagnostics.
func (r *LoadResult) Reject(path string, err error) {
	r.Unloaded = append(r.Unloaded, Unloaded{Path: path, Reason: reason(err), Err: err})
}

// Merge appends other's modules and unloaded entries, applying Add rules.
func (r *LoadResult) Merge(other LoadResult) {
	for _, m := range other.Modules {
		r.Add(m)
	}
	r.Unloaded = append(r.Unloaded, other.Unloaded...)
}

// Lookup finds a loaded module by ID.
func (r *LoadResult) Lookup(id string) (*Module, bool) {
	for _, m := range r.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

func reason(err error) string {
	var loadErr *sharedErrors.LoadError
	if errors.As(err, &loadErr) && loadErr.Err != nil {
		return loadErr.Err.Error()
	}
	return err.Error()
}

// Catalog holds compiled-in modules registered by name. It is safe for
// concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]*Module)}
}

// Register adds m to the catalog.
func (c *Catalog) Register(m *Module) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid module %q: %w", m.ID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.modules[m.ID]; exists {
		return fmt.Errorf("%w: %s", sharedErrors.ErrDuplicateModule, m.ID)
	}
	c.modules[m.ID] = m
	return nil
}

// Get retrieves a module by ID.
func (c *Catalog) Get(id string) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[id]
	return m, ok
}

// Select returns the named modules in the requested order. Unknown names
// are reported as unloaded. With no names every module is returned sorted
// by ID.
func (c *Catalog) Select(ids ...string) LoadResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var res LoadResult
	if len(ids) == 0 {
		keys := make([]string, 0, len(c.modules))
		for k := range c.modules {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Add(c.modules[k])
		}
		return res
	}

	for _, id := range ids {
		m, ok := c.modules[id]
		if !ok {
			res.Reject(id, fmt.Errorf("module %q not registered", id))
			continue
		}
		res.Add(m)
	}
	return res
}
