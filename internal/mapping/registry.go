package mapping

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/joao-brasil/sqlrt/internal/cache"
)

// ErrUnknownStatement is returned for a statement id that was never registered.
var ErrUnknownStatement = errors.New("unknown statement")

// Registry holds mapped statements by id and namespace caches by namespace.
type Registry struct {
	mu         sync.RWMutex
	statements map[string]*MappedStatement
	caches     map[string]cache.Cache
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		statements: make(map[string]*MappedStatement),
		caches:     make(map[string]cache.Cache),
	}
}

// AddCache registers the shared cache of a namespace.
func (r *Registry) AddCache(c cache.Cache) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.caches[c.ID()]; dup {
		return errors.Newf("cache for namespace %s already registered", c.ID())
	}
	r.caches[c.ID()] = c
	return nil
}

// Cache returns the shared cache of a namespace.
func (r *Registry) Cache(namespace string) (cache.Cache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caches[namespace]
	return c, ok
}

// AddStatement registers ms. When ms has no cache of its own it gets the
// namespace cache, if one was registered.
func (r *Registry) AddStatement(ms *MappedStatement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ms.ID == "" {
		return errors.New("statement id is required")
	}
	if _, dup := r.statements[ms.ID]; dup {
		return errors.Newf("statement %s already registered", ms.ID)
	}
	if ms.Cache == nil {
		ms.Cache = r.caches[ms.Namespace]
	}
	r.statements[ms.ID] = ms
	return nil
}

// Statement returns the statement registered under id.
func (r *Registry) Statement(id string) (*MappedStatement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.statements[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownStatement, "%q", id)
	}
	return ms, nil
}

// StatementIDs returns every registered id, sorted.
func (r *Registry) StatementIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.statements))
	for id := range r.statements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Caches returns the registered namespace caches, sorted by namespace.
func (r *Registry) Caches() []cache.Cache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cache.Cache, 0, len(r.caches))
	for _, c := range r.caches {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
