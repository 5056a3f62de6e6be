package vault

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/docvault/internal/lexical"
	"github.com/kalambet/docvault/internal/semantic"
	"github.com/kalambet/docvault/internal/tenant"
)

// handles bundles one tenant's two indexes. Both are opened together on the
// tenant's first operation and stay open until CloseAll.
type handles struct {
	lexical  *lexical.Store
	semantic *semantic.Store
}

// registry lazily opens per-tenant index pairs. Concurrent first requests for
// the same tenant are collapsed into a single open via singleflight, so two
// parallel uploads never race on SQLite file creation.
type registry struct {
	tenants  *tenant.Store
	embedder semantic.TextEmbedder
	semOpts  semantic.StoreOptions

	group singleflight.Group

	mu   sync.Mutex
	open map[string]*handles
}

func newRegistry(tenants *tenant.Store, embedder semantic.TextEmbedder, semOpts semantic.StoreOptions) *registry {
	return &registry{
		tenants:  tenants,
		embedder: embedder,
		semOpts:  semOpts,
		open:     make(map[string]*handles),
	}
}

func (r *registry) stores(tenantID string) (*handles, error) {
	r.mu.Lock()
	if h, ok := r.open[tenantID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(tenantID, func() (any, error) {
		// Re-check under the lock: a previous flight may have won.
		r.mu.Lock()
		if h, ok := r.open[tenantID]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		lex, err := lexical.Open(r.tenants.LexicalDBPath(tenantID))
		if err != nil {
			return nil, fmt.Errorf("opening lexical index for %s: %w", tenantID, err)
		}
		sem, err := semantic.Open(r.tenants.SemanticDBPath(tenantID), r.embedder, r.semOpts)
		if err != nil {
			lex.Close()
			return nil, fmt.Errorf("opening semantic index for %s: %w", tenantID, err)
		}

		h := &handles{lexical: lex, semantic: sem}
		r.mu.Lock()
		r.open[tenantID] = h
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*handles), nil
}

// closeAll closes every open index pair. Close errors are collected so one
// bad handle does not hide the rest.
func (r *registry) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for tenantID, h := range r.open {
		if err := h.lexical.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing lexical index for %s: %w", tenantID, err)
		}
		if err := h.semantic.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing semantic index for %s: %w", tenantID, err)
		}
		delete(r.open, tenantID)
	}
	return firstErr
}
