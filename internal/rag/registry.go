package rag

import (
	"context"
	"sync"

	"bookchat/internal/vectorstore"
)

// Registry opens indexes on first use and shares them between sessions.
type Registry struct {
	store          vectorstore.Storage
	embeddingModel string

	mu   sync.RWMutex
	open map[string]vectorstore.Index
}

func NewRegistry(store vectorstore.Storage, embeddingModel string) *Registry {
	return &Registry{
		store:          store,
		embeddingModel: embeddingModel,
		open:           make(map[string]vectorstore.Index),
	}
}

func (r *Registry) Get(ctx context.Context, name string) (vectorstore.Index, error) {
	r.mu.RLock()
	idx, ok := r.open[name]
	r.mu.RUnlock()
	if ok {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.open[name]; ok {
		return idx, nil
	}
	idx, err := r.store.Open(ctx, name, r.embeddingModel)
	if err != nil {
		return nil, err
	}
	r.open[name] = idx
	return idx, nil
}

// Drop deletes an index from the store and from the cache.
func (r *Registry) Drop(ctx context.Context, name string) error {
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}
	r.Forget(name)
	return nil
}

// Forget drops a cached index so the next Get reopens it.
func (r *Registry) Forget(name string) {
	r.mu.Lock()
	delete(r.open, name)
	r.mu.Unlock()
}
