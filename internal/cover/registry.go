package cover

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry keeps every configured cover addressable by name.
type Registry struct {
	mu     sync.RWMutex
	covers map[string]Cover
}

func NewRegistry() *Registry {
	return &Registry{covers: map[string]Cover{}}
}

func (r *Registry) Add(c Cover) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.covers[c.Name()]; ok {
		return errors.Errorf("cover %q already registered", c.Name())
	}
	r.covers[c.Name()] = c
	return nil
}

func (r *Registry) Get(name string) (Cover, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.covers[name]
	return c, ok
}

// All returns the registered covers ordered by name.
func (r *Registry) All() []Cover {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.covers))
	for name := range r.covers {
		names = append(names, name)
	}
	sort.Strings(names)

	covers := make([]Cover, 0, len(names))
	for _, name := range names {
		covers = append(covers, r.covers[name])
	}
	return covers
}
