package conversion

import (
	"sync"

	cansim "github.com/openxilenv/cansim"
)

// Converter replaces the configured conversion of a signal
type Converter interface {
	Convert(value cansim.Numeric, obj ObjectContext) cansim.Numeric
}

type ConverterFunc func(value cansim.Numeric, obj ObjectContext) cansim.Numeric

func (f ConverterFunc) Convert(value cansim.Numeric, obj ObjectContext) cansim.Numeric {
	return f(value, obj)
}

// Provider resolves replaced conversions by id
type Provider interface {
	Lookup(id int) (Converter, bool)
}

// Registry is a Provider whose converters can be swapped while the
// simulation runs, e.g. from another goroutine handling remote requests.
type Registry struct {
	mu         sync.RWMutex
	converters map[int]Converter
}

func NewRegistry() *Registry {
	return &Registry{converters: make(map[int]Converter)}
}

func (r *Registry) Replace(id int, converter Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[id] = converter
}

func (r *Registry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.converters, id)
}

func (r *Registry) Lookup(id int) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	converter, ok := r.converters[id]
	return converter, ok
}
