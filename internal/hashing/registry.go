package hashing

import (
	"sort"
	"sync"

	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

// ErrUnknownNetwork is returned when resolving a network that was never bound.
var ErrUnknownNetwork = errors.New(errors.ErrorTypeContract, "resolve_pipeline", "network has no hash pipeline")

// Registry binds network identifiers to pipelines. It holds no notion of a
// current network; every caller names the network it wants.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Pipeline
	logger   *log.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		bindings: make(map[string]Pipeline),
		logger:   logger.WithComponent("hash_registry"),
	}
}

// Bind assigns pipeline name to networkID. Weak pipelines are refused unless
// allowWeak is set, and each network may be bound only once.
func (r *Registry) Bind(networkID string, name Name, allowWeak bool) error {
	p, err := Lookup(name)
	if err != nil {
		return err
	}
	if p.Weak && !allowWeak {
		return errors.New(errors.ErrorTypeConfiguration, "bind_pipeline",
			"weak pipeline requires explicit opt-in").
			WithContext("network", networkID).
			WithContext("pipeline", string(name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.bindings[networkID]; ok {
		return errors.New(errors.ErrorTypeContract, "bind_pipeline", "network already bound").
			WithContext("network", networkID).
			WithContext("pipeline", string(existing.Name))
	}
	r.bindings[networkID] = p

	if p.Weak {
		r.logger.LogWeakPipeline(networkID, string(name))
	}
	return nil
}

// Pipeline returns the full pipeline description bound to networkID.
func (r *Registry) Pipeline(networkID string) (Pipeline, error) {
	r.mu.RLock()
	p, ok := r.bindings[networkID]
	r.mu.RUnlock()

	if !ok {
		return Pipeline{}, errors.Wrap(ErrUnknownNetwork, errors.ErrorTypeContract, "resolve_pipeline",
			"unregistered network").WithContext("network", networkID)
	}
	return p, nil
}

// Resolve returns the hash function for networkID. Resolving a weak
// pipeline emits a warning every time.
func (r *Registry) Resolve(networkID string) (HashFunc, error) {
	p, err := r.Pipeline(networkID)
	if err != nil {
		return nil, err
	}
	if p.Weak {
		r.logger.LogWeakPipeline(networkID, string(p.Name))
	}
	return p.Func, nil
}

// MustResolve is Resolve for callers that treat an unknown network as a bug.
func (r *Registry) MustResolve(networkID string) HashFunc {
	fn, err := r.Resolve(networkID)
	if err != nil {
		panic(err)
	}
	return fn
}

// Networks lists bound network identifiers in sorted order.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
