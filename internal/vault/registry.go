package vault

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DefaultRegistryCap mirrors the storage reserved by the original
// deployment: room for five protocol-level callers.
const DefaultRegistryCap = 5

// Registry is the flat allow-list of callers permitted to lock and unlock
// collateral. It is shared by all vaults; see DESIGN.md for the per-vault
// scoping question.
type Registry struct {
	mu      sync.RWMutex
	callers map[uuid.UUID]struct{}
	cap     int
}

// NewRegistry creates an empty registry. cap limits the number of entries;
// zero means unlimited.
func NewRegistry(cap int) *Registry {
	return &Registry{
		callers: make(map[uuid.UUID]struct{}),
		cap:     cap,
	}
}

// Authorize adds a caller to the allow-list. Adding a caller that is
// already present is a no-op.
func (r *Registry) Authorize(caller uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.callers[caller]; ok {
		return nil
	}
	if r.cap > 0 && len(r.callers) >= r.cap {
		return ErrRegistryFull
	}
	r.callers[caller] = struct{}{}
	return nil
}

// Revoke removes a caller. Revoking an absent caller is a no-op.
func (r *Registry) Revoke(caller uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callers, caller)
}

// IsAuthorized reports allow-list membership.
func (r *Registry) IsAuthorized(caller uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.callers[caller]
	return ok
}

// Len returns the number of registered callers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callers)
}

// Callers returns the registered callers in a stable order, for
// serialization and inspection.
func (r *Registry) Callers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(r.callers))
	for c := range r.callers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
