package provider

import (
	"fmt"
	"sort"
)

// Registry is the ordered, read-only set of provider descriptors.
type Registry struct {
	byID    map[string]Descriptor
	ordered []string
}

// NewRegistry validates descriptors and orders them by priority, then ID.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("provider descriptor missing id")
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider %q", d.ID)
		}
		if len(d.Capabilities) == 0 {
			return nil, fmt.Errorf("provider %q declares no capabilities", d.ID)
		}
		d.Capabilities = append([]string(nil), d.Capabilities...)
		r.byID[d.ID] = d
		r.ordered = append(r.ordered, d.ID)
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		a, b := r.byID[r.ordered[i]], r.byID[r.ordered[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return r, nil
}

// Get returns a descriptor by ID.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// IDs returns provider IDs in priority order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ordered...)
}

// All returns descriptors in priority order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.byID[id])
	}
	return out
}

// Rank returns the provider's position in priority order, or len(IDs) if unknown.
func (r *Registry) Rank(id string) int {
	for i, candidate := range r.ordered {
		if candidate == id {
			return i
		}
	}
	return len(r.ordered)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.ordered)
}
