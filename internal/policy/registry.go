package policy

import (
	"fmt"
	"sort"
)

// Registry holds all known restricted-app policies.
// Exactly one of them is active per installation, chosen by config.
type Registry struct {
	policies map[string]AppPolicy
}

// NewRegistry creates a registry with all default policies.
func NewRegistry() *Registry {
	r := &Registry{
		policies: make(map[string]AppPolicy),
	}

	// Register default policies
	r.Register(NewInstagramPolicy())
	r.Register(NewYouTubePolicy())

	return r
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(policies ...AppPolicy) *Registry {
	r := &Registry{
		policies: make(map[string]AppPolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy to the registry.
func (r *Registry) Register(p AppPolicy) {
	r.policies[p.ID()] = p
}

// Get returns a policy by ID.
func (r *Registry) Get(id string) (AppPolicy, bool) {
	p, ok := r.policies[id]
	return p, ok
}

// Lookup returns a policy by ID or an error naming the known IDs.
func (r *Registry) Lookup(id string) (AppPolicy, error) {
	p, ok := r.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s (known: %v)", id, r.List())
	}
	return p, nil
}

// GetAll returns all registered policies ordered by ID.
func (r *Registry) GetAll() []AppPolicy {
	result := make([]AppPolicy, 0, len(r.policies))
	for _, id := range r.List() {
		result = append(result, r.policies[id])
	}
	return result
}

// List returns all policy IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
