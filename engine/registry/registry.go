package registry

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

// Registry holds every registered Processor version, keyed by name then
// version, following the retrieval pack's plugin-registry shape
// (sync.RWMutex-guarded map, sorted name listing) generalized to support
// multiple coexisting versions of the same processor name.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]map[string]Processor // name -> version -> processor
}

func New() *Registry {
	return &Registry{byName: make(map[string]map[string]Processor)}
}

// Register adds p under its declared (Name, Version). Re-registering the
// same (name, version) pair replaces the prior entry, supporting hot
// redeployment of a fixed version during development.
func (r *Registry) Register(p Processor) error {
	if p.Name() == "" {
		return fmt.Errorf("%w: processor name is empty", domain.ErrUnknownProcessor)
	}
	if p.Version() == "" {
		return fmt.Errorf("%w: processor %s declares no version", domain.ErrUnknownProcessor, p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.byName[p.Name()]
	if !ok {
		versions = make(map[string]Processor)
		r.byName[p.Name()] = versions
	}
	versions[p.Version()] = p
	return nil
}

// GetVersion looks up an exact (name, version) pair.
func (r *Registry) GetVersion(name, version string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProcessor, name)
	}
	p, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", domain.ErrUnknownProcessor, name, version)
	}
	return p, nil
}

// Latest returns the highest-priority registered version of name; among
// equal priority, the lexicographically greatest version string wins,
// giving a deterministic tie-break without requiring semver parsing.
func (r *Registry) Latest(name string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.byName[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProcessor, name)
	}
	var best Processor
	for _, p := range versions {
		if best == nil || p.Priority() > best.Priority() ||
			(p.Priority() == best.Priority() && p.Version() > best.Version()) {
			best = p
		}
	}
	return best, nil
}

// SelectForKind implements spec.md §4.4's selection rule: among every
// registered processor (across all names and versions) whose
// AcceptedKinds matches inputKind, pick the highest Priority; ties broken
// by declared Specificity.
func (r *Registry) SelectForKind(inputKind string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []Processor
	for _, versions := range r.byName {
		for _, p := range versions {
			if matchesAnyKind(p.AcceptedKinds(), inputKind) {
				candidates = append(candidates, p)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no processor accepts kind %s", domain.ErrUnknownProcessor, inputKind)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority() != b.Priority() {
			return a.Priority() > b.Priority()
		}
		if a.Specificity() != b.Specificity() {
			return a.Specificity() > b.Specificity()
		}
		return a.Name() < b.Name()
	})
	return candidates[0], nil
}

func matchesAnyKind(kinds []string, inputKind string) bool {
	for _, k := range kinds {
		if k == inputKind {
			return true
		}
		if ok, err := path.Match(k, inputKind); err == nil && ok {
			return true
		}
	}
	return false
}

// Names returns every registered processor name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
