package scale

import (
	"fmt"
	"sort"
	"sync"
)

// VersionLatest selects the highest registered version of a plugin.
const VersionLatest = "latest"

// Factory builds a fresh plugin instance per profile.
type Factory func() Plugin

// Registry holds versioned plugin factories and their documentation.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]Factory
	docs    map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]map[string]Factory),
		docs:    make(map[string]string),
	}
}

// Register adds a plugin factory under name and version. Registering the
// same name/version twice replaces the factory. doc is the plugin's
// markdown documentation; the last non-empty doc per name wins.
func (r *Registry) Register(name, version string, f Factory, doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[name] == nil {
		r.plugins[name] = make(map[string]Factory)
	}
	r.plugins[name][version] = f
	if doc != "" {
		r.docs[name] = doc
	}
}

// Get instantiates the named plugin. Version "latest" picks the highest
// version by string sort.
func (r *Registry) Get(name, version string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q not found", name)
	}

	if version == VersionLatest || version == "" {
		keys := make([]string, 0, len(versions))
		for v := range versions {
			keys = append(keys, v)
		}
		// Simple string sort; versions are dotted numerics in practice.
		sort.Strings(keys)
		version = keys[len(keys)-1]
	}

	f, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("plugin %q version %q not found", name, version)
	}
	return f(), nil
}

// Has reports whether any version of the named plugin is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins[name]) > 0
}

// Doc returns the plugin's markdown documentation.
func (r *Registry) Doc(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[name]
	return doc, ok
}

// Entry identifies one registered plugin version.
type Entry struct {
	Name    string
	Version string
}

// Entries lists registered plugins sorted by name then version.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for name, versions := range r.plugins {
		for v := range versions {
			out = append(out, Entry{Name: name, Version: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// defaultRegistry serves plugins shipped with the app; external plugins
// loaded from an experiment's plugin directory land here too.
var defaultRegistry = NewRegistry()

// Register adds a plugin to the default registry.
func Register(name, version string, f Factory, doc string) {
	defaultRegistry.Register(name, version, f, doc)
}

// DefaultRegistry exposes the default registry (used by the utility CLI).
func DefaultRegistry() *Registry { return defaultRegistry }
