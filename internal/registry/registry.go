// Package registry holds the named Permission Profile presets: a small,
// in-memory, named table clients can reference instead of spelling out
// every Permission Profile field.
package registry

import (
	"fmt"
	"sync"

	"github.com/agentgate/agentgate/internal/argv"
)

// Preset names recognized out of the box, one per permission mode.
const (
	PresetDefault           = "default"
	PresetAcceptEdits       = "acceptEdits"
	PresetBypassPermissions = "bypassPermissions"
	PresetPlan              = "plan"
)

// Registry holds named Permission Profile presets.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]argv.Profile
}

// New returns a Registry pre-loaded with the four built-in presets.
func New() *Registry {
	r := &Registry{presets: make(map[string]argv.Profile)}
	r.LoadDefaults()
	return r
}

// LoadDefaults (re)installs the built-in presets, overwriting any existing
// entries of the same name.
func (r *Registry) LoadDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[PresetDefault] = argv.Profile{Mode: argv.ModeDefault}
	r.presets[PresetAcceptEdits] = argv.Profile{Mode: argv.ModeAcceptEdits}
	r.presets[PresetBypassPermissions] = argv.Profile{Mode: argv.ModeBypassPermissions, SkipPermissions: true}
	r.presets[PresetPlan] = argv.Profile{Mode: argv.ModePlan}
}

// Register adds or replaces a named preset.
func (r *Registry) Register(name string, profile argv.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[name] = profile
}

// Resolve looks up a named preset.
func (r *Registry) Resolve(name string) (argv.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[name]
	if !ok {
		return argv.Profile{}, fmt.Errorf("unknown permission profile preset %q", name)
	}
	return p, nil
}

// List returns every registered preset name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	return names
}
