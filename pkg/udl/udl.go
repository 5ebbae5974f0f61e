// Package udl is the user-defined-logic plugin surface: a tagged-variant
// registry of UDL factories keyed by kind, and a YAML manifest loader
// that instantiates the UDLs a deployment wants to run. A UDL is an
// ordinary Go value registered at init time under a string kind, and
// udl.yaml declares which kinds to instantiate and with what config —
// "data describes which code runs" without dynamic library loading,
// which Go doesn't support.
package udl

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/flowmesh/flowstore/pkg/engine"
)

// Factory builds a Handler from a kind-specific config map.
type Factory func(config map[string]any) (engine.Handler, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register associates kind with a Factory. Called from the init()
// function of a package implementing a UDL.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// Build instantiates the UDL registered under kind.
func Build(kind string, config map[string]any) (engine.Handler, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("udl: no factory registered for kind %q", kind)
	}
	return f(config)
}

// Entry is one instantiated UDL in the manifest: an id other packages
// (the DFG loader) reference, the registered kind to build, and its
// config.
type Entry struct {
	ID     string         `yaml:"id"`
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config"`
}

// Manifest is the top-level udl.yaml shape.
type Manifest struct {
	UDLs []Entry `yaml:"udls"`
}

// LoadManifest reads and parses a UDL manifest file.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("udl: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("udl: parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// BuildAll instantiates every entry in the manifest, returning a map from
// UDL id to its built Handler.
func BuildAll(m *Manifest) (map[string]engine.Handler, error) {
	handlers := make(map[string]engine.Handler, len(m.UDLs))
	for _, e := range m.UDLs {
		h, err := Build(e.Kind, e.Config)
		if err != nil {
			return nil, fmt.Errorf("udl: build %q (kind %q): %w", e.ID, e.Kind, err)
		}
		handlers[e.ID] = h
	}
	return handlers, nil
}
