package runtime

import (
	"sync"

	"github.com/wippyai/wasm-interp/engine"
	"github.com/wippyai/wasm-interp/errors"
)

// hostRegistry holds host bindings keyed by module name then import
// name. Registration is concurrency-safe; instantiation reads a
// snapshot so later registrations never affect live instances.
type hostRegistry struct {
	mu      sync.RWMutex
	funcs   map[string]map[string]engine.HostBinding
	globals map[string]map[string]engine.Value
}

func newHostRegistry() *hostRegistry {
	return &hostRegistry{
		funcs:   make(map[string]map[string]engine.HostBinding),
		globals: make(map[string]map[string]engine.Value),
	}
}

func (h *hostRegistry) addFunc(module, name string, b engine.HostBinding) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.funcs[module][name]; exists {
		return errors.Registration(module, name,
			errors.InvalidInput(errors.PhaseHost, "function already registered"))
	}
	if h.funcs[module] == nil {
		h.funcs[module] = make(map[string]engine.HostBinding)
	}
	h.funcs[module][name] = b
	return nil
}

func (h *hostRegistry) addGlobal(module, name string, v engine.Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.globals[module][name]; exists {
		return errors.Registration(module, name,
			errors.InvalidInput(errors.PhaseHost, "global already registered"))
	}
	if h.globals[module] == nil {
		h.globals[module] = make(map[string]engine.Value)
	}
	h.globals[module][name] = v
	return nil
}

// snapshot copies the registry into the engine's import shape.
func (h *hostRegistry) snapshot() engine.Imports {
	h.mu.RLock()
	defer h.mu.RUnlock()
	imp := engine.Imports{
		Funcs:   make(map[string]map[string]engine.HostBinding, len(h.funcs)),
		Globals: make(map[string]map[string]engine.Value, len(h.globals)),
	}
	for mod, byName := range h.funcs {
		m := make(map[string]engine.HostBinding, len(byName))
		for name, b := range byName {
			m[name] = b
		}
		imp.Funcs[mod] = m
	}
	for mod, byName := range h.globals {
		m := make(map[string]engine.Value, len(byName))
		for name, v := range byName {
			m[name] = v
		}
		imp.Globals[mod] = m
	}
	return imp
}
