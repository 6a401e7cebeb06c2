package plugin

import (
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/lappd/internal/core"
)

// ReporterFactory creates a fresh, uninitialised reporter.
type ReporterFactory func() Reporter

type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func newRegistry[F any]() *registry[F] {
	return &registry[F]{factories: make(map[string]F)}
}

func (r *registry[F]) register(name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("plugin: %q registered twice", name))
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears the registry. Intended for tests.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.factories)
}

var reporterReg = newRegistry[ReporterFactory]()

// RegisterReporter makes a reporter available by name. It panics if the
// name is taken; call it from an init function.
func RegisterReporter(name string, f ReporterFactory) {
	reporterReg.register(name, f)
}

// GetReporterFactory returns the factory registered under name.
func GetReporterFactory(name string) (ReporterFactory, error) {
	f, ok := reporterReg.get(name)
	if !ok {
		return nil, fmt.Errorf("plugin: %q: %w", name, core.ErrReporterNotFound)
	}
	return f, nil
}

// ListReporters returns the registered reporter names in sorted order.
func ListReporters() []string {
	return reporterReg.names()
}

// NewReporter creates and initialises the reporter registered under name.
func NewReporter(name string, cfg map[string]any) (Reporter, error) {
	f, err := GetReporterFactory(name)
	if err != nil {
		return nil, err
	}
	r := f()
	if err := r.Init(cfg); err != nil {
		return nil, fmt.Errorf("plugin: %q: %w: %w", name, core.ErrReporterInitFailed, err)
	}
	return r, nil
}
