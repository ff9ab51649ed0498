// Package hooks provides the registries the scheduler core reaches
// through to start up, run, and shut down without knowing anything about
// its consumers: init functions (DECL_INIT), task functions
// (DECL_TASK), and shutdown functions (DECL_SHUTDOWN) in the original
// source's terms.
//
// Grounded on core/command.go's CommandRegistry: a mutex-guarded slice
// behind a package-level default instance, with Register*/Run* pairs
// following the same naming rhythm as RegisterCommand/DispatchCommand.
package hooks

import "sync"

// InitFunc runs once, in registration order, before the task loop starts.
type InitFunc func()

// TaskFunc runs every time the task loop wakes, in registration order.
type TaskFunc func()

// ShutdownFunc runs once per shutdown, in registration order, after the
// timer queue has been reset but before the shutdown message is sent.
type ShutdownFunc func(reason string)

// Registry holds one scheduler instance's init/task/shutdown hooks.
// The zero value is ready to use.
type Registry struct {
	mu        sync.RWMutex
	inits     []InitFunc
	tasks     []TaskFunc
	shutdowns []ShutdownFunc
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// RegisterInit adds f to the init hooks run once by RunInitFuncs.
func (r *Registry) RegisterInit(f InitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits = append(r.inits, f)
}

// RegisterTask adds f to the task hooks run on every task-loop wake by
// RunTaskFuncs.
func (r *Registry) RegisterTask(f TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, f)
}

// RegisterShutdown adds f to the shutdown hooks run once per shutdown by
// RunShutdownFuncs.
func (r *Registry) RegisterShutdown(f ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns = append(r.shutdowns, f)
}

// RunInitFuncs runs every registered init hook, in registration order.
func (r *Registry) RunInitFuncs() {
	r.mu.RLock()
	fns := append([]InitFunc(nil), r.inits...)
	r.mu.RUnlock()
	for _, f := range fns {
		f()
	}
}

// RunTaskFuncs runs every registered task hook, in registration order.
func (r *Registry) RunTaskFuncs() {
	r.mu.RLock()
	fns := append([]TaskFunc(nil), r.tasks...)
	r.mu.RUnlock()
	for _, f := range fns {
		f()
	}
}

// RunShutdownFuncs runs every registered shutdown hook, in registration
// order, passing along the reason the shutdown was triggered with.
func (r *Registry) RunShutdownFuncs(reason string) {
	r.mu.RLock()
	fns := append([]ShutdownFunc(nil), r.shutdowns...)
	r.mu.RUnlock()
	for _, f := range fns {
		f(reason)
	}
}

// Count returns the number of registered init, task, and shutdown hooks,
// mainly for tests and diagnostics.
func (r *Registry) Count() (inits, tasks, shutdowns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.inits), len(r.tasks), len(r.shutdowns)
}
