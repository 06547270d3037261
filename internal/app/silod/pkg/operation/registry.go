// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package operation

import (
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	"github.com/siderolabs/gen/maps"
	"go.uber.org/zap"

	"github.com/silo-systems/silod/pkg/proc/reaper"
)

// ExitWatcher is the narrow slice of the process reactor the registry
// consumes; *reaper.Reaper satisfies it.
type ExitWatcher interface {
	Watch(pid int, fn reaper.WatchFunc) error
	Unwatch(pid int)
}

// Registry owns every live operation and a secondary per-scope index used
// for cascading teardown.
type Registry struct {
	log     *zap.Logger
	watcher ExitWatcher

	mu      sync.Mutex
	ops     map[xid.ID]*Operation
	byScope map[string]map[xid.ID]*Operation
}

// NewRegistry creates an empty registry dispatching through watcher.
func NewRegistry(log *zap.Logger, watcher ExitWatcher) *Registry {
	return &Registry{
		log:     log,
		watcher: watcher,
		ops:     map[xid.ID]*Operation{},
		byScope: map[string]map[xid.ID]*Operation{},
	}
}

// Option configures an operation at creation.
type Option func(*Operation)

// WithScope attaches the operation to a scope owner for cascading teardown.
func WithScope(scope string) Option {
	return func(o *Operation) {
		o.scope = scope
	}
}

// WithAuxFile hands an auxiliary descriptor to the operation; it is closed
// when the operation is released.
func WithAuxFile(f *os.File) Option {
	return func(o *Operation) {
		o.auxFile = f
	}
}

// WithDone installs a completion hook.
func WithDone(fn DoneFunc) Option {
	return func(o *Operation) {
		o.done = fn
	}
}

// Start registers a freshly forked child as an operation.
//
// On success the operation owns the child pid, the errno channel read end
// and any aux descriptor; the caller must not touch them again. If the exit
// watch cannot be registered, ownership is not taken and the caller remains
// responsible for reaping the child and closing the descriptors.
func (r *Registry) Start(pid int, errnoFile *os.File, req Request, opts ...Option) (*Operation, error) {
	switch {
	case pid <= 1:
		return nil, fmt.Errorf("%w: child pid %d", ErrInvariant, pid)
	case errnoFile == nil:
		return nil, fmt.Errorf("%w: no errno channel", ErrInvariant)
	case req.IsZero():
		return nil, fmt.Errorf("%w: request carries no transport", ErrInvariant)
	}

	o := &Operation{
		id:        xid.New(),
		registry:  r,
		request:   req,
		pid:       pid,
		errnoFile: errnoFile,
		finished:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.log = r.log.With(zap.Stringer("operation", o.id))

	// insert before arming the watch: the completion callback may fire
	// immediately and expects to find the operation registered
	r.insert(o)

	if err := r.watcher.Watch(pid, o.complete); err != nil {
		r.remove(o)

		return nil, fmt.Errorf("failed to watch child %d: %w", pid, err)
	}

	o.log.Debug("operation started",
		zap.Int("pid", pid),
		zap.String("scope", o.scope),
		zap.String("transport", req.Transport()))

	return o, nil
}

// Discard reaps pid through the exit watcher, dropping its status; used for
// a child which was forked but never became an operation. It fails if the
// watcher is shut down, in which case the caller must wait on the child
// itself.
func (r *Registry) Discard(pid int) error {
	return r.watcher.Watch(pid, func(reaper.ProcessInfo) {})
}

// Len returns the number of live operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.ops)
}

// LenScoped returns the number of live operations attached to scope.
func (r *Registry) LenScoped(scope string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byScope[scope])
}

// Scoped returns the live operations attached to scope.
func (r *Registry) Scoped(scope string) []*Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Values(r.byScope[scope])
}

// TeardownScope forcibly terminates every operation attached to scope and
// blocks until each child is reaped; requesters still parked on the
// operations are unparked with an abort error. It is called when the scope
// owner is being destroyed, before the owner itself disappears.
//
// It must not be called from the reactor goroutine or a completion hook.
func (r *Registry) TeardownScope(scope string) error {
	return r.teardown(r.Scoped(scope))
}

// Shutdown forcibly terminates every live operation; used when the whole
// registry is being destroyed.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	ops := maps.Values(r.ops)
	r.mu.Unlock()

	return r.teardown(ops)
}

func (r *Registry) teardown(ops []*Operation) error {
	var result *multierror.Error

	for _, o := range ops {
		if err := o.teardown(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (r *Registry) insert(o *Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops[o.id] = o

	if o.scope != "" {
		scoped, ok := r.byScope[o.scope]
		if !ok {
			scoped = map[xid.ID]*Operation{}
			r.byScope[o.scope] = scoped
		}

		scoped[o.id] = o
	}
}

func (r *Registry) remove(o *Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ops, o.id)

	if o.scope != "" {
		scoped := r.byScope[o.scope]

		delete(scoped, o.id)

		if len(scoped) == 0 {
			delete(r.byScope, o.scope)
		}
	}
}
