// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package manager owns the silos and delegates the privileged work on them
// to forked helper children supervised as operations.
package manager

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/siderolabs/gen/maps"
	"go.uber.org/zap"

	"github.com/silo-systems/silod/internal/app/silod/pkg/helper"
	"github.com/silo-systems/silod/internal/app/silod/pkg/operation"
	"github.com/silo-systems/silod/internal/app/silod/pkg/silo"
)

// Manager tracks the silos under one root directory.
type Manager struct {
	log      *zap.Logger
	root     string
	registry *operation.Registry

	mu      sync.Mutex
	silos   map[string]*silo.Silo
	pending map[string]struct{}
}

// New creates a Manager over root, picking up silos already on disk.
func New(log *zap.Logger, root string, registry *operation.Registry) (*Manager, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create silo root: %w", err)
	}

	m := &Manager{
		log:      log,
		root:     root,
		registry: registry,
		silos:    map[string]*silo.Silo{},
		pending:  map[string]struct{}{},
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read silo root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		s, err := silo.New(root, entry.Name())
		if err != nil {
			log.Warn("skipping unmanageable directory in silo root", zap.String("name", entry.Name()))

			continue
		}

		m.silos[s.Name()] = s
	}

	return m, nil
}

// List returns the silo names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	names := maps.Keys(m.silos)
	m.mu.Unlock()

	sort.Strings(names)

	return names
}

// Operations returns the number of operations in flight.
func (m *Manager) Operations() int {
	return m.registry.Len()
}

// Create makes a new empty silo; this is cheap enough to run synchronously.
func (m *Manager) Create(name string) (*silo.Silo, error) {
	s, err := silo.New(m.root, name)
	if err != nil {
		return nil, err
	}

	if err = m.reserve(name); err != nil {
		return nil, err
	}

	defer m.unreserve(name)

	if err = os.Mkdir(s.Path(), 0o755); err != nil {
		return nil, err
	}

	m.adopt(s)

	m.log.Info("silo created", zap.String("silo", name))

	return s, nil
}

// Remove deletes a silo's tree in a helper child and answers req when the
// child finishes. Operations still attached to the silo are forcibly torn
// down first, the way a disappearing scope owner requires.
func (m *Manager) Remove(name string, req operation.Request) error {
	s, err := m.get(name)
	if err != nil {
		return err
	}

	if err = m.registry.TeardownScope(name); err != nil {
		m.log.Warn("teardown of in-flight operations failed", zap.String("silo", name), zap.Error(err))
	}

	done := func(o *operation.Operation, result error) operation.Outcome {
		if result != nil {
			return operation.FailWith(result)
		}

		m.drop(name)

		if err := o.Request().ReplySuccess(nil); err != nil {
			m.log.Error("failed to send removal reply", zap.Error(err))
		}

		return operation.Replied()
	}

	return m.startHelper(req, name, helper.VerbRemoveTree, []string{s.Path()}, nil, done)
}

// Clone copies an existing silo into a new one in a helper child; the
// success reply carries the new silo's path.
func (m *Manager) Clone(source, destination string, req operation.Request) error {
	src, err := m.get(source)
	if err != nil {
		return err
	}

	dst, err := silo.New(m.root, destination)
	if err != nil {
		return err
	}

	if err = m.reserve(destination); err != nil {
		return err
	}

	done := func(o *operation.Operation, result error) operation.Outcome {
		defer m.unreserve(destination)

		if result != nil {
			return operation.FailWith(result)
		}

		m.adopt(dst)

		if err := o.Request().ReplySuccess(dst.Path()); err != nil {
			m.log.Error("failed to send clone reply", zap.Error(err))
		}

		return operation.Replied()
	}

	if err = m.startHelper(req, destination, helper.VerbCloneTree, []string{src.Path(), dst.Path()}, nil, done); err != nil {
		m.unreserve(destination)

		return err
	}

	return nil
}

// Export streams a silo as a gzipped tarball to destination. The destination
// file is the operation's auxiliary descriptor: the child writes through its
// inherited copy while the parent's handle stays with the operation until
// completion.
func (m *Manager) Export(name, destination string, req operation.Request) error {
	s, err := m.get(name)
	if err != nil {
		return err
	}

	dest, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create export destination: %w", err)
	}

	done := func(o *operation.Operation, result error) operation.Outcome {
		if result != nil {
			return operation.FailWith(result)
		}

		var size uint64

		if info, err := o.AuxFile().Stat(); err == nil {
			size = uint64(info.Size())
		}

		m.log.Info("silo exported",
			zap.String("silo", name),
			zap.String("destination", destination),
			zap.String("size", humanize.Bytes(size)))

		if err := o.Request().ReplySuccess(size); err != nil {
			m.log.Error("failed to send export reply", zap.Error(err))
		}

		return operation.Replied()
	}

	if err = m.startHelper(req, name, helper.VerbExportTar, []string{s.Path()}, dest, done); err != nil {
		dest.Close()           //nolint:errcheck
		os.Remove(destination) //nolint:errcheck

		return err
	}

	return nil
}

// Shutdown forcibly tears down every operation still in flight.
func (m *Manager) Shutdown() error {
	return m.registry.Shutdown()
}

func (m *Manager) get(name string) (*silo.Silo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.silos[name]
	if !ok {
		return nil, fmt.Errorf("no silo named %q", name)
	}

	return s, nil
}

// reserve claims a name before the silo exists on disk, so concurrent
// creates and clones targeting the same name cannot both pass the
// existence check.
func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.silos[name]; ok {
		return fmt.Errorf("silo %q already exists", name)
	}

	if _, ok := m.pending[name]; ok {
		return fmt.Errorf("silo %q is already being created", name)
	}

	m.pending[name] = struct{}{}

	return nil
}

func (m *Manager) unreserve(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, name)
}

func (m *Manager) drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.silos, name)
}

func (m *Manager) adopt(s *silo.Silo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.silos[s.Name()] = s
}
