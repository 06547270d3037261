// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package silo models the managed resource silod supervises: a named rootfs
// tree under the silo root. Silos are the scope owners of operations; tearing
// one down cascades to every operation still attached to it.
package silo

import (
	"fmt"
	"path/filepath"
	"regexp"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Silo is one managed rootfs tree.
type Silo struct {
	name string
	path string
}

// New validates the name and binds it to its directory under root.
func New(root, name string) (*Silo, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid silo name %q", name)
	}

	return &Silo{
		name: name,
		path: filepath.Join(root, name),
	}, nil
}

// Name returns the silo name; it doubles as the operation scope key.
func (s *Silo) Name() string {
	return s.name
}

// Path returns the silo's rootfs directory.
func (s *Silo) Path() string {
	return s.path
}
