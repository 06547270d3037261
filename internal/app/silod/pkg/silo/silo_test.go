// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package silo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silo-systems/silod/internal/app/silod/pkg/silo"
)

func TestNew(t *testing.T) {
	s, err := silo.New("/var/lib/silod/silos", "base-2024.1")
	require.NoError(t, err)

	assert.Equal(t, "base-2024.1", s.Name())
	assert.Equal(t, "/var/lib/silod/silos/base-2024.1", s.Path())
}

func TestNewInvalidNames(t *testing.T) {
	for _, name := range []string{
		"",
		".",
		"..",
		"-leading-dash",
		"has/slash",
		"has space",
		"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long",
	} {
		_, err := silo.New("/root", name)

		assert.Error(t, err, "name %q", name)
	}
}
