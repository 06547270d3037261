// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silo-systems/silod/internal/app/silod/pkg/config"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silod.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
siloRoot: /srv/silos
linkAddress: unix:/tmp/io.silod
debug: true
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/silos", cfg.SiloRoot)
	assert.Equal(t, "unix:/tmp/io.silod", cfg.LinkAddress)
	assert.Empty(t, cfg.BusAddress)
	assert.True(t, cfg.Debug)
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}

func TestLoadEmptyRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "silod.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`siloRoot: ""`), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.NotEmpty(t, cfg.SiloRoot)
	assert.NotEmpty(t, cfg.LinkAddress)
}
