// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestReserve(t *testing.T) {
	m, err := New(zaptest.NewLogger(t), t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, m.reserve("dup"))

	// a second reservation cannot pass the existence check, so concurrent
	// creates and clones to the same name cannot both fork
	assert.Error(t, m.reserve("dup"))

	_, err = m.Create("dup")
	assert.Error(t, err)

	m.unreserve("dup")

	require.NoError(t, m.reserve("dup"))
	m.unreserve("dup")
}

func TestReserveExisting(t *testing.T) {
	m, err := New(zaptest.NewLogger(t), t.TempDir(), nil)
	require.NoError(t, err)

	_, err = m.Create("taken")
	require.NoError(t, err)

	assert.Error(t, m.reserve("taken"))
}
