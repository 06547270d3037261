// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package manager

import (
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/silo-systems/silod/internal/app/silod/pkg/operation"
	"github.com/silo-systems/silod/internal/pkg/errnopipe"
)

// HelperCommand is the argv[1] the daemon re-execs itself with to run a
// helper verb; the errno channel write end is on fd 3, the auxiliary
// descriptor (if any) on fd 4.
const HelperCommand = "helper"

// startHelper forks a helper child and registers it as an operation scoped
// to scope. On any error the child is not left behind and req remains
// unanswered (the transport layer reports the error synchronously instead).
func (m *Manager) startHelper(req operation.Request, scope, verb string, args []string, aux *os.File, done operation.DoneFunc) error {
	errnoR, errnoW, err := errnopipe.Pair()
	if err != nil {
		return fmt.Errorf("failed to create errno channel: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		errnoR.Close() //nolint:errcheck
		errnoW.Close() //nolint:errcheck

		return err
	}

	cmd := exec.Command(exe, append([]string{HelperCommand, verb}, args...)...)
	cmd.ExtraFiles = []*os.File{errnoW}

	if aux != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, aux)
	}

	if err = cmd.Start(); err != nil {
		errnoR.Close() //nolint:errcheck
		errnoW.Close() //nolint:errcheck

		return fmt.Errorf("failed to fork helper: %w", err)
	}

	// the child holds its own copy now
	errnoW.Close() //nolint:errcheck

	opts := []operation.Option{operation.WithScope(scope), operation.WithDone(done)}

	if aux != nil {
		opts = append(opts, operation.WithAuxFile(aux))
	}

	o, err := m.registry.Start(cmd.Process.Pid, errnoR, req, opts...)
	if err != nil {
		// ownership was not taken: reap the child through the reactor,
		// which owns wait4, and release the channel
		m.log.Error("failed to register operation", zap.String("verb", verb), zap.Error(err))

		cmd.Process.Kill() //nolint:errcheck

		if discardErr := m.registry.Discard(cmd.Process.Pid); discardErr != nil {
			// the reactor is gone, so nothing races a direct wait
			go cmd.Wait() //nolint:errcheck
		}

		errnoR.Close() //nolint:errcheck

		return err
	}

	m.log.Debug("helper started",
		zap.Stringer("operation", o.ID()),
		zap.String("verb", verb),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("scope", scope))

	return nil
}
