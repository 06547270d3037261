// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package operation

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/silo-systems/silod/internal/pkg/errnopipe"
)

// ErrAbnormalTermination is the result of a child which was signaled or
// dumped core instead of exiting.
var ErrAbnormalTermination = errors.New("child process terminated abnormally")

// ErrAborted is the reply delivered to a waiter whose operation was forcibly
// torn down before the child finished its work.
var ErrAborted = errors.New("operation aborted")

// ErrInvariant marks a programming error caught at operation construction.
var ErrInvariant = errors.New("operation invariant violation")

// ChildError is a failure code reported by the child over the errno channel.
type ChildError struct {
	Code int32
}

// Errno returns the reported code as an errno value.
func (e *ChildError) Errno() unix.Errno {
	return unix.Errno(-e.Code)
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child process failed: %s", e.Errno().Error())
}

// CodeOf flattens a completion result into the numeric code carried by
// failure replies.
func CodeOf(err error) int32 {
	var childErr *ChildError

	switch {
	case err == nil:
		return 0
	case errors.As(err, &childErr):
		return childErr.Code
	case errors.Is(err, ErrAbnormalTermination):
		return -int32(unix.ESHUTDOWN)
	case errors.Is(err, ErrAborted):
		return -int32(unix.ECANCELED)
	default:
		// covers errno channel short reads and read failures
		return -int32(unix.EIO)
	}
}

// computeResult runs the parent side of the errno channel protocol once the
// reactor confirmed termination.
func computeResult(status unix.WaitStatus, errnoR io.Reader) error {
	if !status.Exited() {
		return ErrAbnormalTermination
	}

	if status.ExitStatus() == 0 {
		return nil
	}

	code, err := errnopipe.ReadCode(errnoR)
	if err != nil {
		return err
	}

	return &ChildError{Code: code}
}
