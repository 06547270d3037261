// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package operation supervises forked helper children: it watches each child
// through the process reactor, reads the failure code off the errno channel
// and delivers exactly one completion reply over the request's transport.
package operation

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/silo-systems/silod/pkg/proc/reaper"
)

// Operation tracks one delegated child process and its pending reply.
//
// Between creation and completion the operation exclusively owns the child
// pid, the errno channel read end and the optional aux file; no other
// component may read or close them.
type Operation struct {
	id       xid.ID
	scope    string
	registry *Registry
	request  Request
	done     DoneFunc
	log      *zap.Logger

	errnoFile *os.File
	auxFile   *os.File

	// guarded by registry.mu
	pid    int
	killed bool

	// closed once the operation is fully released
	finished chan struct{}
}

// ID returns the operation's registry identifier.
func (o *Operation) ID() xid.ID {
	return o.id
}

// Scope returns the scope owner key, empty if unscoped.
func (o *Operation) Scope() string {
	return o.scope
}

// Request returns the pending request; completion hooks use it to build
// custom success replies.
func (o *Operation) Request() Request {
	return o.request
}

// AuxFile returns the optional auxiliary descriptor handed over at creation,
// nil if absent. It stays valid until the operation is released.
func (o *Operation) AuxFile() *os.File {
	return o.auxFile
}

// complete runs on the reactor goroutine once the child has been reaped.
func (o *Operation) complete(info reaper.ProcessInfo) {
	o.registry.mu.Lock()
	// the child is reaped: clear the pid slot before anything
	// reply-related runs so no path can wait on it again
	o.pid = 0
	killed := o.killed
	o.registry.mu.Unlock()

	result := computeResult(info.Status, o.errnoFile)

	o.log.Debug("operation complete",
		zap.Int("pid", info.Pid),
		zap.Stringer("status", exitStatus(info.Status)),
		zap.Error(result))

	if killed {
		// forced teardown: the result is dropped, but a waiter may still
		// be parked on the transport and has to be unparked
		if err := o.request.ReplyError(ErrAborted); err != nil && !errors.Is(err, errAlreadyReplied) {
			o.log.Error("failed to send abort reply", zap.Error(err))
		}

		o.release()

		return
	}

	o.dispatch(result)
	o.release()
}

// dispatch sends exactly one reply for the computed result.
func (o *Operation) dispatch(result error) {
	if o.done != nil {
		outcome := o.done(o, result)

		if outcome.replied {
			return
		}

		err := outcome.err
		if err == nil {
			err = result
		}

		if err == nil {
			// a hook may not fail without a reason
			err = &ChildError{Code: -int32(unix.EIO)}
		}

		o.replyError(err)

		return
	}

	if result == nil {
		if err := o.request.ReplySuccess(nil); err != nil {
			o.log.Error("failed to send success reply", zap.Error(err))
		}

		return
	}

	o.replyError(result)
}

// replyError sends the failure reply; transport failures are terminal for
// the operation and only logged.
func (o *Operation) replyError(result error) {
	if err := o.request.ReplyError(result); err != nil {
		o.log.Error("failed to send failure reply", zap.Error(err))
	}
}

// release closes the descriptors, drops the operation from the registry
// indexes and unblocks any teardown waiter.
func (o *Operation) release() {
	if o.errnoFile != nil {
		o.errnoFile.Close() //nolint:errcheck
	}

	if o.auxFile != nil {
		o.auxFile.Close() //nolint:errcheck
	}

	o.registry.remove(o)

	close(o.finished)
}

// teardown forcibly terminates a still-running child and blocks until the
// reactor has reaped it and the completion path has run; the request is
// answered with ErrAborted instead of a result.
//
// It must not be called from the reactor goroutine.
func (o *Operation) teardown() error {
	o.registry.mu.Lock()

	pid := o.pid
	alreadyKilled := o.killed
	o.killed = true

	o.registry.mu.Unlock()

	var killErr error

	if pid > 1 && !alreadyKilled {
		// ESRCH just means the child beat us to the exit; the reactor
		// still delivers its real status
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			killErr = fmt.Errorf("failed to kill child %d: %w", pid, err)
		}
	}

	<-o.finished

	return killErr
}

// exitStatus renders a wait status for logs.
type exitStatus unix.WaitStatus

func (s exitStatus) String() string {
	status := unix.WaitStatus(s)

	switch {
	case status.Exited():
		return "exited=" + strconv.Itoa(status.ExitStatus())
	case status.Signaled():
		return "signaled=" + unix.SignalName(status.Signal())
	default:
		return "raw=" + strconv.Itoa(int(status))
	}
}
