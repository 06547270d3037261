// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package reaper implements a SIGCHLD-driven child process reactor.
//
// The reaper owns wait4() for the whole process: once it is running, no other
// code may wait on child processes. Exit notifications are delivered through
// one-shot per-pid watches; all watch callbacks are invoked serially on the
// reaper's dispatch goroutine.
package reaper

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// ProcessInfo describes a reaped child process.
type ProcessInfo struct {
	// Pid is the process ID of the child.
	Pid int
	// Status is the child's wait status.
	Status unix.WaitStatus
}

// WatchFunc is invoked exactly once when the watched child has been reaped.
type WatchFunc func(info ProcessInfo)

type watchReq struct {
	pid int
	fn  WatchFunc
	err chan error
}

type unwatchReq struct {
	pid  int
	done chan struct{}
}

// Reaper reaps child processes and dispatches their exit statuses.
type Reaper struct {
	sigs    chan os.Signal
	watch   chan watchReq
	unwatch chan unwatchReq
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a Reaper; call Run to start reaping.
func New() *Reaper {
	return &Reaper{
		sigs:    make(chan os.Signal, 8),
		watch:   make(chan watchReq),
		unwatch: make(chan unwatchReq),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run subscribes to SIGCHLD and starts the dispatch goroutine.
func (r *Reaper) Run() {
	signal.Notify(r.sigs, unix.SIGCHLD)

	go r.run()
}

// Shutdown stops reaping and releases the signal subscription.
//
// Watches still registered are discarded without being fired.
func (r *Reaper) Shutdown() {
	signal.Stop(r.sigs)

	close(r.stop)

	<-r.stopped
}

// Watch registers a one-shot exit watch for pid.
//
// If the child was already reaped, the watch fires immediately on the
// dispatch goroutine. Registering a second watch for the same pid replaces
// the first. Watch fails only if the reaper is shut down.
func (r *Reaper) Watch(pid int, fn WatchFunc) error {
	req := watchReq{
		pid: pid,
		fn:  fn,
		err: make(chan error, 1),
	}

	select {
	case r.watch <- req:
		return <-req.err
	case <-r.stop:
		return fmt.Errorf("reaper is shut down")
	}
}

// Unwatch drops the watch (and any buffered exit) for pid.
func (r *Reaper) Unwatch(pid int) {
	req := unwatchReq{
		pid:  pid,
		done: make(chan struct{}),
	}

	select {
	case r.unwatch <- req:
		<-req.done
	case <-r.stop:
	}
}

// run is the dispatch loop; it is the only goroutine touching the watch and
// pending maps, so no locking is required.
func (r *Reaper) run() {
	defer close(r.stopped)

	watches := map[int]WatchFunc{}
	pending := map[int]ProcessInfo{}

	// children may have exited before the signal subscription was set up
	r.reap(watches, pending)

	for {
		select {
		case <-r.sigs:
			r.reap(watches, pending)
		case req := <-r.watch:
			if info, ok := pending[req.pid]; ok {
				delete(pending, req.pid)

				req.err <- nil

				req.fn(info)

				continue
			}

			watches[req.pid] = req.fn
			req.err <- nil
		case req := <-r.unwatch:
			delete(watches, req.pid)
			delete(pending, req.pid)

			close(req.done)
		case <-r.stop:
			return
		}
	}
}

// reap collects every terminated child and dispatches exit notifications.
//
// A pid is reaped exactly once, so a watch can never fire twice; exits
// without a registered watch are buffered until Watch or Unwatch claims them.
func (r *Reaper) reap(watches map[int]WatchFunc, pending map[int]ProcessInfo) {
	for {
		var status unix.WaitStatus

		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)

		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD, pid <= 0, err != nil:
			return
		}

		info := ProcessInfo{
			Pid:    pid,
			Status: status,
		}

		if fn, ok := watches[pid]; ok {
			delete(watches, pid)

			fn(info)
		} else {
			pending[pid] = info
		}
	}
}
