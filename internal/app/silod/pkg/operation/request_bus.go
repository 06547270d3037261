// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package operation

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

// D-Bus error names carried by failure replies.
const (
	busErrFailed  = "io.silod.Error.Failed"
	busErrCrashed = "io.silod.Error.ChildCrashed"
)

// BusReply is the terminal value of a bus request: a method-return body or
// a D-Bus error object.
type BusReply struct {
	Body []any
	Err  *dbus.Error
}

// BusFuture hands the reply back to the exported bus method, which parks on
// it until the dispatcher answers. godbus writes the wire reply when the
// handler returns, so the handler goroutine is the request handle here.
type BusFuture struct {
	ch chan BusReply
}

// Wait blocks until the reply is available or the context is done.
func (f *BusFuture) Wait(ctx context.Context) (BusReply, error) {
	select {
	case reply := <-f.ch:
		return reply, nil
	case <-ctx.Done():
		return BusReply{}, ctx.Err()
	}
}

// NewBusRequest creates the bus variant of a pending request.
func NewBusRequest() (Request, *BusFuture) {
	f := &BusFuture{
		ch: make(chan BusReply, 1),
	}

	return Request{r: &busRequest{future: f}}, f
}

type busRequest struct {
	replied atomic.Bool
	future  *BusFuture
}

func (b *busRequest) transport() string {
	return "bus"
}

func (b *busRequest) replySuccess(payload any) error {
	if !b.replied.CompareAndSwap(false, true) {
		return errAlreadyReplied
	}

	var body []any

	if payload != nil {
		body = []any{payload}
	}

	b.future.ch <- BusReply{Body: body}

	return nil
}

func (b *busRequest) replyError(err error) error {
	if !b.replied.CompareAndSwap(false, true) {
		return errAlreadyReplied
	}

	b.future.ch <- BusReply{Err: busError(err)}

	return nil
}

// busError maps a completion result to a D-Bus error object.
func busError(err error) *dbus.Error {
	name := busErrFailed

	var childErr *ChildError

	switch {
	case errors.Is(err, ErrAbnormalTermination):
		name = busErrCrashed
	case errors.As(err, &childErr):
		err = childErr.Errno()
	}

	return dbus.NewError(name, []any{err.Error()})
}
