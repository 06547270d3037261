// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package operation

import (
	"errors"
	"sync/atomic"
)

// Varlink error names carried by failure replies.
const (
	linkErrFailed  = "io.silod.Failed"
	linkErrCrashed = "io.silod.ChildCrashed"
)

// LinkCall is the slice of a Varlink service call the dispatcher needs;
// *varlink.Call satisfies it.
type LinkCall interface {
	Reply(parameters any) error
	ReplyError(name string, parameters any) error
}

// LinkFailure is the parameter object of a Varlink failure reply.
type LinkFailure struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// NewLinkRequest creates the link (Varlink) variant of a pending request.
//
// Replies are written directly to the call from the reactor goroutine; the
// returned channel is closed once the reply went out, and the service method
// holding the call must not return before that.
func NewLinkRequest(call LinkCall) (Request, <-chan struct{}) {
	l := &linkRequest{
		call: call,
		done: make(chan struct{}),
	}

	return Request{r: l}, l.done
}

type linkRequest struct {
	replied atomic.Bool
	call    LinkCall
	done    chan struct{}
}

func (l *linkRequest) transport() string {
	return "link"
}

func (l *linkRequest) replySuccess(payload any) error {
	if !l.replied.CompareAndSwap(false, true) {
		return errAlreadyReplied
	}

	defer close(l.done)

	return l.call.Reply(payload)
}

func (l *linkRequest) replyError(err error) error {
	if !l.replied.CompareAndSwap(false, true) {
		return errAlreadyReplied
	}

	defer close(l.done)

	code := CodeOf(err)
	name := linkErrFailed
	message := err.Error()

	var childErr *ChildError

	switch {
	case errors.Is(err, ErrAbnormalTermination):
		name = linkErrCrashed
	case errors.As(err, &childErr):
		message = childErr.Errno().Error()
	}

	return l.call.ReplyError(name, LinkFailure{
		Code:    code,
		Message: message,
	})
}
