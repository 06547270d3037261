// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package operation

import "errors"

// errAlreadyReplied guards the at-most-once reply discipline inside the
// request variants; hitting it means the dispatcher or a completion hook
// tried to answer the same request twice.
var errAlreadyReplied = errors.New("request already replied to")

// replier is one transport variant of a pending request. Exactly two
// implementations exist: the bus variant and the link variant.
type replier interface {
	replySuccess(payload any) error
	replyError(err error) error
	transport() string
}

// Request is the pending RPC request an operation eventually answers.
//
// A Request can only be built through NewBusRequest or NewLinkRequest, so it
// always carries exactly one transport variant; the zero value is invalid
// and rejected at operation creation.
type Request struct {
	r replier
}

// IsZero reports whether the request carries no transport variant.
func (q Request) IsZero() bool {
	return q.r == nil
}

// Transport names the transport variant, for logs.
func (q Request) Transport() string {
	if q.r == nil {
		return "none"
	}

	return q.r.transport()
}

// ReplySuccess sends the success reply. Completion hooks answering the
// happy path themselves use this and then return Replied.
func (q Request) ReplySuccess(payload any) error {
	return q.r.replySuccess(payload)
}

// ReplyError sends the failure reply carrying the result's code and
// description.
func (q Request) ReplyError(err error) error {
	return q.r.replyError(err)
}

// Outcome is what a completion hook decided: either it already sent the
// success reply, or it wants a generic failure reply sent on its behalf.
type Outcome struct {
	replied bool
	err     error
}

// Replied indicates the hook sent the reply itself; the dispatcher stays
// silent.
func Replied() Outcome {
	return Outcome{replied: true}
}

// FailWith makes the dispatcher send a generic failure reply carrying err.
func FailWith(err error) Outcome {
	return Outcome{err: err}
}

// DoneFunc is an optional completion hook, invoked on the reactor goroutine
// with the operation and the computed result (nil on success) before any
// generic reply is sent.
type DoneFunc func(o *Operation, result error) Outcome
