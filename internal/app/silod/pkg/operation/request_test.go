// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeLinkCall struct {
	payload   any
	errName   string
	errParams any
	calls     int
}

func (f *fakeLinkCall) Reply(parameters any) error {
	f.payload = parameters
	f.calls++

	return nil
}

func (f *fakeLinkCall) ReplyError(name string, parameters any) error {
	f.errName = name
	f.errParams = parameters
	f.calls++

	return nil
}

func TestBusRequestSuccess(t *testing.T) {
	req, future := NewBusRequest()

	require.NoError(t, req.ReplySuccess("/var/lib/silod/silos/base"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := future.Wait(ctx)
	require.NoError(t, err)

	assert.Nil(t, reply.Err)
	assert.Equal(t, []any{"/var/lib/silod/silos/base"}, reply.Body)
}

func TestBusRequestError(t *testing.T) {
	req, future := NewBusRequest()

	require.NoError(t, req.ReplyError(&ChildError{Code: -int32(unix.ENOENT)}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := future.Wait(ctx)
	require.NoError(t, err)

	require.NotNil(t, reply.Err)
	assert.Equal(t, "io.silod.Error.Failed", reply.Err.Name)
	assert.Equal(t, []any{unix.ENOENT.Error()}, []any(reply.Err.Body))
}

func TestBusRequestCrashedName(t *testing.T) {
	req, future := NewBusRequest()

	require.NoError(t, req.ReplyError(ErrAbnormalTermination))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := future.Wait(ctx)
	require.NoError(t, err)

	require.NotNil(t, reply.Err)
	assert.Equal(t, "io.silod.Error.ChildCrashed", reply.Err.Name)
}

func TestBusRequestAtMostOnce(t *testing.T) {
	req, _ := NewBusRequest()

	require.NoError(t, req.ReplySuccess(nil))

	assert.ErrorIs(t, req.ReplySuccess(nil), errAlreadyReplied)
	assert.ErrorIs(t, req.ReplyError(errors.New("nope")), errAlreadyReplied)
}

func TestLinkRequestSuccess(t *testing.T) {
	call := &fakeLinkCall{}

	req, done := NewLinkRequest(call)

	require.NoError(t, req.ReplySuccess(map[string]string{"path": "/silos/base"}))

	select {
	case <-done:
	default:
		t.Fatal("done channel not closed after reply")
	}

	assert.Equal(t, 1, call.calls)
	assert.Equal(t, map[string]string{"path": "/silos/base"}, call.payload)
}

func TestLinkRequestError(t *testing.T) {
	call := &fakeLinkCall{}

	req, done := NewLinkRequest(call)

	require.NoError(t, req.ReplyError(&ChildError{Code: -int32(unix.ENOENT)}))

	<-done

	assert.Equal(t, "io.silod.Failed", call.errName)
	assert.Equal(t, LinkFailure{
		Code:    -int32(unix.ENOENT),
		Message: unix.ENOENT.Error(),
	}, call.errParams)
}

func TestLinkRequestCrashed(t *testing.T) {
	call := &fakeLinkCall{}

	req, done := NewLinkRequest(call)

	require.NoError(t, req.ReplyError(ErrAbnormalTermination))

	<-done

	assert.Equal(t, "io.silod.ChildCrashed", call.errName)
}

func TestLinkRequestAtMostOnce(t *testing.T) {
	call := &fakeLinkCall{}

	req, _ := NewLinkRequest(call)

	require.NoError(t, req.ReplySuccess(nil))

	assert.ErrorIs(t, req.ReplySuccess(nil), errAlreadyReplied)
	assert.Equal(t, 1, call.calls)
}

func TestRequestZeroValue(t *testing.T) {
	var req Request

	assert.True(t, req.IsZero())
	assert.Equal(t, "none", req.Transport())
}

func TestCodeOf(t *testing.T) {
	assert.Zero(t, CodeOf(nil))
	assert.Equal(t, -int32(unix.ENOENT), CodeOf(&ChildError{Code: -int32(unix.ENOENT)}))
	assert.Equal(t, -int32(unix.ESHUTDOWN), CodeOf(ErrAbnormalTermination))
	assert.Equal(t, -int32(unix.ECANCELED), CodeOf(ErrAborted))
	assert.Equal(t, -int32(unix.EIO), CodeOf(errors.New("anything else")))
}
