// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package server

import (
	"fmt"

	"github.com/varlink/go/varlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/silo-systems/silod/internal/app/silod/pkg/manager"
	"github.com/silo-systems/silod/internal/app/silod/pkg/operation"
)

const linkDescription = `# silod silo management
interface io.silod

method List() -> (silos: []string)

method Create(name: string) -> (path: string)

method Remove(name: string) -> ()

method Clone(source: string, destination: string) -> (path: string)

method Export(name: string, destination: string) -> (size: int)

error Failed (code: int, message: string)

error ChildCrashed (code: int, message: string)
`

// Link serves the manager API over Varlink.
type Link struct {
	log     *zap.Logger
	service *varlink.Service
}

// NewLink builds the Varlink service; call Listen to serve.
func NewLink(log *zap.Logger, mgr *manager.Manager, version string) (*Link, error) {
	service, err := varlink.NewService(
		"Silo Systems",
		"silod",
		version,
		"https://github.com/silo-systems/silod",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create varlink service: %w", err)
	}

	if err = service.RegisterInterface(&linkInterface{log: log, mgr: mgr}); err != nil {
		return nil, fmt.Errorf("failed to register io.silod: %w", err)
	}

	return &Link{
		log:     log,
		service: service,
	}, nil
}

// Listen serves until Shutdown is called.
func (l *Link) Listen(address string) error {
	l.log.Info("link transport up", zap.String("address", address))

	return l.service.Listen(address, 0)
}

// Shutdown stops the listener.
func (l *Link) Shutdown() {
	l.service.Shutdown()
}

// linkInterface dispatches io.silod calls; the method set mirrors the bus
// API. Async methods hold the service goroutine parked until the completion
// dispatcher wrote the reply to the call.
type linkInterface struct {
	log *zap.Logger
	mgr *manager.Manager
}

// VarlinkGetName implements the varlink interface contract.
func (s *linkInterface) VarlinkGetName() string {
	return "io.silod"
}

// VarlinkGetDescription implements the varlink interface contract.
func (s *linkInterface) VarlinkGetDescription() string {
	return linkDescription
}

// VarlinkDispatch implements the varlink interface contract.
func (s *linkInterface) VarlinkDispatch(call varlink.Call, methodname string) error {
	switch methodname {
	case "List":
		return call.Reply(&struct {
			Silos []string `json:"silos"`
		}{Silos: s.mgr.List()})

	case "Create":
		var in struct {
			Name string `json:"name"`
		}

		if err := call.GetParameters(&in); err != nil {
			return call.ReplyInvalidParameter("name")
		}

		created, err := s.mgr.Create(in.Name)
		if err != nil {
			return replySyncError(&call, err)
		}

		return call.Reply(&struct {
			Path string `json:"path"`
		}{Path: created.Path()})

	case "Remove":
		var in struct {
			Name string `json:"name"`
		}

		if err := call.GetParameters(&in); err != nil {
			return call.ReplyInvalidParameter("name")
		}

		req, done := operation.NewLinkRequest(&call)

		if err := s.mgr.Remove(in.Name, req); err != nil {
			return replySyncError(&call, err)
		}

		<-done

		return nil

	case "Clone":
		var in struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
		}

		if err := call.GetParameters(&in); err != nil {
			return call.ReplyInvalidParameter("source")
		}

		req, done := operation.NewLinkRequest(&cloneReplyShim{call: &call})

		if err := s.mgr.Clone(in.Source, in.Destination, req); err != nil {
			return replySyncError(&call, err)
		}

		<-done

		return nil

	case "Export":
		var in struct {
			Name        string `json:"name"`
			Destination string `json:"destination"`
		}

		if err := call.GetParameters(&in); err != nil {
			return call.ReplyInvalidParameter("name")
		}

		req, done := operation.NewLinkRequest(&exportReplyShim{call: &call})

		if err := s.mgr.Export(in.Name, in.Destination, req); err != nil {
			return replySyncError(&call, err)
		}

		<-done

		return nil

	default:
		return call.ReplyMethodNotFound(methodname)
	}
}

// replySyncError answers a call which failed before any child was forked.
func replySyncError(call *varlink.Call, err error) error {
	return call.ReplyError("io.silod.Failed", operation.LinkFailure{
		Code:    -int32(unix.EINVAL),
		Message: err.Error(),
	})
}

// cloneReplyShim shapes the clone hook's path payload into the method's
// return object.
type cloneReplyShim struct {
	call *varlink.Call
}

func (r *cloneReplyShim) Reply(parameters any) error {
	path, _ := parameters.(string) //nolint:errcheck

	return r.call.Reply(&struct {
		Path string `json:"path"`
	}{Path: path})
}

func (r *cloneReplyShim) ReplyError(name string, parameters any) error {
	return r.call.ReplyError(name, parameters)
}

// exportReplyShim shapes the export hook's size payload the same way.
type exportReplyShim struct {
	call *varlink.Call
}

func (r *exportReplyShim) Reply(parameters any) error {
	size, _ := parameters.(uint64) //nolint:errcheck

	return r.call.Reply(&struct {
		Size uint64 `json:"size"`
	}{Size: size})
}

func (r *exportReplyShim) ReplyError(name string, parameters any) error {
	return r.call.ReplyError(name, parameters)
}
