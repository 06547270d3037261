// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package server exposes the manager over the two RPC transports: the bus
// (D-Bus) and the link (Varlink).
package server

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/silo-systems/silod/internal/app/silod/pkg/manager"
	"github.com/silo-systems/silod/internal/app/silod/pkg/operation"
)

const (
	busName      = "io.silod.Manager"
	busPath      = dbus.ObjectPath("/io/silod/Manager")
	busInterface = "io.silod.Manager"
)

// Bus serves the manager API on a D-Bus connection.
type Bus struct {
	conn *dbus.Conn
}

// NewBus connects to the bus (the system bus unless address overrides it),
// claims the well-known name and exports the manager API.
//
// The broker may still be starting when silod does, so the connection is
// retried with exponential backoff.
func NewBus(log *zap.Logger, mgr *manager.Manager, address string) (*Bus, error) {
	var conn *dbus.Conn

	err := backoff.Retry(func() error {
		var err error

		conn, err = connectBus(address)
		if err != nil {
			log.Debug("bus connection attempt failed", zap.Error(err))
		}

		return err
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close() //nolint:errcheck

		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close() //nolint:errcheck

		return nil, fmt.Errorf("bus name %s already taken", busName)
	}

	api := &busAPI{
		log: log,
		mgr: mgr,
	}

	if err = conn.Export(api, busPath, busInterface); err != nil {
		conn.Close() //nolint:errcheck

		return nil, fmt.Errorf("failed to export manager API: %w", err)
	}

	log.Info("bus transport up", zap.String("name", busName))

	return &Bus{conn: conn}, nil
}

func connectBus(address string) (*dbus.Conn, error) {
	if address == "" {
		return dbus.ConnectSystemBus()
	}

	conn, err := dbus.Dial(address)
	if err != nil {
		return nil, err
	}

	if err = conn.Auth(nil); err != nil {
		conn.Close() //nolint:errcheck

		return nil, err
	}

	if err = conn.Hello(); err != nil {
		conn.Close() //nolint:errcheck

		return nil, err
	}

	return conn, nil
}

// Close drops off the bus.
func (b *Bus) Close() error {
	return b.conn.Close()
}

// busAPI is the exported D-Bus object. godbus runs each method call on its
// own goroutine and sends the wire reply when the method returns, so the
// async methods park on the operation's future until the dispatcher answers.
type busAPI struct {
	log *zap.Logger
	mgr *manager.Manager
}

// ListSilos returns the silo names.
func (a *busAPI) ListSilos() ([]string, *dbus.Error) {
	return a.mgr.List(), nil
}

// CountOperations returns the number of operations in flight.
func (a *busAPI) CountOperations() (uint32, *dbus.Error) {
	return uint32(a.mgr.Operations()), nil
}

// CreateSilo makes a new empty silo and returns its path.
func (a *busAPI) CreateSilo(name string) (string, *dbus.Error) {
	s, err := a.mgr.Create(name)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	return s.Path(), nil
}

// RemoveSilo deletes a silo; the reply is sent when the helper child
// finishes.
func (a *busAPI) RemoveSilo(name string) *dbus.Error {
	req, future := operation.NewBusRequest()

	if err := a.mgr.Remove(name, req); err != nil {
		return dbus.MakeFailedError(err)
	}

	reply, err := future.Wait(context.Background())
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	return reply.Err
}

// CloneSilo copies a silo and returns the new silo's path.
func (a *busAPI) CloneSilo(source, destination string) (string, *dbus.Error) {
	req, future := operation.NewBusRequest()

	if err := a.mgr.Clone(source, destination, req); err != nil {
		return "", dbus.MakeFailedError(err)
	}

	reply, err := future.Wait(context.Background())
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	if reply.Err != nil {
		return "", reply.Err
	}

	path, _ := reply.Body[0].(string) //nolint:errcheck

	return path, nil
}

// ExportSilo archives a silo to destination and returns the archive size.
func (a *busAPI) ExportSilo(name, destination string) (uint64, *dbus.Error) {
	req, future := operation.NewBusRequest()

	if err := a.mgr.Export(name, destination, req); err != nil {
		return 0, dbus.MakeFailedError(err)
	}

	reply, err := future.Wait(context.Background())
	if err != nil {
		return 0, dbus.MakeFailedError(err)
	}

	if reply.Err != nil {
		return 0, reply.Err
	}

	size, _ := reply.Body[0].(uint64) //nolint:errcheck

	return size, nil
}
