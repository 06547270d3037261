// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package silod wires the daemon together: the process reactor, the
// operation registry, the silo manager and the two RPC transports.
package silod

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/silo-systems/silod/internal/app/silod/pkg/config"
	"github.com/silo-systems/silod/internal/app/silod/pkg/manager"
	"github.com/silo-systems/silod/internal/app/silod/pkg/operation"
	"github.com/silo-systems/silod/internal/app/silod/pkg/server"
	"github.com/silo-systems/silod/pkg/proc/reaper"
)

// Version is set at build time.
var Version = "devel"

// Run starts the daemon and blocks until ctx is canceled.
//
// Teardown order matters: transports first so no new operations arrive,
// then the registry (kill-and-reap of live children), then the reactor.
func Run(ctx context.Context, log *zap.Logger, cfg *config.Config) error {
	r := reaper.New()
	r.Run()

	defer r.Shutdown()

	registry := operation.NewRegistry(log.Named("operation"), r)

	mgr, err := manager.New(log.Named("manager"), cfg.SiloRoot, registry)
	if err != nil {
		return err
	}

	defer func() {
		if err := mgr.Shutdown(); err != nil {
			log.Warn("operation teardown failed", zap.Error(err))
		}
	}()

	bus, err := server.NewBus(log.Named("bus"), mgr, cfg.BusAddress)
	if err != nil {
		return err
	}

	defer bus.Close() //nolint:errcheck

	link, err := server.NewLink(log.Named("link"), mgr, Version)
	if err != nil {
		return err
	}

	log.Info("silod started",
		zap.String("version", Version),
		zap.String("siloRoot", cfg.SiloRoot),
		zap.String("linkAddress", cfg.LinkAddress))

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		err := link.Listen(cfg.LinkAddress)

		// a listener failing after shutdown was requested is not an error
		if ctx.Err() != nil {
			return nil
		}

		return err
	})

	eg.Go(func() error {
		<-ctx.Done()

		link.Shutdown()

		return nil
	})

	return eg.Wait()
}
