// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package manager_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/silo-systems/silod/internal/app/silod/pkg/helper"
	"github.com/silo-systems/silod/internal/app/silod/pkg/manager"
	"github.com/silo-systems/silod/internal/app/silod/pkg/operation"
	"github.com/silo-systems/silod/internal/pkg/errnopipe"
	"github.com/silo-systems/silod/pkg/proc/reaper"
)

// The test binary doubles as the helper the manager re-execs.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == manager.HelperCommand {
		helper.Main(os.Args[2:])
	}

	// the signal subscription goroutine outlives any single reaper
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

type ManagerSuite struct {
	suite.Suite

	reaper   *reaper.Reaper
	registry *operation.Registry
	manager  *manager.Manager
	root     string
}

func (suite *ManagerSuite) SetupTest() {
	suite.reaper = reaper.New()
	suite.reaper.Run()

	log := zaptest.NewLogger(suite.T())

	suite.registry = operation.NewRegistry(log, suite.reaper)
	suite.root = suite.T().TempDir()

	var err error

	suite.manager, err = manager.New(log, suite.root, suite.registry)
	suite.Require().NoError(err)
}

func (suite *ManagerSuite) TearDownTest() {
	suite.Require().NoError(suite.manager.Shutdown())

	suite.reaper.Shutdown()
}

func (suite *ManagerSuite) wait(future *operation.BusFuture) operation.BusReply {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := future.Wait(ctx)
	suite.Require().NoError(err)

	return reply
}

func (suite *ManagerSuite) populate(name string) string {
	s, err := suite.manager.Create(name)
	suite.Require().NoError(err)

	suite.Require().NoError(os.WriteFile(filepath.Join(s.Path(), "marker"), []byte("payload"), 0o644))

	return s.Path()
}

func (suite *ManagerSuite) TestCreateAndList() {
	suite.populate("base")
	suite.populate("alpha")

	suite.Assert().Equal([]string{"alpha", "base"}, suite.manager.List())

	_, err := suite.manager.Create("base")
	suite.Assert().Error(err)
}

func (suite *ManagerSuite) TestRemove() {
	path := suite.populate("doomed")

	req, future := operation.NewBusRequest()

	suite.Require().NoError(suite.manager.Remove("doomed", req))

	reply := suite.wait(future)

	suite.Assert().Nil(reply.Err)
	suite.Assert().NotContains(suite.manager.List(), "doomed")

	_, err := os.Lstat(path)
	suite.Assert().ErrorIs(err, os.ErrNotExist)

	suite.Assert().Zero(suite.manager.Operations())
}

func (suite *ManagerSuite) TestRemoveUnknownSilo() {
	req, _ := operation.NewBusRequest()

	suite.Assert().Error(suite.manager.Remove("never-created", req))
}

func (suite *ManagerSuite) TestRemoveChildFailure() {
	path := suite.populate("vanished")

	// pull the tree out from under the helper: the child reports ENOENT
	suite.Require().NoError(os.RemoveAll(path))

	req, future := operation.NewBusRequest()

	suite.Require().NoError(suite.manager.Remove("vanished", req))

	reply := suite.wait(future)

	suite.Require().NotNil(reply.Err)
	suite.Assert().Equal("io.silod.Error.Failed", reply.Err.Name)

	// failed removal keeps the silo registered
	suite.Assert().Contains(suite.manager.List(), "vanished")
}

func (suite *ManagerSuite) TestRemoveAbortsInFlightOperations() {
	suite.populate("busy")

	// a long-running operation already attached to the silo
	errnoR, errnoW, err := errnopipe.Pair()
	suite.Require().NoError(err)

	cmd := exec.Command("/bin/sh", "-c", "sleep 30")
	cmd.ExtraFiles = []*os.File{errnoW}

	suite.Require().NoError(cmd.Start())
	suite.Require().NoError(errnoW.Close())

	busyReq, busyFuture := operation.NewBusRequest()

	_, err = suite.registry.Start(cmd.Process.Pid, errnoR, busyReq, operation.WithScope("busy"))
	suite.Require().NoError(err)

	req, future := operation.NewBusRequest()

	suite.Require().NoError(suite.manager.Remove("busy", req))

	// the in-flight operation was aborted and its waiter unparked
	reply := suite.wait(busyFuture)

	suite.Require().NotNil(reply.Err)
	suite.Assert().Equal("io.silod.Error.Failed", reply.Err.Name)

	// the removal itself went through
	reply = suite.wait(future)

	suite.Assert().Nil(reply.Err)
	suite.Assert().NotContains(suite.manager.List(), "busy")
}

func (suite *ManagerSuite) TestClone() {
	suite.populate("base")

	req, future := operation.NewBusRequest()

	suite.Require().NoError(suite.manager.Clone("base", "copy", req))

	reply := suite.wait(future)

	suite.Require().Nil(reply.Err)
	suite.Require().Len(reply.Body, 1)

	path, ok := reply.Body[0].(string)
	suite.Require().True(ok)

	data, err := os.ReadFile(filepath.Join(path, "marker"))
	suite.Require().NoError(err)

	suite.Assert().Equal("payload", string(data))
	suite.Assert().Contains(suite.manager.List(), "copy")
}

func (suite *ManagerSuite) TestExport() {
	suite.populate("exportee")

	dest := filepath.Join(suite.T().TempDir(), "exportee.tar.gz")

	req, future := operation.NewBusRequest()

	suite.Require().NoError(suite.manager.Export("exportee", dest, req))

	reply := suite.wait(future)

	suite.Require().Nil(reply.Err)
	suite.Require().Len(reply.Body, 1)

	size, ok := reply.Body[0].(uint64)
	suite.Require().True(ok)
	suite.Assert().NotZero(size)

	info, err := os.Stat(dest)
	suite.Require().NoError(err)

	suite.Assert().Equal(int64(size), info.Size())
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}
