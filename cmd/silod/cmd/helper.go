// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/silo-systems/silod/internal/app/silod/pkg/helper"
	"github.com/silo-systems/silod/internal/app/silod/pkg/manager"
)

// helperCmd is the daemon re-exec'd as a child: it runs one helper verb and
// reports failures over the inherited errno channel. Not for interactive use.
var helperCmd = &cobra.Command{
	Use:                manager.HelperCommand,
	Hidden:             true,
	DisableFlagParsing: true,
	Args:               cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		helper.Main(args)
	},
}

func init() {
	rootCmd.AddCommand(helperCmd)
}
