// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package helper implements the verbs executed inside forked helper
// children. A helper does one unit of privileged filesystem work and reports
// failures to the parent over the errno channel; it never replies to the
// requester itself.
package helper

import (
	"fmt"
	"io"
	"os"

	"github.com/siderolabs/go-copy/copy"

	"github.com/silo-systems/silod/internal/pkg/errnopipe"
)

// Helper verbs.
const (
	VerbRemoveTree = "remove-tree"
	VerbCloneTree  = "clone-tree"
	VerbExportTar  = "export-tar"
)

// Main is the child-side entrypoint for a re-exec'd helper: args start at
// the verb, the errno channel write end is inherited on fd 3 and the
// auxiliary descriptor (for verbs taking one) on fd 4. It never returns.
func Main(args []string) {
	errno := os.NewFile(3, "errno-channel")

	if len(args) < 1 {
		errnopipe.ReportAndExit(errno, fmt.Errorf("missing helper verb"))
	}

	verb := args[0]

	var aux *os.File

	if verb == VerbExportTar {
		aux = os.NewFile(4, "aux")
	}

	errnopipe.ReportAndExit(errno, Run(verb, args[1:], aux))
}

// Run executes one helper verb. aux is the auxiliary descriptor inherited
// from the parent (nil when the verb takes none).
func Run(verb string, args []string, aux *os.File) error {
	switch verb {
	case VerbRemoveTree:
		if len(args) != 1 {
			return fmt.Errorf("%s takes one path, got %d args", verb, len(args))
		}

		return removeTree(args[0])
	case VerbCloneTree:
		if len(args) != 2 {
			return fmt.Errorf("%s takes source and destination, got %d args", verb, len(args))
		}

		return copy.Dir(args[0], args[1])
	case VerbExportTar:
		if len(args) != 1 {
			return fmt.Errorf("%s takes one path, got %d args", verb, len(args))
		}

		if aux == nil {
			return fmt.Errorf("%s requires the destination descriptor", verb)
		}

		return exportTar(args[0], aux)
	default:
		return fmt.Errorf("unknown helper verb %q", verb)
	}
}

// removeTree removes the whole tree; a missing tree is an error, matching
// the "no such entity" replies the requester expects.
func removeTree(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}

	return os.RemoveAll(path)
}

// exportTar streams the tree as a gzipped tarball into w.
func exportTar(path string, w io.Writer) error {
	if _, err := os.Lstat(path); err != nil {
		return err
	}

	return writeTar(path, w)
}
