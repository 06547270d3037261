// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package errnopipe implements the one-shot error side channel between a
// forked helper child and the supervising daemon.
//
// The protocol is deliberately narrow: a child which succeeds writes nothing
// and exits zero; a child which fails writes a single native-endian int32
// holding a negated errno value and exits non-zero. The parent reads the
// channel only after the child terminated with a failure status.
package errnopipe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ErrShortRead signals that the channel held fewer bytes than a full code,
// typically because the child crashed before reporting.
var ErrShortRead = errors.New("short read on errno channel")

// codeSize is the wire size of one error code.
const codeSize = 4

// Pair creates the channel; the read end stays with the parent, the write
// end is inherited by the child.
func Pair() (r, w *os.File, err error) {
	return os.Pipe()
}

// ReadCode reads exactly one error code from the channel.
//
// The returned code is negative (a negated errno). An I/O failure is
// returned wrapped; an empty or truncated channel returns ErrShortRead.
func ReadCode(r io.Reader) (int32, error) {
	buf := make([]byte, codeSize)

	n, err := io.ReadFull(r, buf)

	switch {
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		return 0, fmt.Errorf("%w: got %d bytes", ErrShortRead, n)
	case err != nil:
		return 0, fmt.Errorf("failed to read errno channel: %w", err)
	}

	code := int32(binary.NativeEndian.Uint32(buf))

	if code >= 0 {
		// a non-negative code on the failure path is a confused child;
		// treat it like a generic I/O failure the way the wire protocol
		// treats any other malformed report
		return -int32(unix.EIO), nil
	}

	return code, nil
}

// WriteCode writes one error code to the channel.
func WriteCode(w io.Writer, code int32) error {
	buf := make([]byte, codeSize)

	binary.NativeEndian.PutUint32(buf, uint32(code))

	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("failed to write errno channel: %w", err)
	}

	if n != codeSize {
		return fmt.Errorf("short write on errno channel: %d bytes", n)
	}

	return nil
}

// Code converts an error into a negated errno suitable for the channel.
func Code(err error) int32 {
	var errno unix.Errno

	if errors.As(err, &errno) {
		return -int32(errno)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return -int32(unix.ENOENT)
	case errors.Is(err, fs.ErrExist):
		return -int32(unix.EEXIST)
	case errors.Is(err, fs.ErrPermission):
		return -int32(unix.EPERM)
	default:
		return -int32(unix.EIO)
	}
}

// ReportAndExit is the child-side half of the protocol: on success it exits
// zero without touching the channel, on failure it reports the error and
// exits non-zero. It never returns.
func ReportAndExit(w *os.File, err error) {
	if err == nil {
		os.Exit(0)
	}

	if w != nil {
		// the parent treats a failed report as a short read, nothing
		// more useful can be done from this side
		_ = WriteCode(w, Code(err)) //nolint:errcheck
		_ = w.Close()               //nolint:errcheck
	}

	os.Exit(1)
}
