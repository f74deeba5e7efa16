// Copyright 2025 the nuFAT authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mtools implements the backend contract by shelling out to the
// mtools binaries (mdir, mcopy, mmd) once per call. It exists for hosts
// where touching the image with in-process FAT code is undesirable; the
// dispatcher does not care which implementation it drives.
package mtools

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	gopath "path"
	"strings"

	"github.com/ByteOtter/nuFAT/backend"
)

// A Runner executes one external command, feeding it stdin when non-nil and
// returning its stdout. The default runner invokes the real binaries; tests
// substitute their own.
type Runner func(stdin []byte, name string, args ...string) ([]byte, error)

type Volume struct {
	image string
	run   Runner
}

var _ backend.Volume = &Volume{}

// Open wraps the FAT disk image at the supplied path. The image itself is
// only ever touched by the mtools subprocesses, so all this verifies up
// front is that it exists.
func Open(imagePath string) (*Volume, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("stat disk image: %w", err)
	}

	return NewWithRunner(imagePath, runCommand), nil
}

// NewWithRunner is Open with a substitute command runner, for tests.
func NewWithRunner(imagePath string, run Runner) *Volume {
	return &Volume{
		image: imagePath,
		run:   run,
	}
}

func runCommand(stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The command ran and refused. Whether that means a missing path
			// or a real failure depends on which command it was, so the
			// caller decides; the detail rides along from stderr.
			return nil, fmt.Errorf(
				"%w: %s: %s",
				errExitStatus,
				name,
				strings.TrimSpace(stderr.String()))
		}

		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	return stdout.Bytes(), nil
}

// errExitStatus marks a command that ran and exited nonzero, as opposed to
// one that could not be started at all.
var errExitStatus = errors.New("mtools: nonzero exit")

// Map a nonzero exit from a classification probe onto the missing-object
// error. The probes (mdir listings, plain mcopy reads) fail by exit status
// exactly when the path does not name the requested kind of object. Any
// other failure, including a failed rewrite, propagates unwrapped so it
// surfaces as an I/O error.
func classifyExit(err error) error {
	if errors.Is(err, errExitStatus) {
		return fmt.Errorf("%w: %v", backend.ErrNotExist, err)
	}

	return err
}

// mtools addresses paths inside the image as "::/PATH".
func target(p string) string {
	return "::" + p
}

func (v *Volume) Close() error {
	return nil
}

func (v *Volume) Root() (backend.Dir, error) {
	return v.OpenDir("/")
}

func (v *Volume) OpenDir(p string) (backend.Dir, error) {
	// The trailing slash makes mdir fail on a path that names a file.
	out, err := v.run(nil, "mdir", "-i", v.image, "-b",
		target(strings.TrimSuffix(p, "/")+"/"))
	if err != nil {
		return nil, classifyExit(err)
	}

	return &dirHandle{entries: parseBareListing(out)}, nil
}

func (v *Volume) OpenFile(p string) (backend.File, error) {
	// mcopy refuses directories without -s, so success also classifies the
	// path as a regular file.
	data, err := v.run(nil, "mcopy", "-i", v.image, target(p), "-")
	if err != nil {
		return nil, classifyExit(err)
	}

	return &fileHandle{
		vol:  v,
		path: p,
		data: data,
	}, nil
}

func (v *Volume) CreateFile(p string) error {
	_, err := v.run([]byte{}, "mcopy", "-i", v.image, "-o", "-", target(p))
	return err
}

func (v *Volume) CreateDir(p string) error {
	_, err := v.run(nil, "mmd", "-i", v.image, target(p))
	return err
}

// Parse the output of "mdir -b": one path per line, prefixed with "::", with
// a trailing slash marking directories.
func parseBareListing(out []byte) []backend.Entry {
	var entries []backend.Entry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "::")
		if line == "" || line == "/" {
			continue
		}

		isDir := strings.HasSuffix(line, "/")
		name := gopath.Base(strings.TrimSuffix(line, "/"))
		if name == "." || name == ".." {
			continue
		}

		entries = append(entries, backend.Entry{
			Name: name,
			Dir:  isDir,
		})
	}

	return entries
}

////////////////////////////////////////////////////////////////////////
// Handles
////////////////////////////////////////////////////////////////////////

type dirHandle struct {
	entries []backend.Entry
}

func (h *dirHandle) Entries() ([]backend.Entry, error) {
	return h.entries, nil
}

// A fileHandle stages the whole file in memory for the duration of one
// operation. mtools has no partial-write primitive, so every mutation
// rewrites the file in the image immediately; nothing survives the handle.
type fileHandle struct {
	vol  *Volume
	path string
	data []byte
	pos  int64
}

func (h *fileHandle) Size() (int64, error) {
	return int64(len(h.data)), nil
}

func (h *fileHandle) Read(p []byte) (int, error) {
	if h.pos >= int64(len(h.data)) {
		return 0, io.EOF
	}

	n := copy(p, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}

func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = h.pos + offset
	case io.SeekEnd:
		abs = int64(len(h.data)) + offset
	default:
		return 0, fmt.Errorf("seek %q: invalid whence %d", h.path, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("seek %q: negative position", h.path)
	}

	h.pos = abs
	return abs, nil
}

func (h *fileHandle) Write(p []byte) (int, error) {
	end := h.pos + int64(len(p))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}

	copy(h.data[h.pos:end], p)
	h.pos = end

	if err := h.flush(); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (h *fileHandle) Truncate(size int64) error {
	switch {
	case size < int64(len(h.data)):
		h.data = h.data[:size]
	case size > int64(len(h.data)):
		grown := make([]byte, size)
		copy(grown, h.data)
		h.data = grown
	default:
		return nil
	}

	return h.flush()
}

func (h *fileHandle) flush() error {
	data := h.data
	if data == nil {
		data = []byte{}
	}

	_, err := h.vol.run(data, "mcopy", "-i", h.vol.image, "-o", "-",
		target(h.path))
	return err
}
