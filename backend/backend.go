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

// Package backend defines the contract between the fatfs dispatcher and an
// implementation of actual FAT access. The dispatcher depends only on this
// contract, never on the on-disk FAT layout; see the gofs and mtools
// sub-packages for the two shipping implementations.
package backend

import (
	"errors"
	"io"
)

// ErrNotExist is returned by Volume opens and creates when the path does not
// name an object of the requested kind, including the case where the path
// names an object of the other kind. Any other error is a real I/O failure.
var ErrNotExist = errors.New("backend: no such file or directory")

// An Entry describes one object within a directory. FAT knows only two kinds
// of object, so a single flag suffices.
type Entry struct {
	// The name of the object within its parent.
	Name string

	// Whether the object is a directory (as opposed to a regular file).
	Dir bool
}

// A Dir is an open handle to a directory within the volume.
type Dir interface {
	// Entries lists the directory, excluding the "." and ".." entries that
	// FAT stores physically. The order is backend-defined but stable across
	// calls as long as the directory is not mutated.
	Entries() ([]Entry, error)
}

// A File is an open handle to a regular file within the volume. Handles are
// cheap and short-lived: the dispatcher opens a fresh one for every
// operation and never caches contents across calls.
type File interface {
	io.Reader
	io.Writer
	io.Seeker

	// Truncate changes the file's size to exactly size bytes, padding with
	// zeroes when growing.
	Truncate(size int64) error

	// Size reports the file's current byte length without disturbing the
	// handle's position.
	Size() (int64, error)
}

// A Volume provides access to one FAT filesystem. Paths are slash-separated
// and rooted at "/"; equality is component-wise.
//
// Implementations need not be safe for concurrent use. The dispatcher
// serializes every call behind a single exclusive lock.
type Volume interface {
	// Root opens the root directory.
	Root() (Dir, error)

	// OpenFile opens the regular file at the supplied path. Returns
	// ErrNotExist if the path does not name a regular file.
	OpenFile(path string) (File, error)

	// OpenDir opens the directory at the supplied path. Returns ErrNotExist
	// if the path does not name a directory.
	OpenDir(path string) (Dir, error)

	// CreateFile creates an empty regular file at the supplied path.
	CreateFile(path string) error

	// CreateDir creates an empty directory at the supplied path.
	CreateDir(path string) error

	// Close releases the volume. No other method may be called afterward.
	Close() error
}
