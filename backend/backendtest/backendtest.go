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

// Package backendtest provides an in-memory implementation of the backend
// contract, for exercising the dispatcher without a disk image or external
// tools.
package backendtest

import (
	"errors"
	"io"
	gopath "path"
	"sort"
	"sync"

	"github.com/ByteOtter/nuFAT/backend"
)

var errInvalidSeek = errors.New("backendtest: invalid seek")

// A Volume keeps files and directories in maps. Listings are sorted by
// name, which satisfies the contract's call-stable order. The zero value is
// not usable; call New.
type Volume struct {
	mu sync.Mutex

	files map[string][]byte // GUARDED_BY(mu)
	dirs  map[string]bool   // GUARDED_BY(mu)

	// When non-nil, returned by every open and create. Lets tests simulate
	// a broken image.
	forcedErr error // GUARDED_BY(mu)
}

var _ backend.Volume = &Volume{}

func New() *Volume {
	return &Volume{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

////////////////////////////////////////////////////////////////////////
// Seeding and fault injection
////////////////////////////////////////////////////////////////////////

// AddFile seeds a file at the supplied path, replacing any previous one.
func (v *Volume) AddFile(p string, contents []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.files[clean(p)] = append([]byte(nil), contents...)
}

// AddDir seeds a directory at the supplied path.
func (v *Volume) AddDir(p string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dirs[clean(p)] = true
}

// Contents returns a copy of the file's current bytes, and whether the file
// exists at all.
func (v *Volume) Contents(p string) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	contents, ok := v.files[clean(p)]
	return append([]byte(nil), contents...), ok
}

// SetError makes every subsequent open and create fail with the supplied
// error. Pass nil to heal the volume.
func (v *Volume) SetError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.forcedErr = err
}

func clean(p string) string {
	return gopath.Join("/", p)
}

////////////////////////////////////////////////////////////////////////
// backend.Volume
////////////////////////////////////////////////////////////////////////

func (v *Volume) Close() error {
	return nil
}

func (v *Volume) Root() (backend.Dir, error) {
	return v.OpenDir("/")
}

func (v *Volume) OpenDir(p string) (backend.Dir, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.forcedErr != nil {
		return nil, v.forcedErr
	}

	p = clean(p)
	if !v.dirs[p] {
		return nil, backend.ErrNotExist
	}

	return &dirHandle{vol: v, path: p}, nil
}

func (v *Volume) OpenFile(p string) (backend.File, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.forcedErr != nil {
		return nil, v.forcedErr
	}

	p = clean(p)
	contents, ok := v.files[p]
	if !ok {
		return nil, backend.ErrNotExist
	}

	return &fileHandle{
		vol:  v,
		path: p,
		data: append([]byte(nil), contents...),
	}, nil
}

func (v *Volume) CreateFile(p string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.forcedErr != nil {
		return v.forcedErr
	}

	p = clean(p)
	if !v.dirs[gopath.Dir(p)] {
		return backend.ErrNotExist
	}

	v.files[p] = []byte{}
	return nil
}

func (v *Volume) CreateDir(p string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.forcedErr != nil {
		return v.forcedErr
	}

	p = clean(p)
	if !v.dirs[gopath.Dir(p)] {
		return backend.ErrNotExist
	}

	v.dirs[p] = true
	return nil
}

////////////////////////////////////////////////////////////////////////
// Handles
////////////////////////////////////////////////////////////////////////

type dirHandle struct {
	vol  *Volume
	path string
}

func (h *dirHandle) Entries() ([]backend.Entry, error) {
	h.vol.mu.Lock()
	defer h.vol.mu.Unlock()

	var entries []backend.Entry
	for p := range h.vol.files {
		if gopath.Dir(p) == h.path {
			entries = append(entries, backend.Entry{Name: gopath.Base(p)})
		}
	}

	for p := range h.vol.dirs {
		if p != "/" && gopath.Dir(p) == h.path {
			entries = append(entries, backend.Entry{
				Name: gopath.Base(p),
				Dir:  true,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries, nil
}

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
		return 0, errInvalidSeek
	}

	if abs < 0 {
		return 0, errInvalidSeek
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

	h.flush()
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
	}

	h.flush()
	return nil
}

func (h *fileHandle) flush() {
	h.vol.mu.Lock()
	defer h.vol.mu.Unlock()

	h.vol.files[h.path] = append([]byte(nil), h.data...)
}
