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

// Package gofs implements the backend contract in process, on top of the
// go-fs FAT library.
package gofs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ByteOtter/nuFAT/backend"
	gofs "github.com/mitchellh/go-fs"
	"github.com/mitchellh/go-fs/fat"
)

type volume struct {
	img   *os.File
	fatFS *fat.FileSystem
}

// Open opens the FAT disk image at the supplied path for reading and
// writing. A failure here is the one fatal condition of a mount.
func Open(imagePath string) (backend.Volume, error) {
	img, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open disk image: %w", err)
	}

	device, err := gofs.NewFileDisk(img)
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("open block device: %w", err)
	}

	fatFS, err := fat.New(device)
	if err != nil {
		img.Close()
		return nil, fmt.Errorf("read FAT filesystem: %w", err)
	}

	return &volume{
		img:   img,
		fatFS: fatFS,
	}, nil
}

// The size a freshly created image is grown to before formatting. Large
// enough for a comfortable FAT16 cluster count, small enough to stay a
// sparse file on any modern filesystem.
const formatImageSize = 16 << 20

// Format overwrites the image at the supplied path with a fresh FAT
// super-floppy filesystem carrying the supplied volume label. A missing or
// empty image file is created and sized first.
func Format(imagePath string, label string) error {
	img, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open disk image: %w", err)
	}
	defer img.Close()

	fi, err := img.Stat()
	if err != nil {
		return fmt.Errorf("stat disk image: %w", err)
	}
	if fi.Size() == 0 {
		if err := img.Truncate(formatImageSize); err != nil {
			return fmt.Errorf("size disk image: %w", err)
		}
	}

	device, err := gofs.NewFileDisk(img)
	if err != nil {
		return fmt.Errorf("open block device: %w", err)
	}

	cfg := &fat.SuperFloppyConfig{
		FATType: fat.FAT16,
		Label:   label,
		OEMName: "nufat",
	}
	if err := fat.FormatSuperFloppy(device, cfg); err != nil {
		return fmt.Errorf("format: %w", err)
	}

	return nil
}

func (v *volume) Close() error {
	return v.img.Close()
}

// Walk to the directory containing the final component of p, returning that
// directory and the component. For p == "/" the root is returned with an
// empty name.
func (v *volume) walkParent(p string) (gofs.Directory, string, error) {
	dir, err := v.fatFS.RootDir()
	if err != nil {
		return nil, "", err
	}

	clean := strings.Trim(p, "/")
	if clean == "" {
		return dir, "", nil
	}

	components := strings.Split(clean, "/")
	for _, c := range components[:len(components)-1] {
		entry := dir.Entry(c)
		if entry == nil || !entry.IsDir() {
			return nil, "", backend.ErrNotExist
		}

		dir, err = entry.Dir()
		if err != nil {
			return nil, "", err
		}
	}

	return dir, components[len(components)-1], nil
}

func (v *volume) Root() (backend.Dir, error) {
	d, err := v.fatFS.RootDir()
	if err != nil {
		return nil, err
	}

	return &dirHandle{d}, nil
}

func (v *volume) OpenFile(p string) (backend.File, error) {
	dir, name, err := v.walkParent(p)
	if err != nil {
		return nil, err
	}

	// The root is not a file.
	if name == "" {
		return nil, backend.ErrNotExist
	}

	entry := dir.Entry(name)
	if entry == nil || entry.IsDir() {
		return nil, backend.ErrNotExist
	}

	f, err := entry.File()
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", p, err)
	}

	return &fileHandle{
		dir:  dir,
		name: name,
		path: p,
		data: data,
	}, nil
}

func (v *volume) OpenDir(p string) (backend.Dir, error) {
	dir, name, err := v.walkParent(p)
	if err != nil {
		return nil, err
	}

	if name == "" {
		return &dirHandle{dir}, nil
	}

	entry := dir.Entry(name)
	if entry == nil || !entry.IsDir() {
		return nil, backend.ErrNotExist
	}

	d, err := entry.Dir()
	if err != nil {
		return nil, err
	}

	return &dirHandle{d}, nil
}

func (v *volume) CreateFile(p string) error {
	dir, name, err := v.walkParent(p)
	if err != nil {
		return err
	}

	if name == "" {
		return backend.ErrNotExist
	}

	if _, err := dir.AddFile(name); err != nil {
		return fmt.Errorf("add file %q: %w", p, err)
	}

	return nil
}

func (v *volume) CreateDir(p string) error {
	dir, name, err := v.walkParent(p)
	if err != nil {
		return err
	}

	if name == "" {
		return backend.ErrNotExist
	}

	if _, err := dir.AddDirectory(name); err != nil {
		return fmt.Errorf("add directory %q: %w", p, err)
	}

	return nil
}

////////////////////////////////////////////////////////////////////////
// Handles
////////////////////////////////////////////////////////////////////////

type dirHandle struct {
	d gofs.Directory
}

func (h *dirHandle) Entries() ([]backend.Entry, error) {
	var entries []backend.Entry
	for _, e := range h.d.Entries() {
		name := e.Name()

		// FAT subdirectories physically contain "." and ".." entries; the
		// kernel synthesizes those itself.
		if name == "." || name == ".." {
			continue
		}

		entries = append(entries, backend.Entry{
			Name: name,
			Dir:  e.IsDir(),
		})
	}

	return entries, nil
}

// A fileHandle stages the whole file in memory for the duration of one
// operation. go-fs files expose only sequential Read and Write over the
// cluster chain, so every mutation rewrites the file from the start;
// nothing survives the handle.
type fileHandle struct {
	dir  gofs.Directory
	name string
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

// Rewrite the file in the image from the staged buffer. A freshly opened
// go-fs file writes from the start of its cluster chain and records the
// final write offset as the file's size, so one whole-buffer write both
// replaces the contents and fixes the size.
func (h *fileHandle) flush() error {
	entry := h.dir.Entry(h.name)
	if entry == nil {
		return backend.ErrNotExist
	}

	f, err := entry.File()
	if err != nil {
		return fmt.Errorf("reopen %q: %w", h.path, err)
	}

	if _, err := f.Write(h.data); err != nil {
		return fmt.Errorf("rewrite %q: %w", h.path, err)
	}

	return nil
}
