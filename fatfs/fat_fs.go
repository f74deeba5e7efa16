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

// Package fatfs exposes a FAT volume as a FUSE file system. It owns the
// synthetic inode identity for the volume's objects and translates each FUSE
// op into calls against a backend.Volume.
package fatfs

import (
	"context"
	"errors"
	"io"
	"log"
	gopath "path"
	"sync"

	"github.com/ByteOtter/nuFAT/backend"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
)

// Create a fuse.Server that exposes the supplied FAT volume.
//
// Every object is reported as owned by the supplied uid and gid, since FAT
// has no ownership model of its own. The clock supplies the synthesized
// timestamps. The logger receives a line for each unexpected backend
// failure; such failures fail the one request and nothing else.
func NewServer(
	vol backend.Volume,
	uid uint32,
	gid uint32,
	clock timeutil.Clock,
	logger *log.Logger) fuse.Server {
	return fuseutil.NewFileSystemServer(newFatFS(vol, uid, gid, clock, logger))
}

func newFatFS(
	vol backend.Volume,
	uid uint32,
	gid uint32,
	clock timeutil.Clock,
	logger *log.Logger) *fatFS {
	return &fatFS{
		clock:  clock,
		logger: logger,
		vol:    vol,
		uid:    uid,
		gid:    gid,
		inodes: newInodeTable(),
	}
}

type fatFS struct {
	fuseutil.NotImplementedFileSystem

	/////////////////////////
	// Dependencies
	/////////////////////////

	clock  timeutil.Clock
	logger *log.Logger

	// The backing FAT volume. Each op performs exactly one round trip
	// against it while holding volMu, so backend access is fully
	// serialized and nothing is cached between ops.
	volMu sync.Mutex
	vol   backend.Volume // GUARDED_BY(volMu)

	/////////////////////////
	// Constant data
	/////////////////////////

	uid uint32
	gid uint32

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Synthetic inode identity, with its own lock.
	inodes *inodeTable
}

var _ fuseutil.FileSystem = &fatFS{}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// Classify the object at the supplied path and synthesize its attributes.
// FAT offers no generic stat, so this is a trial-open: attempt to open a
// file, and fall back to opening a directory. Returns backend.ErrNotExist
// when neither succeeds.
//
// LOCKS_REQUIRED(fs.volMu)
func (fs *fatFS) statPath(p string) (fuseops.InodeAttributes, error) {
	var attrs fuseops.InodeAttributes

	f, err := fs.vol.OpenFile(p)
	if err == nil {
		size, err := f.Size()
		if err != nil {
			return attrs, err
		}

		return fs.fileAttributes(uint64(size)), nil
	}

	if !errors.Is(err, backend.ErrNotExist) {
		return attrs, err
	}

	if _, err := fs.openDir(p); err != nil {
		return attrs, err
	}

	return fs.dirAttributes(), nil
}

// Open the directory at the supplied path, mapping "/" to the volume's root
// listing.
//
// LOCKS_REQUIRED(fs.volMu)
func (fs *fatFS) openDir(p string) (backend.Dir, error) {
	if p == "/" {
		return fs.vol.Root()
	}

	return fs.vol.OpenDir(p)
}

// Map a backend failure onto the protocol's error set. Real I/O failures are
// logged; missing objects are not, since the kernel probes for nonexistent
// paths constantly.
func (fs *fatFS) mapError(opName string, p string, err error) error {
	if errors.Is(err, backend.ErrNotExist) {
		return fuse.ENOENT
	}

	fs.logger.Printf("%s %q: %v", opName, p, err)
	return fuse.EIO
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *fatFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	op.BlockSize = blockSize
	op.IoSize = blockSize
	return nil
}

func (fs *fatFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	p, ok := fs.inodes.ChildPath(op.Parent, op.Name)
	if !ok {
		// The kernel passed a parent ID we never issued.
		return fuse.EIO
	}

	// Mint (or re-find) the child's ID before probing the backend, so that
	// the path keeps the same ID once it does exist.
	id := fs.inodes.GetOrAllocate(p)

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	attrs, err := fs.statPath(p)
	if err != nil {
		return fs.mapError("LookUpInode", p, err)
	}

	fs.fillEntry(&op.Entry, id, attrs)
	return nil
}

func (fs *fatFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	if op.Inode == fuseops.RootInodeID {
		op.Attributes = fs.rootAttributes()
		op.AttributesExpiration = fs.clock.Now().Add(attrTTL)
		return nil
	}

	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	attrs, err := fs.statPath(p)
	if err != nil {
		return fs.mapError("GetInodeAttributes", p, err)
	}

	op.Attributes = attrs
	op.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	return nil
}

func (fs *fatFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	// Only regular files can be resized; anything else, including a
	// directory target, is not an openable file.
	f, err := fs.vol.OpenFile(p)
	if err != nil {
		return fs.mapError("SetInodeAttributes", p, err)
	}

	if op.Size != nil {
		if err := f.Truncate(int64(*op.Size)); err != nil {
			return fs.mapError("SetInodeAttributes", p, err)
		}
	}

	// Mode and time changes are accepted and dropped; FAT has nowhere to
	// put them, and the synthesized constants win on the next stat anyway.

	size, err := f.Size()
	if err != nil {
		return fs.mapError("SetInodeAttributes", p, err)
	}

	op.Attributes = fs.fileAttributes(uint64(size))
	op.AttributesExpiration = fs.clock.Now().Add(attrTTL)
	return nil
}

func (fs *fatFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	if _, err := fs.openDir(p); err != nil {
		return fs.mapError("OpenDir", p, err)
	}

	// No per-handle state; the zero handle is echoed back and ignored.
	return nil
}

func (fs *fatFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	d, err := fs.openDir(p)
	if err != nil {
		return fs.mapError("ReadDir", p, err)
	}

	entries, err := d.Entries()
	if err != nil {
		return fs.mapError("ReadDir", p, err)
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}

	// Offsets are indices into the backend's stable listing order, so a
	// resumed call picks up exactly where a full reply buffer stopped.
	for i := int(op.Offset); i < len(entries); i++ {
		e := entries[i]

		childType := fuseutil.DT_File
		if e.Dir {
			childType = fuseutil.DT_Directory
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i) + 1,
			Inode:  fs.inodes.GetOrAllocate(gopath.Join(p, e.Name)),
			Name:   e.Name,
			Type:   childType,
		})
		if n == 0 {
			break
		}

		op.BytesRead += n
	}

	return nil
}

func (fs *fatFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	if _, err := fs.vol.OpenFile(p); err != nil {
		return fs.mapError("OpenFile", p, err)
	}

	return nil
}

func (fs *fatFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	f, err := fs.vol.OpenFile(p)
	if err != nil {
		return fs.mapError("ReadFile", p, err)
	}

	size, err := f.Size()
	if err != nil {
		return fs.mapError("ReadFile", p, err)
	}

	// Reading at or beyond EOF is a successful empty read, never an error.
	if op.Offset >= size {
		return nil
	}

	if _, err := f.Seek(op.Offset, io.SeekStart); err != nil {
		return fs.mapError("ReadFile", p, err)
	}

	op.BytesRead, err = io.ReadFull(f, op.Dst)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return fs.mapError("ReadFile", p, err)
	}

	return nil
}

func (fs *fatFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	p, ok := fs.inodes.Resolve(op.Inode)
	if !ok {
		return fuse.EIO
	}

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	f, err := fs.vol.OpenFile(p)
	if err != nil {
		return fs.mapError("WriteFile", p, err)
	}

	// The file grows implicitly when the write extends past EOF.
	if _, err := f.Seek(op.Offset, io.SeekStart); err != nil {
		return fs.mapError("WriteFile", p, err)
	}

	if _, err := f.Write(op.Data); err != nil {
		return fs.mapError("WriteFile", p, err)
	}

	return nil
}

func (fs *fatFS) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	// Creation is supported in the root directory only; this mirrors the
	// backend primitives and must not be silently widened.
	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}

	p := gopath.Join("/", op.Name)

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	if err := fs.vol.CreateFile(p); err != nil {
		return fs.mapError("CreateFile", p, err)
	}

	fs.fillEntry(&op.Entry, fs.inodes.GetOrAllocate(p), fs.fileAttributes(0))

	// No per-handle state; the zero handle is echoed back and ignored.
	return nil
}

func (fs *fatFS) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	// Root only, as for CreateFile.
	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}

	p := gopath.Join("/", op.Name)

	fs.volMu.Lock()
	defer fs.volMu.Unlock()

	if err := fs.vol.CreateDir(p); err != nil {
		return fs.mapError("MkDir", p, err)
	}

	fs.fillEntry(&op.Entry, fs.inodes.GetOrAllocate(p), fs.dirAttributes())
	return nil
}

// The table never shrinks while mounted, so there is nothing to forget.
func (fs *fatFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

// Every write already went to the backend before its op returned, so sync
// and flush have nothing left to do.

func (fs *fatFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *fatFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *fatFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *fatFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}
