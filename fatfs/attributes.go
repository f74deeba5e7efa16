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

package fatfs

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// FAT stores neither ownership nor POSIX permission bits, so every object
// reports the same synthesized values.
const (
	filePerm os.FileMode = 0644
	dirPerm  os.FileMode = 0755

	// FAT records no byte size for directories; report a fixed placeholder.
	dirSizePlaceholder = 1

	// Preferred I/O block size advertised via StatFS.
	blockSize = 4096

	// How long the kernel may cache entries and attributes. Timestamps are
	// synthesized per call, so a short TTL keeps them from going far stale.
	attrTTL = time.Second
)

// Stamp all four timestamps with the current clock reading. None of them are
// persisted anywhere.
func (fs *fatFS) patchTimes(attrs *fuseops.InodeAttributes) {
	now := fs.clock.Now()
	attrs.Atime = now
	attrs.Mtime = now
	attrs.Ctime = now
	attrs.Crtime = now
}

// Attributes for the mount root.
func (fs *fatFS) rootAttributes() fuseops.InodeAttributes {
	attrs := fuseops.InodeAttributes{
		Size:  0,
		Nlink: 2,
		Mode:  dirPerm | os.ModeDir,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}

	fs.patchTimes(&attrs)
	return attrs
}

// Attributes for a regular file of the supplied byte length.
func (fs *fatFS) fileAttributes(size uint64) fuseops.InodeAttributes {
	attrs := fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  filePerm,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}

	fs.patchTimes(&attrs)
	return attrs
}

// Attributes for a non-root directory.
func (fs *fatFS) dirAttributes() fuseops.InodeAttributes {
	attrs := fuseops.InodeAttributes{
		Size:  dirSizePlaceholder,
		Nlink: 1,
		Mode:  dirPerm | os.ModeDir,
		Uid:   fs.uid,
		Gid:   fs.gid,
	}

	fs.patchTimes(&attrs)
	return attrs
}

// Fill in a lookup-style reply for the supplied child.
func (fs *fatFS) fillEntry(
	e *fuseops.ChildInodeEntry,
	id fuseops.InodeID,
	attrs fuseops.InodeAttributes) {
	exp := fs.clock.Now().Add(attrTTL)

	e.Child = id
	e.Attributes = attrs
	e.AttributesExpiration = exp
	e.EntryExpiration = exp
}
