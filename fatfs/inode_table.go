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
	"fmt"
	gopath "path"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
)

// A bidirectional mapping between synthetic inode IDs and paths within the
// FAT volume. FAT carries no native inode numbers, so IDs are minted here the
// first time a path is observed.
//
// IDs are handed out monotonically and are never reused or forgotten while
// mounted, so a path observed once keeps its ID for the lifetime of the
// mount. Memory is bounded only by the number of distinct paths observed.
//
// May be used from multiple goroutines.
type inodeTable struct {
	mu syncutil.InvariantMutex

	// The next ID to hand out.
	//
	// INVARIANT: nextID > fuseops.RootInodeID
	nextID fuseops.InodeID // GUARDED_BY(mu)

	// Forward and reverse indices over the same set of entries.
	//
	// INVARIANT: byID[fuseops.RootInodeID] == "/"
	// INVARIANT: For all IDs k in byID, k < nextID
	// INVARIANT: For all IDs k in byID, byPath[byID[k]] == k
	// INVARIANT: len(byID) == len(byPath)
	byID   map[fuseops.InodeID]string // GUARDED_BY(mu)
	byPath map[string]fuseops.InodeID // GUARDED_BY(mu)
}

func newInodeTable() *inodeTable {
	t := &inodeTable{
		nextID: fuseops.RootInodeID + 1,
		byID:   map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		byPath: map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
	}

	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *inodeTable) checkInvariants() {
	if t.nextID <= fuseops.RootInodeID {
		panic(fmt.Sprintf("Counter not past the root ID: %v", t.nextID))
	}

	if t.byID[fuseops.RootInodeID] != "/" {
		panic(fmt.Sprintf("Root maps to %q", t.byID[fuseops.RootInodeID]))
	}

	if len(t.byID) != len(t.byPath) {
		panic(fmt.Sprintf(
			"Index size mismatch: %v vs. %v",
			len(t.byID),
			len(t.byPath)))
	}

	for id, p := range t.byID {
		if id >= t.nextID {
			panic(fmt.Sprintf("ID %v not below counter %v", id, t.nextID))
		}

		if t.byPath[p] != id {
			panic(fmt.Sprintf("Index disagreement for %q: %v", p, id))
		}
	}
}

// Look up the path for an ID previously issued by GetOrAllocate, if any.
//
// LOCKS_EXCLUDED(t.mu)
func (t *inodeTable) Resolve(id fuseops.InodeID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.byID[id]
	return p, ok
}

// Return the ID for the supplied path, minting a new one if the path has
// never been observed. The search and the insert happen in a single critical
// section, so concurrent callers racing on a fresh path always agree on its
// ID.
//
// LOCKS_EXCLUDED(t.mu)
func (t *inodeTable) GetOrAllocate(path string) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byPath[path]; ok {
		return id
	}

	id := t.nextID
	t.nextID++

	t.byID[id] = path
	t.byPath[path] = id

	return id
}

// Compose the path of the named child of the supplied parent directory.
// Returns false if the parent ID was never issued.
//
// LOCKS_EXCLUDED(t.mu)
func (t *inodeTable) ChildPath(
	parent fuseops.InodeID,
	name string) (string, bool) {
	parentPath, ok := t.Resolve(parent)
	if !ok {
		return "", false
	}

	return gopath.Join(parentPath, name), true
}
