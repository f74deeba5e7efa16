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
	"sync"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	. "github.com/jacobsa/ogletest"
)

func TestInodeTable(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type InodeTableTest struct {
	table *inodeTable
}

var _ SetUpInterface = &InodeTableTest{}

func init() { RegisterTestSuite(&InodeTableTest{}) }

func (t *InodeTableTest) SetUp(ti *TestInfo) {
	t.table = newInodeTable()
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *InodeTableTest) RootIsPreSeeded() {
	p, ok := t.table.Resolve(fuseops.RootInodeID)
	AssertTrue(ok)
	ExpectEq("/", p)

	ExpectEq(fuseops.RootInodeID, t.table.GetOrAllocate("/"))
}

func (t *InodeTableTest) AllocationIsIdempotent() {
	id := t.table.GetOrAllocate("/A.TXT")
	ExpectGt(id, fuseops.RootInodeID)

	for i := 0; i < 10; i++ {
		ExpectEq(id, t.table.GetOrAllocate("/A.TXT"))
	}

	p, ok := t.table.Resolve(id)
	AssertTrue(ok)
	ExpectEq("/A.TXT", p)
}

func (t *InodeTableTest) DistinctPathsGetDistinctIDs() {
	seen := make(map[fuseops.InodeID]string)
	for i := 0; i < 100; i++ {
		p := fmt.Sprintf("/FILE%03d.TXT", i)
		id := t.table.GetOrAllocate(p)

		other, ok := seen[id]
		AssertFalse(ok, "ID %v already issued for %q", id, other)
		seen[id] = p
	}
}

func (t *InodeTableTest) ResolveUnknownID() {
	_, ok := t.table.Resolve(999)
	ExpectFalse(ok)
}

func (t *InodeTableTest) ChildPaths() {
	p, ok := t.table.ChildPath(fuseops.RootInodeID, "DIR")
	AssertTrue(ok)
	ExpectEq("/DIR", p)

	id := t.table.GetOrAllocate(p)

	p, ok = t.table.ChildPath(id, "SUB.TXT")
	AssertTrue(ok)
	ExpectEq("/DIR/SUB.TXT", p)
}

func (t *InodeTableTest) ChildPathOfUnknownParent() {
	_, ok := t.table.ChildPath(999, "A.TXT")
	ExpectFalse(ok)
}

func (t *InodeTableTest) ConcurrentAllocation() {
	// Many goroutines race to allocate a shared set of fresh paths. Every
	// path must come out with exactly one ID, regardless of interleaving.
	const numWorkers = 16
	const numPaths = 64

	paths := make([]string, numPaths)
	for i := range paths {
		paths[i] = fmt.Sprintf("/DIR/FILE%03d", i)
	}

	results := make([][]fuseops.InodeID, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		w := w
		results[w] = make([]fuseops.InodeID, numPaths)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, p := range paths {
				results[w][i] = t.table.GetOrAllocate(p)
			}
		}()
	}

	wg.Wait()

	for i, p := range paths {
		want := results[0][i]
		for w := 1; w < numWorkers; w++ {
			AssertEq(want, results[w][i], "Mismatched IDs for %q", p)
		}

		got, ok := t.table.Resolve(want)
		AssertTrue(ok)
		ExpectEq(p, got)
	}
}
