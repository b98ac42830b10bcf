// Copyright 2024 aggrcore authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package arena implements the bump-pointer block allocator that backs
// aggregate state storage. It plays the role of the teacher's
// TupleDataAllocator/TupleDataBlock (pkg/compute/join_tuple.go), minus
// the buffer-manager paging that backs it there — allocation here is
// plain heap memory, since buffer-manager paging is explicitly out of
// scope for this core.
package arena

// BlockSize mirrors the teacher's storage.BLOCK_SIZE (256 KiB minus an
// 8 byte header) so size math ported from the teacher stays comparable.
const BlockSize = 256*1024 - 8

// Arena is a bump-pointer allocator over a growing list of fixed-size
// blocks. Aggregate state for a row is allocated once and never moved,
// so returned slices remain valid for the arena's lifetime.
//
// Arena ownership transfers from a per-worker local hash table into the
// global sink state's stored-allocators list at Combine time, and again
// at finalize-task completion, exactly once each (spec §3
// "Arena-keepalive", §9). It is not safe for concurrent use; each
// worker owns its own arena until handoff.
type Arena struct {
	blocks []block
	live   int
}

type block struct {
	buf    []byte
	offset int
}

func New() *Arena {
	return &Arena{}
}

// Alloc returns a zeroed slice of n bytes, valid until the arena is
// garbage collected. Requests larger than BlockSize get a dedicated
// block instead of fragmenting the bump region.
func (a *Arena) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	a.live += n
	if n > BlockSize {
		a.blocks = append(a.blocks, block{buf: make([]byte, n), offset: n})
		return a.blocks[len(a.blocks)-1].buf
	}
	if len(a.blocks) == 0 || a.blocks[len(a.blocks)-1].offset+n > BlockSize {
		a.blocks = append(a.blocks, block{buf: make([]byte, BlockSize)})
	}
	last := &a.blocks[len(a.blocks)-1]
	buf := last.buf[last.offset : last.offset+n]
	last.offset += n
	return buf
}

// LiveBytes reports how many bytes Alloc has handed out from this
// arena in total.
func (a *Arena) LiveBytes() int {
	return a.live
}

// BlockCount reports how many blocks the arena has grown to.
func (a *Arena) BlockCount() int {
	return len(a.blocks)
}
