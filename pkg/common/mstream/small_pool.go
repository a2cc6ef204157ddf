// Copyright 2021 - 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mstream

import (
	"sync"
	"sync/atomic"

	v2 "github.com/matrixorigin/mostream/pkg/util/metric/v2"
)

// smallPool holds free fixed-size blocks. The free list is LIFO so a
// recently returned, still cache-warm block is handed out first.
type smallPool struct {
	blockSize    int64
	maxFreeBytes atomic.Int64

	mu   sync.Mutex
	free [][]byte

	// freeBytes and inUseBytes are mutated while mu is held so an
	// observer never sees the list and the counters disagree; they are
	// atomics only to make the getters lock-free.
	freeBytes  atomic.Int64
	inUseBytes atomic.Int64

	numAlloc atomic.Int64
	numFree  atomic.Int64
}

func newSmallPool(blockSize int64) *smallPool {
	return &smallPool{blockSize: blockSize}
}

// acquire pops a free block or allocates a fresh one. The returned
// block is always zeroed. fresh reports whether the block was newly
// allocated rather than reused.
func (p *smallPool) acquire() (block []byte, fresh bool) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		block = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.freeBytes.Add(-p.blockSize)
	}
	p.inUseBytes.Add(p.blockSize)
	p.numAlloc.Add(1)
	p.mu.Unlock()
	p.updateGauges()

	if block == nil {
		return make([]byte, p.blockSize), true
	}
	clear(block)
	return block, false
}

// release returns a batch of blocks, dropping whatever would push the
// free list past maxFreeBytes. The caller has already validated the
// batch; no block here may have the wrong length.
func (p *smallPool) release(blocks [][]byte) (discarded int) {
	maxFree := p.maxFreeBytes.Load()

	p.mu.Lock()
	for _, block := range blocks {
		p.inUseBytes.Add(-p.blockSize)
		p.numFree.Add(1)
		if maxFree != 0 && p.freeBytes.Load()+p.blockSize > maxFree {
			discarded++
			continue
		}
		p.free = append(p.free, block)
		p.freeBytes.Add(p.blockSize)
	}
	p.mu.Unlock()

	p.updateGauges()
	return discarded
}

func (p *smallPool) updateGauges() {
	v2.MemSmallPoolFreeGauge.Set(float64(p.freeBytes.Load()))
	v2.MemSmallPoolInUseGauge.Set(float64(p.inUseBytes.Load()))
}
