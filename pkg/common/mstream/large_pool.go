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

// largePool holds free contiguous buffers, one free list per permitted
// size. Permitted sizes are multiples of the large buffer multiple
// (linear) or power-of-two multiples of it (exponential), capped at
// the maximum buffer size. Requests beyond the cap are satisfied with
// oversize buffers that are never pooled on return.
type largePool struct {
	multiple      int64
	maxBufferSize int64
	exponential   bool
	maxFreeBytes  atomic.Int64

	mu      sync.Mutex
	buckets [][][]byte

	freeBytes  atomic.Int64
	inUseBytes atomic.Int64

	numAlloc atomic.Int64
	numFree  atomic.Int64
}

func newLargePool(multiple, maxBufferSize int64, exponential bool) *largePool {
	p := &largePool{
		multiple:      multiple,
		maxBufferSize: maxBufferSize,
		exponential:   exponential,
	}
	n := 0
	for size := p.bucketSize(0); size <= maxBufferSize; size = p.bucketSize(n) {
		n++
	}
	p.buckets = make([][][]byte, n)
	return p
}

// bucketSize returns the buffer length of bucket i.
func (p *largePool) bucketSize(i int) int64 {
	if p.exponential {
		return p.multiple << uint(i)
	}
	return p.multiple * int64(i+1)
}

// bucketIndex maps a buffer length to its bucket, or -1 when the
// length is not a permitted pool size.
func (p *largePool) bucketIndex(size int64) int {
	if size <= 0 || size > p.maxBufferSize {
		return -1
	}
	if p.exponential {
		if size%p.multiple != 0 {
			return -1
		}
		k := size / p.multiple
		if k&(k-1) != 0 {
			return -1
		}
		i := 0
		for k > 1 {
			k >>= 1
			i++
		}
		return i
	}
	if size%p.multiple != 0 {
		return -1
	}
	return int(size/p.multiple) - 1
}

// roundUp returns the smallest length the sizing rule produces that is
// >= required. The result may exceed maxBufferSize; such a length is
// oversize and never pooled.
func (p *largePool) roundUp(required int64) int64 {
	if p.exponential {
		size := p.multiple
		for size < required {
			size <<= 1
		}
		return size
	}
	k := (required + p.multiple - 1) / p.multiple
	if k == 0 {
		k = 1
	}
	return k * p.multiple
}

// acquire hands out a zeroed buffer of the smallest suitable size.
// pooled is false for oversize buffers.
func (p *largePool) acquire(required int64) (buf []byte, fresh, pooled bool) {
	chosen := p.roundUp(required)
	if chosen > p.maxBufferSize {
		p.inUseBytes.Add(chosen)
		p.numAlloc.Add(1)
		p.updateGauges()
		return make([]byte, chosen), true, false
	}

	idx := p.bucketIndex(chosen)
	p.mu.Lock()
	if n := len(p.buckets[idx]); n > 0 {
		buf = p.buckets[idx][n-1]
		p.buckets[idx][n-1] = nil
		p.buckets[idx] = p.buckets[idx][:n-1]
		p.freeBytes.Add(-chosen)
	}
	p.inUseBytes.Add(chosen)
	p.numAlloc.Add(1)
	p.mu.Unlock()
	p.updateGauges()

	if buf == nil {
		return make([]byte, chosen), true, true
	}
	clear(buf)
	return buf, false, true
}

// release takes a buffer back. Non-permitted lengths (oversize rentals)
// are dropped but still decrement the in-use accounting by their full
// length. Permitted lengths go back on their bucket unless the free
// pool cap would be exceeded.
func (p *largePool) release(buf []byte) (discarded bool, reason LargeBufferDiscardReason) {
	size := int64(len(buf))
	idx := p.bucketIndex(size)
	if idx < 0 {
		p.inUseBytes.Add(-size)
		p.numFree.Add(1)
		p.updateGauges()
		return true, DiscardTooLarge
	}

	maxFree := p.maxFreeBytes.Load()
	p.mu.Lock()
	p.inUseBytes.Add(-size)
	p.numFree.Add(1)
	if maxFree != 0 && p.freeBytes.Load()+size > maxFree {
		p.mu.Unlock()
		p.updateGauges()
		return true, DiscardEnoughFree
	}
	p.buckets[idx] = append(p.buckets[idx], buf)
	p.freeBytes.Add(size)
	p.mu.Unlock()
	p.updateGauges()
	return false, 0
}

func (p *largePool) updateGauges() {
	v2.MemLargePoolFreeGauge.Set(float64(p.freeBytes.Load()))
	v2.MemLargePoolInUseGauge.Set(float64(p.inUseBytes.Load()))
}
