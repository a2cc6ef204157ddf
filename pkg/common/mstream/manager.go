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

// Package mstream implements recyclable, seekable in-memory byte
// streams whose backing storage is rented from process-wide pools of
// fixed-size blocks and pre-sized large contiguous buffers.
//
// The PoolManager owns the pools; MemoryStream is the stream handed to
// callers. A stream starts on a list of blocks and is promoted to a
// single large buffer the first time a contiguous view is demanded.
// Closing the stream returns all storage to the manager.
package mstream

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matrixorigin/mostream/pkg/common/moerr"
	"github.com/matrixorigin/mostream/pkg/logutil"
	v2 "github.com/matrixorigin/mostream/pkg/util/metric/v2"
)

const (
	// DefaultBlockSize is 128 KiB.
	DefaultBlockSize = 128 << 10
	// DefaultLargeBufferMultiple is 1 MiB.
	DefaultLargeBufferMultiple = 1 << 20
	// DefaultMaximumBufferSize is 128 MiB.
	DefaultMaximumBufferSize = 128 << 20

	// MaxStreamLength bounds a stream's logical length and position.
	MaxStreamLength = int64(1)<<31 - 1
)

// PoolManager owns the small block pool and the large buffer pool and
// hands out MemoryStreams backed by them. Its sizing configuration is
// immutable after construction; the return policies and diagnostics
// knobs can be adjusted at any time. All methods are safe for
// concurrent use.
type PoolManager struct {
	blockSize                 int64
	largeBufferMultiple       int64
	maximumBufferSize         int64
	useExponentialLargeBuffer bool

	small *smallPool
	large *largePool

	aggressiveBufferReturn atomic.Bool
	maximumStreamCapacity  atomic.Int64
	generateCallStacks     atomic.Bool

	sink atomic.Value // EventSink
}

// NewPoolManager builds a manager. maximumBufferSize must be an exact
// multiple of largeBufferMultiple (linear mode) or an exact power-of-two
// multiple of it (exponential mode), and no smaller than blockSize.
func NewPoolManager(blockSize, largeBufferMultiple, maximumBufferSize int64, useExponentialLargeBuffer bool) (*PoolManager, error) {
	ctx := moerr.Context()
	if blockSize <= 0 {
		return nil, moerr.NewOutOfRange(ctx, "block size must be positive, got %d", blockSize)
	}
	if largeBufferMultiple <= 0 {
		return nil, moerr.NewOutOfRange(ctx, "large buffer multiple must be positive, got %d", largeBufferMultiple)
	}
	if maximumBufferSize < blockSize {
		return nil, moerr.NewInvalidInput(ctx,
			"maximum buffer size %d is smaller than block size %d", maximumBufferSize, blockSize)
	}
	if useExponentialLargeBuffer {
		k := maximumBufferSize / largeBufferMultiple
		if maximumBufferSize%largeBufferMultiple != 0 || k&(k-1) != 0 {
			return nil, moerr.NewInvalidInput(ctx,
				"maximum buffer size %d is not a power-of-two multiple of %d", maximumBufferSize, largeBufferMultiple)
		}
	} else if maximumBufferSize%largeBufferMultiple != 0 {
		return nil, moerr.NewInvalidInput(ctx,
			"maximum buffer size %d is not a multiple of %d", maximumBufferSize, largeBufferMultiple)
	}

	m := &PoolManager{
		blockSize:                 blockSize,
		largeBufferMultiple:       largeBufferMultiple,
		maximumBufferSize:         maximumBufferSize,
		useExponentialLargeBuffer: useExponentialLargeBuffer,
		small:                     newSmallPool(blockSize),
		large:                     newLargePool(largeBufferMultiple, maximumBufferSize, useExponentialLargeBuffer),
	}
	return m, nil
}

// NewDefaultPoolManager builds a manager with the default geometry:
// 128 KiB blocks, 1 MiB large buffer multiple, 128 MiB maximum buffer
// size, linear sizing.
func NewDefaultPoolManager() *PoolManager {
	m, err := NewPoolManager(DefaultBlockSize, DefaultLargeBufferMultiple, DefaultMaximumBufferSize, false)
	if err != nil {
		// the defaults satisfy every construction invariant
		panic(err)
	}
	return m
}

// BlockSize returns the fixed size of small pool blocks.
func (m *PoolManager) BlockSize() int64 { return m.blockSize }

// LargeBufferMultiple returns the sizing unit of the large pool.
func (m *PoolManager) LargeBufferMultiple() int64 { return m.largeBufferMultiple }

// MaximumBufferSize returns the largest poolable buffer length.
func (m *PoolManager) MaximumBufferSize() int64 { return m.maximumBufferSize }

// UseExponentialLargeBuffer reports whether the large pool sizes
// buckets exponentially.
func (m *PoolManager) UseExponentialLargeBuffer() bool { return m.useExponentialLargeBuffer }

// SmallPoolFreeSize returns the bytes sitting in the small free list.
func (m *PoolManager) SmallPoolFreeSize() int64 { return m.small.freeBytes.Load() }

// SmallPoolInUseSize returns the bytes currently loaned as blocks.
func (m *PoolManager) SmallPoolInUseSize() int64 { return m.small.inUseBytes.Load() }

// LargePoolFreeSize returns the bytes sitting in the large free lists.
func (m *PoolManager) LargePoolFreeSize() int64 { return m.large.freeBytes.Load() }

// LargePoolInUseSize returns the bytes currently loaned as large
// buffers, oversize rentals included.
func (m *PoolManager) LargePoolInUseSize() int64 { return m.large.inUseBytes.Load() }

// SetMaximumFreeSmallPoolBytes caps the small free list; 0 means
// unbounded. Blocks returned past the cap are dropped.
func (m *PoolManager) SetMaximumFreeSmallPoolBytes(v int64) {
	m.small.maxFreeBytes.Store(v)
}

// MaximumFreeSmallPoolBytes returns the small free list cap.
func (m *PoolManager) MaximumFreeSmallPoolBytes() int64 { return m.small.maxFreeBytes.Load() }

// SetMaximumFreeLargePoolBytes caps the large free lists; 0 means
// unbounded.
func (m *PoolManager) SetMaximumFreeLargePoolBytes(v int64) {
	m.large.maxFreeBytes.Store(v)
}

// MaximumFreeLargePoolBytes returns the large free pool cap.
func (m *PoolManager) MaximumFreeLargePoolBytes() int64 { return m.large.maxFreeBytes.Load() }

// SetAggressiveBufferReturn controls whether superseded stream storage
// is returned to the pools immediately instead of at Close.
func (m *PoolManager) SetAggressiveBufferReturn(v bool) { m.aggressiveBufferReturn.Store(v) }

// AggressiveBufferReturn reports the current return policy.
func (m *PoolManager) AggressiveBufferReturn() bool { return m.aggressiveBufferReturn.Load() }

// SetMaximumStreamCapacity bounds any single stream's capacity; 0
// means unbounded.
func (m *PoolManager) SetMaximumStreamCapacity(v int64) { m.maximumStreamCapacity.Store(v) }

// MaximumStreamCapacity returns the per-stream capacity bound.
func (m *PoolManager) MaximumStreamCapacity() int64 { return m.maximumStreamCapacity.Load() }

// SetGenerateCallStacks enables call-stack capture: allocation stacks
// for streams created afterwards, and close stacks for any Close made
// while it is on.
func (m *PoolManager) SetGenerateCallStacks(v bool) { m.generateCallStacks.Store(v) }

// GenerateCallStacks reports whether call-stack capture is on.
func (m *PoolManager) GenerateCallStacks() bool { return m.generateCallStacks.Load() }

// SetEventSink installs sink for lifecycle notifications; nil removes
// the current sink.
func (m *PoolManager) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = NopEventSink{}
	}
	m.sink.Store(sink)
}

func (m *PoolManager) eventSink() EventSink {
	if s := m.sink.Load(); s != nil {
		return s.(EventSink)
	}
	return NopEventSink{}
}

// GetBlock rents one zeroed block of exactly BlockSize bytes.
func (m *PoolManager) GetBlock() []byte {
	block, fresh := m.small.acquire()
	if fresh {
		v2.MemBlockCreatedCounter.Inc()
		m.eventSink().OnBlockCreated()
	}
	return block
}

// ReturnBlocks gives a batch of blocks back to the small pool. The
// whole batch is validated before any accounting changes: a nil batch
// or any block whose length is not BlockSize fails without touching
// pool state.
func (m *PoolManager) ReturnBlocks(blocks [][]byte) error {
	ctx := moerr.Context()
	if blocks == nil {
		return moerr.NewNullArgument(ctx, "blocks")
	}
	for i, block := range blocks {
		if int64(len(block)) != m.blockSize {
			return moerr.NewInvalidArg(ctx, "blocks", i)
		}
	}
	discarded := m.small.release(blocks)
	for i := 0; i < discarded; i++ {
		v2.MemBlockDiscardedCounter.Inc()
		m.eventSink().OnBlockDiscarded()
	}
	if discarded > 0 {
		logutil.Debug("small pool dropped returned blocks",
			zap.Int("discarded", discarded),
			zap.Int64("maxFreeBytes", m.small.maxFreeBytes.Load()))
	}
	return nil
}

// GetLargeBuffer rents a zeroed contiguous buffer whose length is the
// smallest size the pool's rule produces that is >= required. A
// request beyond MaximumBufferSize is satisfied with an oversize
// buffer that will not be pooled when returned.
func (m *PoolManager) GetLargeBuffer(required int64) ([]byte, error) {
	if required <= 0 {
		return nil, moerr.NewOutOfRange(moerr.Context(), "required size must be positive, got %d", required)
	}
	buf, fresh, pooled := m.large.acquire(required)
	if !pooled {
		v2.MemNonPooledLargeBufferCounter.Inc()
		m.eventSink().OnNonPooledLargeBufferCreated(required)
		logutil.Warn("non-pooled large buffer allocated",
			zap.Int64("required", required),
			zap.Int("length", len(buf)),
			zap.Int64("maximumBufferSize", m.maximumBufferSize))
	} else if fresh {
		v2.MemLargeBufferCreatedCounter.Inc()
		m.eventSink().OnLargeBufferCreated()
	}
	return buf, nil
}

// ReturnLargeBuffer gives a rented large buffer back. Oversize buffers
// are dropped but still settle the in-use accounting.
func (m *PoolManager) ReturnLargeBuffer(buf []byte) error {
	ctx := moerr.Context()
	if buf == nil {
		return moerr.NewNullArgument(ctx, "buffer")
	}
	if len(buf) == 0 {
		return moerr.NewInvalidInput(ctx, "cannot return a zero-length buffer")
	}
	if discarded, reason := m.large.release(buf); discarded {
		v2.MemLargeBufferDiscardedCounter.Inc()
		m.eventSink().OnLargeBufferDiscarded(reason)
		logutil.Debug("large pool dropped returned buffer",
			zap.Int("length", len(buf)),
			zap.Stringer("reason", reason))
	}
	return nil
}

// GetStream creates an empty stream that will rent blocks on demand.
func (m *PoolManager) GetStream(tag string) (*MemoryStream, error) {
	return newMemoryStream(m, tag, 0, false)
}

// GetStreamWithCapacity creates a stream whose capacity is at least
// requiredSize, allocated block by block.
func (m *PoolManager) GetStreamWithCapacity(tag string, requiredSize int64) (*MemoryStream, error) {
	return newMemoryStream(m, tag, requiredSize, false)
}

// GetStreamContiguous creates a stream whose initial storage is a
// single large buffer of at least requiredSize bytes, so a later
// GetBuffer needs no promotion copy. A requiredSize of 0 rents nothing
// until the first write.
func (m *PoolManager) GetStreamContiguous(tag string, requiredSize int64) (*MemoryStream, error) {
	return newMemoryStream(m, tag, requiredSize, true)
}

// GetStreamFromBytes creates a stream holding a copy of src with the
// position at zero. The source is not retained: the stream's buffers
// never alias it.
func (m *PoolManager) GetStreamFromBytes(tag string, src []byte) (*MemoryStream, error) {
	if src == nil {
		return nil, moerr.NewNullArgument(moerr.Context(), "source")
	}
	s, err := newMemoryStream(m, tag, int64(len(src)), false)
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(src); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.SetPosition(0); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
