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
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matrixorigin/mostream/pkg/common/moerr"
	"github.com/matrixorigin/mostream/pkg/logutil"
	v2 "github.com/matrixorigin/mostream/pkg/util/metric/v2"
	"github.com/matrixorigin/mostream/pkg/util/stack"
)

// MemoryStream is a seekable in-memory byte stream backed by pooled
// storage. It starts on a list of fixed-size blocks rented from the
// manager's small pool and is promoted to a single large buffer the
// first time a contiguous view is demanded; it never goes back. Close
// returns every rented buffer to its pool.
//
// A MemoryStream is not safe for concurrent mutation. ReadAt, SafeRead
// and SafeReadByte are safe to call from many goroutines at once as
// long as no mutating operation runs concurrently, and Close tolerates
// concurrent invocation.
type MemoryStream struct {
	manager *PoolManager
	id      uuid.UUID
	tag     string

	length   int64
	position int64

	// Exactly one representation is active: blocks while in block
	// mode, largeBuffer after promotion. Superseded storage stays in
	// blocks/dirtyBuffers until Close unless the manager returns
	// buffers aggressively.
	blocks       [][]byte
	largeBuffer  []byte
	dirtyBuffers [][]byte

	// 0 while live; each Close increments it. The Close that moves it
	// to 1 owns the pool return.
	closed atomic.Int64

	allocationStack stack.StackTrace
	disposeStack1   stack.StackTrace
	disposeStack2   stack.StackTrace
}

var (
	_ io.Reader     = (*MemoryStream)(nil)
	_ io.Writer     = (*MemoryStream)(nil)
	_ io.Seeker     = (*MemoryStream)(nil)
	_ io.ReaderAt   = (*MemoryStream)(nil)
	_ io.ByteReader = (*MemoryStream)(nil)
	_ io.ByteWriter = (*MemoryStream)(nil)
	_ io.WriterTo   = (*MemoryStream)(nil)
	_ io.Closer     = (*MemoryStream)(nil)
)

// NewMemoryStream builds an empty stream on m, equivalent to
// m.GetStream with an empty tag.
func NewMemoryStream(m *PoolManager) (*MemoryStream, error) {
	return NewMemoryStreamWithCapacity(m, "", 0)
}

// NewMemoryStreamWithTag builds an empty tagged stream on m.
func NewMemoryStreamWithTag(m *PoolManager, tag string) (*MemoryStream, error) {
	return NewMemoryStreamWithCapacity(m, tag, 0)
}

// NewMemoryStreamWithCapacity builds a stream whose capacity is at
// least requestedCapacity, behaviorally identical to the manager's
// factory methods.
func NewMemoryStreamWithCapacity(m *PoolManager, tag string, requestedCapacity int64) (*MemoryStream, error) {
	if m == nil {
		return nil, moerr.NewNullArgument(moerr.Context(), "manager")
	}
	return newMemoryStream(m, tag, requestedCapacity, false)
}

func newMemoryStream(m *PoolManager, tag string, requiredSize int64, contiguous bool) (*MemoryStream, error) {
	ctx := moerr.Context()
	if requiredSize < 0 {
		return nil, moerr.NewOutOfRange(ctx, "required size must not be negative, got %d", requiredSize)
	}
	if requiredSize > MaxStreamLength {
		return nil, moerr.NewOutOfRange(ctx, "required size %d exceeds the maximum stream length", requiredSize)
	}

	s := &MemoryStream{
		manager: m,
		id:      uuid.New(),
		tag:     tag,
	}
	if m.generateCallStacks.Load() {
		s.allocationStack = stack.Callers(2)
	}

	if contiguous && requiredSize > 0 {
		if err := s.checkStreamCapacity(requiredSize); err != nil {
			return nil, err
		}
		buf, err := m.GetLargeBuffer(requiredSize)
		if err != nil {
			return nil, err
		}
		s.largeBuffer = buf
	} else if requiredSize > 0 {
		if err := s.ensureCapacity(requiredSize); err != nil {
			return nil, err
		}
	}

	v2.MemStreamCreatedCounter.Inc()
	m.eventSink().OnStreamCreated(s.id, s.tag)
	return s, nil
}

func (s *MemoryStream) name() string {
	if s.tag != "" {
		return s.tag
	}
	return s.id.String()
}

func (s *MemoryStream) checkClosed() error {
	if s.closed.Load() != 0 {
		return moerr.NewStreamClosed(moerr.Context(), s.name())
	}
	return nil
}

// ID returns the stream's unique identity.
func (s *MemoryStream) ID() (uuid.UUID, error) {
	if err := s.checkClosed(); err != nil {
		return uuid.UUID{}, err
	}
	return s.id, nil
}

// Tag returns the caller-supplied label, possibly empty.
func (s *MemoryStream) Tag() (string, error) {
	if err := s.checkClosed(); err != nil {
		return "", err
	}
	return s.tag, nil
}

// Length returns the logical byte count.
func (s *MemoryStream) Length() (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	return s.length, nil
}

// Position returns the current read/write offset. It may exceed
// Length after a seek past the end.
func (s *MemoryStream) Position() (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	return s.position, nil
}

// SetPosition moves the read/write offset without allocating storage.
func (s *MemoryStream) SetPosition(v int64) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if v < 0 || v > MaxStreamLength {
		return moerr.NewOutOfRange(moerr.Context(), "position %d", v)
	}
	s.position = v
	return nil
}

// Capacity returns the bytes of backing storage currently attached.
func (s *MemoryStream) Capacity() (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	return s.capacity(), nil
}

func (s *MemoryStream) capacity() int64 {
	if s.largeBuffer != nil {
		return int64(len(s.largeBuffer))
	}
	return int64(len(s.blocks)) * s.manager.blockSize
}

// SetCapacity grows the backing storage to at least v bytes. Capacity
// never shrinks; v at or below the current capacity is a no-op.
func (s *MemoryStream) SetCapacity(v int64) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.ensureCapacity(v)
}

// AllocationStack returns the creation call stack, empty unless the
// manager had GenerateCallStacks on when the stream was created.
func (s *MemoryStream) AllocationStack() stack.StackTrace { return s.allocationStack }

// DisposeStacks returns the call stacks of the first and second Close,
// empty unless call-stack capture is on.
func (s *MemoryStream) DisposeStacks() (first, second stack.StackTrace) {
	return s.disposeStack1, s.disposeStack2
}

// checkStreamCapacity enforces the manager's per-stream capacity bound
// before any storage is acquired, so a failing operation leaves the
// stream untouched.
func (s *MemoryStream) checkStreamCapacity(required int64) error {
	maximum := s.manager.maximumStreamCapacity.Load()
	if maximum > 0 && required > maximum {
		v2.MemStreamOverCapacityCounter.Inc()
		s.manager.eventSink().OnStreamOverCapacity(s.id, s.tag, required, maximum)
		logutil.Warn("memory stream over capacity",
			zap.String("stream", s.name()),
			zap.Int64("required", required),
			zap.Int64("maximum", maximum))
		return moerr.NewStreamOverCapacity(moerr.Context(), required, maximum)
	}
	return nil
}

// ensureCapacity grows the backing storage to hold at least v bytes.
// In block mode it rents whole blocks; in large mode it replaces the
// buffer with the next permitted size and copies the logical content.
// On failure the stream is unchanged.
func (s *MemoryStream) ensureCapacity(v int64) error {
	if v > MaxStreamLength {
		return moerr.NewOutOfRange(moerr.Context(), "capacity %d exceeds the maximum stream length", v)
	}
	if v <= s.capacity() {
		return nil
	}
	if err := s.checkStreamCapacity(v); err != nil {
		return err
	}

	if s.largeBuffer != nil {
		buf, err := s.manager.GetLargeBuffer(v)
		if err != nil {
			return err
		}
		copy(buf, s.largeBuffer[:s.length])
		old := s.largeBuffer
		s.largeBuffer = buf
		if s.manager.aggressiveBufferReturn.Load() {
			_ = s.manager.ReturnLargeBuffer(old)
		} else {
			s.dirtyBuffers = append(s.dirtyBuffers, old)
		}
		return nil
	}

	for s.capacity() < v {
		s.blocks = append(s.blocks, s.manager.GetBlock())
	}
	return nil
}

// Write copies p into the stream at the current position, growing the
// backing storage as needed, and advances the position. A failed write
// leaves length, position and capacity untouched.
func (s *MemoryStream) Write(p []byte) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "buffer")
	}
	n := int64(len(p))
	if n == 0 {
		return 0, nil
	}
	end := s.position + n
	if end > MaxStreamLength {
		return 0, moerr.NewIOError(moerr.Context(), "write ends at %d, past the maximum stream length", end)
	}
	if err := s.ensureCapacity(end); err != nil {
		return 0, err
	}
	s.writeAt(p, s.position)
	s.position = end
	if s.length < end {
		s.length = end
	}
	return int(n), nil
}

// WriteByte writes one byte at the current position. It never grows
// the backing storage when writing strictly inside the current
// capacity.
func (s *MemoryStream) WriteByte(c byte) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	end := s.position + 1
	if end > MaxStreamLength {
		return moerr.NewIOError(moerr.Context(), "write ends at %d, past the maximum stream length", end)
	}
	if err := s.ensureCapacity(end); err != nil {
		return err
	}
	if s.largeBuffer != nil {
		s.largeBuffer[s.position] = c
	} else {
		bs := s.manager.blockSize
		s.blocks[s.position/bs][s.position%bs] = c
	}
	s.position = end
	if s.length < end {
		s.length = end
	}
	return nil
}

// Read copies up to len(p) bytes from the current position into p and
// advances the position. At or past the end it returns io.EOF.
func (s *MemoryStream) Read(p []byte) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "buffer")
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := s.readAt(p, s.position)
	if n == 0 {
		return 0, io.EOF
	}
	s.position += int64(n)
	return n, nil
}

// ReadByte returns the byte at the current position and advances it,
// or io.EOF at the end.
func (s *MemoryStream) ReadByte() (byte, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if s.position >= s.length {
		return 0, io.EOF
	}
	var c byte
	if s.largeBuffer != nil {
		c = s.largeBuffer[s.position]
	} else {
		bs := s.manager.blockSize
		c = s.blocks[s.position/bs][s.position%bs]
	}
	s.position++
	return c, nil
}

// ReadAt copies bytes starting at off into p without reading or
// writing Position, which makes it safe to call from many goroutines
// at once while no mutator runs. It follows the io.ReaderAt contract:
// a read short of len(p) returns io.EOF.
func (s *MemoryStream) ReadAt(p []byte, off int64) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "buffer")
	}
	if off < 0 {
		return 0, moerr.NewOutOfRange(moerr.Context(), "read offset %d", off)
	}
	n := s.readAt(p, off)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// SafeRead reads like Read but against a caller-owned position, which
// it advances by the bytes actually read. Stream position is never
// touched. Concurrent SafeReads on one stream are safe while no
// mutator runs.
func (s *MemoryStream) SafeRead(p []byte, pos *int64) (int, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "buffer")
	}
	if pos == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "pos")
	}
	if *pos < 0 {
		return 0, moerr.NewOutOfRange(moerr.Context(), "read position %d", *pos)
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := s.readAt(p, *pos)
	if n == 0 {
		return 0, io.EOF
	}
	*pos += int64(n)
	return n, nil
}

// SafeReadByte reads one byte at *pos and advances it, never touching
// Stream position.
func (s *MemoryStream) SafeReadByte(pos *int64) (byte, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "pos")
	}
	if *pos < 0 {
		return 0, moerr.NewOutOfRange(moerr.Context(), "read position %d", *pos)
	}
	if *pos >= s.length {
		return 0, io.EOF
	}
	var c byte
	if s.largeBuffer != nil {
		c = s.largeBuffer[*pos]
	} else {
		bs := s.manager.blockSize
		c = s.blocks[*pos/bs][*pos%bs]
	}
	*pos++
	return c, nil
}

// readAt copies stream content at off into p, bounded by length.
func (s *MemoryStream) readAt(p []byte, off int64) int {
	if off >= s.length {
		return 0
	}
	n := int64(len(p))
	if remain := s.length - off; n > remain {
		n = remain
	}
	if s.largeBuffer != nil {
		return copy(p[:n], s.largeBuffer[off:off+n])
	}

	bs := s.manager.blockSize
	copied := int64(0)
	for copied < n {
		block := s.blocks[(off+copied)/bs]
		intra := (off + copied) % bs
		copied += int64(copy(p[copied:n], block[intra:]))
	}
	return int(n)
}

// writeAt copies p into the backing storage at off. Capacity must
// already cover off+len(p).
func (s *MemoryStream) writeAt(p []byte, off int64) {
	if s.largeBuffer != nil {
		copy(s.largeBuffer[off:], p)
		return
	}

	bs := s.manager.blockSize
	written := int64(0)
	for written < int64(len(p)) {
		block := s.blocks[(off+written)/bs]
		intra := (off + written) % bs
		written += int64(copy(block[intra:], p[written:]))
	}
}

// Seek moves the position relative to the start, the current position
// or the end. Seeking past the end is legal and does not change
// Length.
func (s *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	ctx := moerr.Context()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.position
	case io.SeekEnd:
		base = s.length
	default:
		return 0, moerr.NewOutOfRange(ctx, "seek whence %d", whence)
	}
	target := base + offset
	if target < 0 {
		return 0, moerr.NewIOError(ctx, "seek to %d, before the beginning of the stream", target)
	}
	if target > MaxStreamLength {
		return 0, moerr.NewOutOfRange(ctx, "seek target %d exceeds the maximum stream length", target)
	}
	s.position = target
	return target, nil
}

// SetLength truncates or extends the logical length, growing capacity
// as needed. A position past the new length is pulled back to it.
func (s *MemoryStream) SetLength(n int64) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if n < 0 || n > MaxStreamLength {
		return moerr.NewOutOfRange(moerr.Context(), "length %d", n)
	}
	if err := s.ensureCapacity(n); err != nil {
		return err
	}
	s.length = n
	if s.position > n {
		s.position = n
	}
	return nil
}

// GetBuffer returns a contiguous view of the stream's storage. While
// the stream holds at most one block the block itself is returned; the
// first call on a stream with more storage promotes it to a large
// buffer, copying the logical content across. Until capacity grows again,
// repeated calls return the same buffer, and bytes written through the
// stream stay observable through it.
func (s *MemoryStream) GetBuffer() ([]byte, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if s.largeBuffer != nil {
		return s.largeBuffer, nil
	}
	if s.length <= s.manager.blockSize && s.capacity() <= s.manager.blockSize {
		if len(s.blocks) == 0 {
			s.blocks = append(s.blocks, s.manager.GetBlock())
		}
		return s.blocks[0], nil
	}

	// promotion: the content or the capacity spans more than one block
	required := s.length
	if required <= s.manager.blockSize {
		required = s.manager.blockSize + 1
	}
	if err := s.checkStreamCapacity(required); err != nil {
		return nil, err
	}
	buf, err := s.manager.GetLargeBuffer(required)
	if err != nil {
		return nil, err
	}
	s.readAt(buf[:s.length], 0)
	s.largeBuffer = buf
	// In passive mode the replaced blocks stay attached and go back to
	// the small pool at Close; aggressive mode returns them now.
	if s.manager.aggressiveBufferReturn.Load() && len(s.blocks) > 0 {
		_ = s.manager.ReturnBlocks(s.blocks)
		s.blocks = nil
	}
	return s.largeBuffer, nil
}

// ToArray returns a fresh copy of the logical content. The result
// never aliases the stream's backing storage.
func (s *MemoryStream) ToArray() ([]byte, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	out := make([]byte, s.length)
	s.readAt(out, 0)
	v2.MemStreamConvertedToArrayCounter.Inc()
	s.manager.eventSink().OnStreamConvertedToArray(s.id, s.tag)
	if s.manager.generateCallStacks.Load() {
		logutil.Debug("memory stream converted to array",
			zap.String("stream", s.name()),
			zap.Int64("length", s.length),
			zap.String("stack", stack.Callers(1).String()))
	}
	return out, nil
}

// WriteTo writes the whole logical content to w without moving the
// stream position.
func (s *MemoryStream) WriteTo(w io.Writer) (int64, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	if w == nil {
		return 0, moerr.NewNullArgument(moerr.Context(), "target")
	}

	if s.largeBuffer != nil {
		n, err := w.Write(s.largeBuffer[:s.length])
		return int64(n), err
	}

	bs := s.manager.blockSize
	var written int64
	for written < s.length {
		block := s.blocks[written/bs]
		chunk := s.length - written
		if chunk > bs {
			chunk = bs
		}
		n, err := w.Write(block[:chunk])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close returns all rented storage to the pools. It is idempotent and
// tolerates concurrent invocation: exactly one call performs the pool
// return, and every later call fires the double-dispose event.
func (s *MemoryStream) Close() error {
	n := s.closed.Add(1)
	if n > 1 {
		if n == 2 && s.manager.generateCallStacks.Load() {
			s.disposeStack2 = stack.Callers(1)
		}
		v2.MemStreamDoubleDisposeCounter.Inc()
		s.manager.eventSink().OnStreamDoubleDispose(s.id, s.tag)
		logutil.Warn("memory stream closed twice",
			zap.String("stream", s.name()))
		return nil
	}

	if s.manager.generateCallStacks.Load() {
		s.disposeStack1 = stack.Callers(1)
	}

	if len(s.blocks) > 0 {
		_ = s.manager.ReturnBlocks(s.blocks)
		s.blocks = nil
	}
	if s.largeBuffer != nil {
		_ = s.manager.ReturnLargeBuffer(s.largeBuffer)
		s.largeBuffer = nil
	}
	for _, buf := range s.dirtyBuffers {
		_ = s.manager.ReturnLargeBuffer(buf)
	}
	s.dirtyBuffers = nil

	v2.MemStreamDisposedCounter.Inc()
	s.manager.eventSink().OnStreamDisposed(s.id, s.tag)
	return nil
}

// String describes the stream for diagnostics. It works on closed
// streams as well.
func (s *MemoryStream) String() string {
	state := "live"
	if s.closed.Load() != 0 {
		state = "closed"
	}
	return fmt.Sprintf("Id = %s, Tag = %s, Length = %s bytes, %s",
		s.id, s.tag, humanize.Comma(s.length), state)
}
