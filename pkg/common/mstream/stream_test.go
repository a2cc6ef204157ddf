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
	"bytes"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/mostream/pkg/common/moerr"
)

func randBytes(t *testing.T, n int) []byte {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestStreamWriteRead(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("write-read")
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	data := randBytes(t, 3*testBlockSize+17)
	n, err := s.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	length, err := s.Length()
	require.NoError(t, err)
	require.EqualValues(t, len(data), length)

	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)

	got := make([]byte, len(data))
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// at the end the next read reports EOF
	_, err = s.Read(make([]byte, 1))
	require.Equal(t, io.EOF, err)
}

func TestStreamBlockToLargePromotion(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("promotion")
	require.NoError(t, err)

	data := randBytes(t, testBlockSize+1)
	_, err = s.Write(data)
	require.NoError(t, err)

	capacity, err := s.Capacity()
	require.NoError(t, err)
	require.EqualValues(t, 2*testBlockSize, capacity, "16385 bytes need exactly two blocks")
	require.EqualValues(t, 2*testBlockSize, m.SmallPoolInUseSize())

	buf, err := s.GetBuffer()
	require.NoError(t, err)
	require.Len(t, buf, testLargeMultiple)

	capacity, err = s.Capacity()
	require.NoError(t, err)
	require.EqualValues(t, testLargeMultiple, capacity)

	// passive mode keeps the superseded blocks until Close
	require.EqualValues(t, 2*testBlockSize, m.SmallPoolInUseSize())
	require.EqualValues(t, testLargeMultiple, m.LargePoolInUseSize())

	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got := make([]byte, len(data))
	_, err = io.ReadFull(s, got)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, s.Close())
	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	require.EqualValues(t, 0, m.LargePoolInUseSize())
	require.EqualValues(t, 2*testBlockSize, m.SmallPoolFreeSize())
	require.EqualValues(t, testLargeMultiple, m.LargePoolFreeSize())
}

func TestStreamAggressiveReturn(t *testing.T) {
	m := newTestManager(t)
	m.SetAggressiveBufferReturn(true)

	s, err := m.GetStream("aggressive")
	require.NoError(t, err)

	_, err = s.Write(randBytes(t, testBlockSize+1))
	require.NoError(t, err)
	require.EqualValues(t, 2*testBlockSize, m.SmallPoolInUseSize())

	_, err = s.GetBuffer()
	require.NoError(t, err)

	// the blocks went back to the small pool at promotion time
	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	require.EqualValues(t, 2*testBlockSize, m.SmallPoolFreeSize())

	// growing the large buffer returns the smaller one immediately
	require.NoError(t, s.SetCapacity(testLargeMultiple+1))
	require.EqualValues(t, 2*testLargeMultiple, m.LargePoolInUseSize())
	require.EqualValues(t, testLargeMultiple, m.LargePoolFreeSize())

	require.NoError(t, s.Close())
	require.EqualValues(t, 0, m.LargePoolInUseSize())
}

func TestStreamGetBufferSmall(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("small-buffer")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// works on an empty stream: a single zeroed block view
	buf, err := s.GetBuffer()
	require.NoError(t, err)
	require.Len(t, buf, testBlockSize)

	// content below one block does not promote
	_, err = s.Write([]byte("abc"))
	require.NoError(t, err)
	again, err := s.GetBuffer()
	require.NoError(t, err)
	require.Len(t, again, testBlockSize)
	require.Equal(t, []byte("abc"), again[:3])
	require.EqualValues(t, 0, m.LargePoolInUseSize())
}

func TestStreamGetBufferStable(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("stable")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Write(randBytes(t, testBlockSize+1))
	require.NoError(t, err)

	b1, err := s.GetBuffer()
	require.NoError(t, err)
	b2, err := s.GetBuffer()
	require.NoError(t, err)
	require.True(t, &b1[0] == &b2[0], "GetBuffer must return the same buffer until capacity grows")

	// writes through the stream remain observable through the buffer
	_, err = s.Write([]byte{0xEE})
	require.NoError(t, err)
	length, err := s.Length()
	require.NoError(t, err)
	require.Equal(t, byte(0xEE), b1[length-1])

	// a capacity-growing operation produces a new buffer
	require.NoError(t, s.SetCapacity(testLargeMultiple+1))
	b3, err := s.GetBuffer()
	require.NoError(t, err)
	require.Len(t, b3, 2*testLargeMultiple)
	require.False(t, &b1[0] == &b3[0])
}

func TestStreamContiguous(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStreamContiguous("contiguous", testBlockSize+1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// storage starts as a single large buffer; no blocks are rented
	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	require.EqualValues(t, testLargeMultiple, m.LargePoolInUseSize())

	capacity, err := s.Capacity()
	require.NoError(t, err)
	require.EqualValues(t, testLargeMultiple, capacity)
}

func TestStreamWithCapacity(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStreamWithCapacity("lazy", 3*testBlockSize)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.EqualValues(t, 3*testBlockSize, m.SmallPoolInUseSize())
	length, err := s.Length()
	require.NoError(t, err)
	require.EqualValues(t, 0, length)
}

func TestStreamFromBytes(t *testing.T) {
	m := newTestManager(t)
	src := randBytes(t, 1000)

	s, err := m.GetStreamFromBytes("copied", src)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	pos, err := s.Position()
	require.NoError(t, err)
	require.EqualValues(t, 0, pos)

	buf, err := s.GetBuffer()
	require.NoError(t, err)
	require.Equal(t, src, buf[:1000])
	require.True(t, &buf[0] != &src[0], "stream storage must not alias the source")

	_, err = m.GetStreamFromBytes("nil-src", nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNullArgument))
}

func TestStreamToArray(t *testing.T) {
	m := newTestManager(t)
	var sink countingSink
	m.SetEventSink(&sink)

	s, err := m.GetStream("to-array")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	data := randBytes(t, 2*testBlockSize+5)
	_, err = s.Write(data)
	require.NoError(t, err)

	out, err := s.ToArray()
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.EqualValues(t, 1, sink.streamToArray.Load())

	buf, err := s.GetBuffer()
	require.NoError(t, err)
	require.True(t, &out[0] != &buf[0], "ToArray must not alias GetBuffer")

	// mutating the copy does not touch the stream
	out[0] ^= 0xFF
	again, err := s.ToArray()
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func TestStreamWriteTo(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("write-to")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	data := randBytes(t, 2*testBlockSize+100)
	_, err = s.Write(data)
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := s.WriteTo(&out)
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)
	require.Equal(t, data, out.Bytes())

	// position is untouched by WriteTo
	pos, err := s.Position()
	require.NoError(t, err)
	require.EqualValues(t, len(data), pos)
}

func TestStreamSeek(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("seek")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Write([]byte("0123456789"))
	require.NoError(t, err)

	pos, err := s.Seek(2, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 2, pos)

	pos, err = s.Seek(3, io.SeekCurrent)
	require.NoError(t, err)
	require.EqualValues(t, 5, pos)

	pos, err = s.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, 6, pos)

	c, err := s.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte('6'), c)

	// seeking past the end is legal and does not extend the stream
	pos, err = s.Seek(100, io.SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, 110, pos)
	length, err := s.Length()
	require.NoError(t, err)
	require.EqualValues(t, 10, length)
	_, err = s.Read(make([]byte, 1))
	require.Equal(t, io.EOF, err)

	_, err = s.Seek(-1, io.SeekStart)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrIOError))

	_, err = s.Seek(MaxStreamLength, io.SeekEnd)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOutOfRange))

	_, err = s.Seek(0, 42)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOutOfRange))
}

func TestStreamWritePastEndZeroFill(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("gap")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Seek(testBlockSize+10, io.SeekStart)
	require.NoError(t, err)
	_, err = s.Write([]byte{0xCD})
	require.NoError(t, err)

	length, err := s.Length()
	require.NoError(t, err)
	require.EqualValues(t, testBlockSize+11, length)

	out, err := s.ToArray()
	require.NoError(t, err)
	for i := 0; i < testBlockSize+10; i++ {
		require.EqualValues(t, 0, out[i], "gap byte %d must read as zero", i)
	}
	require.Equal(t, byte(0xCD), out[testBlockSize+10])
}

func TestStreamSetLength(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("set-length")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Write([]byte("hello world"))
	require.NoError(t, err)

	// shrink pulls the position back
	require.NoError(t, s.SetLength(5))
	pos, err := s.Position()
	require.NoError(t, err)
	require.EqualValues(t, 5, pos)

	// extend leaves the position alone and allocates capacity
	require.NoError(t, s.SetLength(2 * testBlockSize))
	pos, err = s.Position()
	require.NoError(t, err)
	require.EqualValues(t, 5, pos)
	capacity, err := s.Capacity()
	require.NoError(t, err)
	require.True(t, capacity >= 2*testBlockSize)

	require.Error(t, s.SetLength(-1))
	require.Error(t, s.SetLength(MaxStreamLength+1))
}

func TestStreamCapacityNeverShrinks(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStreamWithCapacity("no-shrink", 4*testBlockSize)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.SetCapacity(1))
	capacity, err := s.Capacity()
	require.NoError(t, err)
	require.EqualValues(t, 4*testBlockSize, capacity)
}

func TestStreamWriteByte(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("write-byte")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	for i := 0; i < testBlockSize; i++ {
		require.NoError(t, s.WriteByte(byte(i)))
	}
	capacity, err := s.Capacity()
	require.NoError(t, err)
	require.EqualValues(t, testBlockSize, capacity, "writing inside capacity must not grow it")

	require.NoError(t, s.WriteByte(0x7F))
	capacity, err = s.Capacity()
	require.NoError(t, err)
	require.EqualValues(t, 2*testBlockSize, capacity)

	_, err = s.Seek(-1, io.SeekEnd)
	require.NoError(t, err)
	c, err := s.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x7F), c)
	_, err = s.ReadByte()
	require.Equal(t, io.EOF, err)
}

func TestStreamFailedWriteLeavesStateUnchanged(t *testing.T) {
	m := newTestManager(t)
	m.SetMaximumStreamCapacity(testBlockSize)

	var sink countingSink
	m.SetEventSink(&sink)

	s, err := m.GetStream("bounded")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Write(randBytes(t, 100))
	require.NoError(t, err)

	length0, _ := s.Length()
	pos0, _ := s.Position()
	cap0, _ := s.Capacity()

	_, err = s.Write(randBytes(t, testBlockSize))
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamOverCapacity))
	require.EqualValues(t, 1, sink.streamOverCapacity.Load())

	length1, _ := s.Length()
	pos1, _ := s.Position()
	cap1, _ := s.Capacity()
	assert.Equal(t, length0, length1)
	assert.Equal(t, pos0, pos1)
	assert.Equal(t, cap0, cap1)

	err = s.SetCapacity(2 * testBlockSize)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamOverCapacity))
	cap2, _ := s.Capacity()
	assert.Equal(t, cap0, cap2)
}

func TestMaximumStreamCapacity(t *testing.T) {
	m := newTestManager(t)
	m.SetMaximumStreamCapacity(2 * testMaxBufferSize)

	s, err := m.GetStream("max-capacity")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// writing exactly up to the bound succeeds
	_, err = s.Write(make([]byte, 2*testMaxBufferSize))
	require.NoError(t, err)

	length0, _ := s.Length()
	pos0, _ := s.Position()
	cap0, _ := s.Capacity()

	// one more byte would push capacity past the bound
	_, err = s.Write([]byte{1})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamOverCapacity))

	length1, _ := s.Length()
	pos1, _ := s.Position()
	cap1, _ := s.Capacity()
	require.Equal(t, length0, length1)
	require.Equal(t, pos0, pos1)
	require.Equal(t, cap0, cap1)
}

func TestStreamClose(t *testing.T) {
	m := newTestManager(t)
	var sink countingSink
	m.SetEventSink(&sink)

	s, err := m.GetStream("close")
	require.NoError(t, err)
	_, err = s.Write(randBytes(t, 10))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	freeAfterFirst := m.SmallPoolFreeSize()

	// closing again is tolerated and counters do not move
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	require.Equal(t, freeAfterFirst, m.SmallPoolFreeSize())
	require.EqualValues(t, 1, sink.streamDisposed.Load())
	require.EqualValues(t, 2, sink.streamDoubleDispose.Load())

	// every operation after close fails
	_, err = s.Write([]byte{1})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.Read(make([]byte, 1))
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.Seek(0, io.SeekStart)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.Length()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.Capacity()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.Position()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.Tag()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.ID()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.GetBuffer()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	_, err = s.ToArray()
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
	err = s.SetLength(0)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrStreamClosed))
}

func TestStreamConcurrentDoubleClose(t *testing.T) {
	defer leaktest.AfterTest(t)()
	m := newTestManager(t)
	var sink countingSink
	m.SetEventSink(&sink)

	s, err := m.GetStream("double-close")
	require.NoError(t, err)
	written := int64(10)
	_, err = s.Write(randBytes(t, int(written)))
	require.NoError(t, err)
	require.EqualValues(t, testBlockSize, m.SmallPoolInUseSize())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()

	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	require.EqualValues(t, testBlockSize, m.SmallPoolFreeSize())
	require.EqualValues(t, 1, sink.streamDisposed.Load())
	require.EqualValues(t, 1, sink.streamDoubleDispose.Load())
}

func TestStreamSafeReadParallel(t *testing.T) {
	defer leaktest.AfterTest(t)()
	m := newTestManager(t)
	s, err := m.GetStream("safe-read")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	const total = 1000000
	data := randBytes(t, total)
	_, err = s.Write(data)
	require.NoError(t, err)
	require.NoError(t, s.SetPosition(0))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			buf := make([]byte, 8192)
			for i := 0; i < 500; i++ {
				pos := rng.Int63n(total)
				length := rng.Intn(len(buf))
				if pos+int64(length) > total {
					length = int(total - pos)
				}
				start := pos
				n, err := s.SafeRead(buf[:length], &pos)
				if length == 0 {
					if n != 0 {
						panic("read bytes for an empty request")
					}
					continue
				}
				if err != nil {
					panic(err)
				}
				if n != length || pos != start+int64(n) {
					panic("short safe read")
				}
				if !bytes.Equal(buf[:n], data[start:start+int64(n)]) {
					panic("safe read content mismatch")
				}
			}
		}(int64(g))
	}
	wg.Wait()

	// SafeRead never moves the stream position
	pos, err := s.Position()
	require.NoError(t, err)
	require.EqualValues(t, 0, pos)
}

func TestStreamReadAt(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("read-at")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	data := randBytes(t, 2*testBlockSize)
	_, err = s.Write(data)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := s.ReadAt(buf, testBlockSize-50)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	require.Equal(t, data[testBlockSize-50:testBlockSize+50], buf)

	// a short read at the tail reports io.EOF per the ReaderAt contract
	n, err = s.ReadAt(buf, int64(len(data))-10)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 10, n)

	_, err = s.ReadAt(buf, -1)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrOutOfRange))
}

func TestStreamSafeReadByte(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("safe-read-byte")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.Write([]byte{10, 20, 30})
	require.NoError(t, err)

	pos := int64(1)
	c, err := s.SafeReadByte(&pos)
	require.NoError(t, err)
	require.Equal(t, byte(20), c)
	require.EqualValues(t, 2, pos)

	pos = 3
	_, err = s.SafeReadByte(&pos)
	require.Equal(t, io.EOF, err)

	streamPos, err := s.Position()
	require.NoError(t, err)
	require.EqualValues(t, 3, streamPos, "SafeReadByte must not move the stream position")
}

func TestDirectConstruction(t *testing.T) {
	m := newTestManager(t)

	s, err := NewMemoryStreamWithCapacity(m, "direct", 2*testBlockSize)
	require.NoError(t, err)
	require.EqualValues(t, 2*testBlockSize, m.SmallPoolInUseSize())

	tag, err := s.Tag()
	require.NoError(t, err)
	require.Equal(t, "direct", tag)
	require.NoError(t, s.Close())

	s2, err := NewMemoryStream(m)
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	_, err = NewMemoryStreamWithTag(nil, "no-manager")
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrNullArgument))
}

func TestStreamIdentity(t *testing.T) {
	m := newTestManager(t)
	s1, err := m.GetStream("tagged")
	require.NoError(t, err)
	defer func() { _ = s1.Close() }()
	s2, err := m.GetStream("")
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	id1, err := s1.ID()
	require.NoError(t, err)
	id2, err := s2.ID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	tag, err := s1.Tag()
	require.NoError(t, err)
	require.Equal(t, "tagged", tag)

	require.Contains(t, s1.String(), "tagged")
	require.Contains(t, s1.String(), id1.String())
}

func TestStreamStringThousands(t *testing.T) {
	m := newTestManager(t)
	s, err := m.GetStream("fmt")
	require.NoError(t, err)

	_, err = s.Write(make([]byte, 1234567))
	require.NoError(t, err)
	require.Contains(t, s.String(), "1,234,567")

	// String keeps working on a closed stream
	require.NoError(t, s.Close())
	require.Contains(t, s.String(), "closed")
}

func TestStreamCallStacks(t *testing.T) {
	m := newTestManager(t)
	m.SetGenerateCallStacks(true)

	s, err := m.GetStream("stacks")
	require.NoError(t, err)
	require.NotEmpty(t, s.AllocationStack())
	require.Contains(t, s.AllocationStack().String(), "TestStreamCallStacks")

	require.NoError(t, s.Close())
	first, second := s.DisposeStacks()
	require.NotEmpty(t, first)
	require.Empty(t, second)

	require.NoError(t, s.Close())
	_, second = s.DisposeStacks()
	require.NotEmpty(t, second)
}

func TestStreamRoundTripSizes(t *testing.T) {
	m := newTestManager(t)
	for _, size := range []int{0, 1, testBlockSize - 1, testBlockSize, testBlockSize + 1,
		5 * testBlockSize, testLargeMultiple + 3} {
		data := randBytes(t, size)
		s, err := m.GetStream("round-trip")
		require.NoError(t, err)

		_, err = s.Write(data)
		require.NoError(t, err)
		out, err := s.ToArray()
		require.NoError(t, err)
		require.Equal(t, data, out, "size %d", size)

		require.NoError(t, s.Close())
	}
	require.EqualValues(t, 0, m.SmallPoolInUseSize())
	require.EqualValues(t, 0, m.LargePoolInUseSize())
}

func BenchmarkStreamWrite(b *testing.B) {
	m := NewDefaultPoolManager()
	payload := make([]byte, 4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := m.GetStream("bench")
		if err != nil {
			panic(err)
		}
		for j := 0; j < 64; j++ {
			if _, err := s.Write(payload); err != nil {
				panic(err)
			}
		}
		if _, err := s.GetBuffer(); err != nil {
			panic(err)
		}
		if err := s.Close(); err != nil {
			panic(err)
		}
	}
}
