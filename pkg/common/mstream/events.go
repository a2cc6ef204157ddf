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

import "github.com/google/uuid"

// LargeBufferDiscardReason says why a returned large buffer was dropped
// instead of being put back on a free list.
type LargeBufferDiscardReason uint8

const (
	// DiscardTooLarge: the buffer's length is not a permitted pool size.
	DiscardTooLarge LargeBufferDiscardReason = iota
	// DiscardEnoughFree: the free pool already holds its configured maximum.
	DiscardEnoughFree
)

func (r LargeBufferDiscardReason) String() string {
	switch r {
	case DiscardTooLarge:
		return "too-large"
	case DiscardEnoughFree:
		return "enough-free"
	default:
		return "unknown"
	}
}

// EventSink receives pool and stream lifecycle notifications. All
// methods may be called concurrently and must not block; a sink that
// needs to do real work should hand off to its own goroutine.
type EventSink interface {
	OnBlockCreated()
	OnBlockDiscarded()
	OnLargeBufferCreated()
	OnNonPooledLargeBufferCreated(required int64)
	OnLargeBufferDiscarded(reason LargeBufferDiscardReason)
	OnStreamCreated(id uuid.UUID, tag string)
	OnStreamDisposed(id uuid.UUID, tag string)
	OnStreamDoubleDispose(id uuid.UUID, tag string)
	OnStreamConvertedToArray(id uuid.UUID, tag string)
	OnStreamOverCapacity(id uuid.UUID, tag string, required, maximum int64)
}

// NopEventSink implements EventSink with no-ops. Embed it to implement
// only the events you care about.
type NopEventSink struct{}

var _ EventSink = NopEventSink{}

func (NopEventSink) OnBlockCreated()                                      {}
func (NopEventSink) OnBlockDiscarded()                                    {}
func (NopEventSink) OnLargeBufferCreated()                                {}
func (NopEventSink) OnNonPooledLargeBufferCreated(int64)                  {}
func (NopEventSink) OnLargeBufferDiscarded(LargeBufferDiscardReason)      {}
func (NopEventSink) OnStreamCreated(uuid.UUID, string)                    {}
func (NopEventSink) OnStreamDisposed(uuid.UUID, string)                   {}
func (NopEventSink) OnStreamDoubleDispose(uuid.UUID, string)              {}
func (NopEventSink) OnStreamConvertedToArray(uuid.UUID, string)           {}
func (NopEventSink) OnStreamOverCapacity(uuid.UUID, string, int64, int64) {}
