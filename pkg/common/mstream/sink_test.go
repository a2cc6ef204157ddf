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
	"sync/atomic"

	"github.com/google/uuid"
)

// countingSink counts lifecycle events; safe for concurrent use.
type countingSink struct {
	blockCreated         atomic.Int64
	blockDiscarded       atomic.Int64
	largeCreated         atomic.Int64
	nonPooledCreated     atomic.Int64
	largeDiscarded       atomic.Int64
	streamCreated        atomic.Int64
	streamDisposed       atomic.Int64
	streamDoubleDispose  atomic.Int64
	streamToArray        atomic.Int64
	streamOverCapacity   atomic.Int64
	lastDiscardReason    atomic.Int32
	lastOverCapacityNeed atomic.Int64
}

var _ EventSink = (*countingSink)(nil)

func (c *countingSink) OnBlockCreated()   { c.blockCreated.Add(1) }
func (c *countingSink) OnBlockDiscarded() { c.blockDiscarded.Add(1) }
func (c *countingSink) OnLargeBufferCreated() {
	c.largeCreated.Add(1)
}
func (c *countingSink) OnNonPooledLargeBufferCreated(int64) {
	c.nonPooledCreated.Add(1)
}
func (c *countingSink) OnLargeBufferDiscarded(reason LargeBufferDiscardReason) {
	c.largeDiscarded.Add(1)
	c.lastDiscardReason.Store(int32(reason))
}
func (c *countingSink) OnStreamCreated(uuid.UUID, string)  { c.streamCreated.Add(1) }
func (c *countingSink) OnStreamDisposed(uuid.UUID, string) { c.streamDisposed.Add(1) }
func (c *countingSink) OnStreamDoubleDispose(uuid.UUID, string) {
	c.streamDoubleDispose.Add(1)
}
func (c *countingSink) OnStreamConvertedToArray(uuid.UUID, string) { c.streamToArray.Add(1) }
func (c *countingSink) OnStreamOverCapacity(_ uuid.UUID, _ string, required, _ int64) {
	c.streamOverCapacity.Add(1)
	c.lastOverCapacityNeed.Store(required)
}
