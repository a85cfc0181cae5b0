// MIT License
//
// Copyright (c) 2024-2026 Kestrel Works
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package outbox

import (
	"context"

	"go.uber.org/atomic"
)

// Store is the durable backing of one partition's outbox. Implementations
// live in the storage package.
type Store interface {
	// PutOutboxMessage persists the message at the given position.
	PutOutboxMessage(ctx context.Context, position uint64, message Message) error
	// NextOutboxMessage returns the first stored message at or after the
	// given position. ok is false when the tail is exhausted.
	NextOutboxMessage(ctx context.Context, from uint64) (Sequenced, bool, error)
	// TruncateOutbox removes every stored message at or below the given
	// position.
	TruncateOutbox(ctx context.Context, upTo uint64) error
}

// Outbox assigns strictly increasing positions to outgoing effects and keeps
// them durable until acknowledged. Enqueue is called by the partition's
// single command loop; Drain and Ack are called by the external dispatcher.
type Outbox struct {
	store Store
	// next is the position the next enqueued message will take. It is
	// restored from storage on partition open so positions never repeat
	// across restarts.
	next *atomic.Uint64
}

// New creates an Outbox over the given store. next must be one past the
// highest position ever used by this partition (zero for a fresh partition).
func New(store Store, next uint64) *Outbox {
	return &Outbox{
		store: store,
		next:  atomic.NewUint64(next),
	}
}

// Enqueue appends the message and returns its position.
func (x *Outbox) Enqueue(ctx context.Context, message Message) (uint64, error) {
	position := x.next.Inc() - 1
	if err := x.store.PutOutboxMessage(ctx, position, message); err != nil {
		return 0, err
	}
	return position, nil
}

// NextPosition returns the position the next enqueued message will take.
func (x *Outbox) NextPosition() uint64 {
	return x.next.Load()
}

// Ack marks the message at the given position delivered. It and every
// message before it become eligible for truncation and are never yielded by
// a subsequent drain.
func (x *Outbox) Ack(ctx context.Context, position uint64) error {
	return x.store.TruncateOutbox(ctx, position)
}

// DrainFrom returns a cursor over the undelivered tail starting at the given
// position. The cursor is lazy and restartable: a fresh cursor from the last
// unacked position reproduces exactly the undelivered tail, in strictly
// increasing position order.
func (x *Outbox) DrainFrom(position uint64) *Cursor {
	return &Cursor{
		store: x.store,
		next:  position,
	}
}

// Cursor walks the outbox tail in position order.
type Cursor struct {
	store Store
	next  uint64
}

// Next returns the next undelivered message. ok is false when the tail is
// exhausted; the cursor stays valid and picks up messages enqueued later.
func (c *Cursor) Next(ctx context.Context) (Sequenced, bool, error) {
	sequenced, ok, err := c.store.NextOutboxMessage(ctx, c.next)
	if err != nil || !ok {
		return Sequenced{}, false, err
	}
	c.next = sequenced.Position + 1
	return sequenced, true, nil
}
