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

package partition

import (
	gods "github.com/Workiva/go-datastructures/queue"

	"github.com/kestrelworks/kestrel/errors"
)

// mailbox is the bounded MPSC command queue feeding one processor loop.
// Multiple producers submit; a single goroutine consumes in FIFO order.
type mailbox struct {
	underlying *gods.RingBuffer
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{
		underlying: gods.NewRingBuffer(uint64(capacity)),
	}
}

// Offer inserts a command without blocking. It returns ErrMailboxFull when
// the mailbox is at capacity so callers can apply backpressure upstream.
func (m *mailbox) Offer(command Command) error {
	ok, err := m.underlying.Offer(command)
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrMailboxFull
	}
	return nil
}

// Put inserts a command, blocking while the mailbox is full. It returns an
// error only once the mailbox has been disposed.
func (m *mailbox) Put(command Command) error {
	return m.underlying.Put(command)
}

// Get removes and returns the next command, blocking while the mailbox is
// empty. ok is false once the mailbox has been disposed.
func (m *mailbox) Get() (Command, bool) {
	item, err := m.underlying.Get()
	if err != nil {
		return Command{}, false
	}
	command, ok := item.(Command)
	return command, ok
}

// Len returns a snapshot of the queued command count.
func (m *mailbox) Len() int64 {
	return int64(m.underlying.Len())
}

// Dispose unblocks every waiting producer and the consumer. The mailbox must
// not be used afterwards.
func (m *mailbox) Dispose() {
	m.underlying.Dispose()
}
