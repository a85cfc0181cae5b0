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

// Package timer implements the durable timer log: sleep wake-ups and
// deferred invocations scheduled for a future wall-clock time. Timers
// survive restarts; firing is idempotent because the state machine treats a
// wake-up for an already completed entry as a no-op.
package timer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
)

// Kind discriminates the timer variants.
type Kind int

const (
	// KindCompleteSleepEntry wakes up a sleeping invocation by completing
	// its sleep entry.
	KindCompleteSleepEntry Kind = iota + 1
	// KindInvoke starts an invocation that was deferred to a future time.
	KindInvoke
)

// String returns the timer kind name.
func (k Kind) String() string {
	switch k {
	case KindCompleteSleepEntry:
		return "CompleteSleepEntry"
	case KindInvoke:
		return "Invoke"
	default:
		return "Unknown"
	}
}

// Sleep identifies the sleep entry a wake-up timer targets.
type Sleep struct {
	FID        identity.FullInvocationId
	EntryIndex journal.EntryIndex
}

// Timer is one tagged timer record.
type Timer struct {
	kind       Kind
	sleep      *Sleep
	invocation *invocation.ServiceInvocation
}

// NewCompleteSleepEntryTimer creates a wake-up timer for the given sleep entry.
func NewCompleteSleepEntryTimer(fid identity.FullInvocationId, entryIndex journal.EntryIndex) Timer {
	return Timer{
		kind:  KindCompleteSleepEntry,
		sleep: &Sleep{FID: fid, EntryIndex: entryIndex},
	}
}

// NewInvokeTimer creates a deferred-invocation timer.
func NewInvokeTimer(inv invocation.ServiceInvocation) Timer {
	return Timer{
		kind:       KindInvoke,
		invocation: &inv,
	}
}

// Kind returns the active variant.
func (t Timer) Kind() Kind {
	return t.kind
}

// Sleep returns the targeted sleep entry.
func (t Timer) Sleep() (Sleep, bool) {
	if t.sleep == nil {
		return Sleep{}, false
	}
	return *t.sleep, true
}

// Invocation returns the deferred invocation.
func (t Timer) Invocation() (invocation.ServiceInvocation, bool) {
	if t.invocation == nil {
		return invocation.ServiceInvocation{}, false
	}
	return *t.invocation, true
}

// String returns a human-readable representation of the timer.
func (t Timer) String() string {
	switch t.kind {
	case KindCompleteSleepEntry:
		return fmt.Sprintf("CompleteSleepEntry(%s#%d)", t.sleep.FID, t.sleep.EntryIndex)
	case KindInvoke:
		return fmt.Sprintf("Invoke(%s)", t.invocation.FID)
	default:
		return "Unknown"
	}
}

// Sequenced pairs a timer with its sequence number and wake-up time. The
// sequence number makes every timer unique even when two share the same
// wake-up instant.
type Sequenced struct {
	SeqNumber uint64
	FireAt    time.Time
	Timer     Timer
}

// Store is the durable backing of one partition's timer log.
// Implementations live in the storage package.
type Store interface {
	// PutTimer persists a scheduled timer.
	PutTimer(ctx context.Context, timer Sequenced) error
	// DeleteTimer removes a timer, scheduled or already fired. Deleting an
	// unknown sequence number is a no-op.
	DeleteTimer(ctx context.Context, seqNumber uint64) error
	// ListTimers returns all stored timers in sequence order.
	ListTimers(ctx context.Context) ([]Sequenced, error)
}

// Log assigns sequence numbers to timers and keeps them durable until they
// fire. It is driven by the partition's single command loop.
type Log struct {
	store Store
	next  *atomic.Uint64
}

// NewLog creates a Log over the given store. next must be one past the
// highest sequence number ever used by this partition.
func NewLog(store Store, next uint64) *Log {
	return &Log{
		store: store,
		next:  atomic.NewUint64(next),
	}
}

// Schedule persists a timer and returns it with its assigned sequence number.
func (x *Log) Schedule(ctx context.Context, fireAt time.Time, timer Timer) (Sequenced, error) {
	sequenced := Sequenced{
		SeqNumber: x.next.Inc() - 1,
		FireAt:    fireAt,
		Timer:     timer,
	}
	if err := x.store.PutTimer(ctx, sequenced); err != nil {
		return Sequenced{}, err
	}
	return sequenced, nil
}

// Remove deletes a timer after it fired or was cancelled. Removing an
// already removed timer is a no-op, which makes duplicated fire commands
// harmless.
func (x *Log) Remove(ctx context.Context, seqNumber uint64) error {
	return x.store.DeleteTimer(ctx, seqNumber)
}

// CancelSleep deletes every pending wake-up targeting the given sleep entry.
// It reports whether any timer was removed.
func (x *Log) CancelSleep(ctx context.Context, fid identity.FullInvocationId, entryIndex journal.EntryIndex) (bool, error) {
	timers, err := x.store.ListTimers(ctx)
	if err != nil {
		return false, err
	}
	removed := false
	for _, sequenced := range timers {
		sleep, ok := sequenced.Timer.Sleep()
		if !ok {
			continue
		}
		if sleep.FID.ServiceId.Equal(fid.ServiceId) &&
			sleep.FID.InvocationUUID == fid.InvocationUUID &&
			sleep.EntryIndex == entryIndex {
			if err := x.store.DeleteTimer(ctx, sequenced.SeqNumber); err != nil {
				return removed, err
			}
			removed = true
		}
	}
	return removed, nil
}

// Pending returns all stored timers in sequence order. The partition replays
// them into the driver when it starts.
func (x *Log) Pending(ctx context.Context) ([]Sequenced, error) {
	return x.store.ListTimers(ctx)
}

// NextSeqNumber returns the sequence number the next scheduled timer will take.
func (x *Log) NextSeqNumber() uint64 {
	return x.next.Load()
}
