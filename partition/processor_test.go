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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/storage"
	"github.com/kestrelworks/kestrel/timer"
)

const fullRange = identity.PartitionKey(^uint64(0))

// chanInvoker delivers invoker signals over channels so tests can wait on
// them without racing the command loop.
type chanInvoker struct {
	invoked     chan identity.FullInvocationId
	completions chan journal.Completion
}

var _ Invoker = (*chanInvoker)(nil)

func newChanInvoker() *chanInvoker {
	return &chanInvoker{
		invoked:     make(chan identity.FullInvocationId, 16),
		completions: make(chan journal.Completion, 16),
	}
}

func (c *chanInvoker) Invoke(_ context.Context, fid identity.FullInvocationId, _ invocation.Metadata) {
	c.invoked <- fid
}

func (c *chanInvoker) NotifyCompletion(_ context.Context, _ identity.FullInvocationId, completion journal.Completion) {
	c.completions <- completion
}

func (c *chanInvoker) Abort(context.Context, identity.FullInvocationId) {}

func awaitInvoke(t *testing.T, invoker *chanInvoker) identity.FullInvocationId {
	t.Helper()
	select {
	case fid := <-invoker.invoked:
		return fid
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an invoke")
		return identity.FullInvocationId{}
	}
}

func TestProcessor_StartSubmitStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.TODO()

	invoker := newChanInvoker()
	processor := NewProcessor(1, 0, fullRange, storage.NewMemoryStore(),
		WithProcessorInvoker(invoker))
	require.NoError(t, processor.Start(ctx))
	// Starting twice is a no-op.
	require.NoError(t, processor.Start(ctx))

	inv := newInvocation("a")
	require.NoError(t, processor.Submit(ctx, NewInvokeCommand(inv)))
	assert.Equal(t, inv.FID, awaitInvoke(t, invoker))

	require.NoError(t, processor.Stop(ctx))
	// Stopping twice is a no-op too.
	require.NoError(t, processor.Stop(ctx))
	assert.ErrorIs(t, processor.Submit(ctx, NewInvokeCommand(inv)), errors.ErrProcessorNotStarted)
}

func TestProcessor_SubmitBeforeStart(t *testing.T) {
	processor := NewProcessor(1, 0, fullRange, storage.NewMemoryStore())
	err := processor.Submit(context.TODO(), NewInvokeCommand(newInvocation("a")))
	assert.ErrorIs(t, err, errors.ErrProcessorNotStarted)
}

func TestProcessor_RejectsForeignPartitionKey(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.TODO()

	inv := newInvocation("a")
	key := inv.FID.ServiceId.PartitionKey()
	fromKey, toKey := identity.PartitionKey(0), key-1
	if key == 0 {
		fromKey, toKey = 1, fullRange
	}
	processor := NewProcessor(1, fromKey, toKey, storage.NewMemoryStore())
	require.NoError(t, processor.Start(ctx))
	defer func() { require.NoError(t, processor.Stop(ctx)) }()

	assert.False(t, processor.Owns(key))
	assert.ErrorIs(t, processor.Submit(ctx, NewInvokeCommand(inv)), errors.ErrWrongPartition)
}

func TestProcessor_DropsStaleCommands(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.TODO()

	invoker := newChanInvoker()
	processor := NewProcessor(1, 0, fullRange, storage.NewMemoryStore(),
		WithProcessorInvoker(invoker))
	require.NoError(t, processor.Start(ctx))
	defer func() { require.NoError(t, processor.Stop(ctx)) }()

	first := newInvocation("a")
	require.NoError(t, processor.Submit(ctx,
		NewInvokeCommand(first).WithDedup("producer-1", dedup.Plain(5))))
	assert.Equal(t, first.FID, awaitInvoke(t, invoker))

	// A replay of the same sequence number is absorbed by the guard.
	duplicate := newInvocation("b")
	require.NoError(t, processor.Submit(ctx,
		NewInvokeCommand(duplicate).WithDedup("producer-1", dedup.Plain(5))))

	// The loop is FIFO: seeing the next command applied proves the
	// duplicate before it was dropped.
	next := newInvocation("c")
	require.NoError(t, processor.Submit(ctx,
		NewInvokeCommand(next).WithDedup("producer-1", dedup.Plain(6))))
	assert.Equal(t, next.FID, awaitInvoke(t, invoker))
	assert.Empty(t, invoker.invoked)
}

func TestProcessor_SleepWakesThroughLoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.TODO()

	invoker := newChanInvoker()
	processor := NewProcessor(1, 0, fullRange, storage.NewMemoryStore(),
		WithProcessorInvoker(invoker))
	require.NoError(t, processor.Start(ctx))
	defer func() { require.NoError(t, processor.Stop(ctx)) }()

	inv := newInvocation("a")
	require.NoError(t, processor.Submit(ctx, NewInvokeCommand(inv)))
	awaitInvoke(t, invoker)

	sleep := journal.Entry{
		Header: journal.EntryHeader{Type: journal.EntryTypeSleep},
		RawEntry: journal.MarshalSleepPayload(journal.SleepPayload{
			WakeUpTime: time.Now().Add(20 * time.Millisecond),
		}),
	}
	require.NoError(t, processor.Submit(ctx, journalEntryEffect(inv.FID, 1, sleep)))

	select {
	case completion := <-invoker.completions:
		assert.EqualValues(t, 1, completion.EntryIndex)
		assert.True(t, completion.Result.IsEmpty())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the sleep wake-up")
	}
}

func TestProcessor_RearmsPendingTimersOnStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.TODO()

	// A deferred invocation survives in the timer log across restarts. Seed
	// it as a previous incarnation would have left it, then start.
	store := storage.NewMemoryStore()
	inv := newInvocation("a")
	require.NoError(t, store.PutTimer(ctx, timer.Sequenced{
		SeqNumber: 0,
		FireAt:    time.Now().Add(30 * time.Millisecond),
		Timer:     timer.NewInvokeTimer(inv),
	}))

	invoker := newChanInvoker()
	processor := NewProcessor(1, 0, fullRange, store,
		WithProcessorInvoker(invoker))
	require.NoError(t, processor.Start(ctx))
	defer func() { require.NoError(t, processor.Stop(ctx)) }()

	assert.Equal(t, inv.FID, awaitInvoke(t, invoker))
}

func TestManager_RoutesByPartitionKey(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.TODO()

	mid := identity.PartitionKey(^uint64(0) / 2)
	lowInvoker := newChanInvoker()
	highInvoker := newChanInvoker()
	low := NewProcessor(1, 0, mid, storage.NewMemoryStore(), WithProcessorInvoker(lowInvoker))
	high := NewProcessor(2, mid+1, fullRange, storage.NewMemoryStore(), WithProcessorInvoker(highInvoker))
	manager := NewManager([]*Processor{low, high})

	require.NoError(t, manager.Start(ctx))
	defer func() { require.NoError(t, manager.Stop(ctx)) }()

	inv := newInvocation("a")
	require.NoError(t, manager.Submit(ctx, NewInvokeCommand(inv)))

	owner := lowInvoker
	if !low.Owns(inv.FID.ServiceId.PartitionKey()) {
		owner = highInvoker
	}
	assert.Equal(t, inv.FID, awaitInvoke(t, owner))

	// Partition-local commands carry no key and cannot be routed.
	err := manager.Submit(ctx, NewAnnounceLeaderCommand(1))
	assert.ErrorIs(t, err, errors.ErrWrongPartition)

	assert.Equal(t, low, manager.Processor(1))
	assert.Nil(t, manager.Processor(9))
}
