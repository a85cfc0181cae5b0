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

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/outbox"
	"github.com/kestrelworks/kestrel/timer"
)

// runStoreTest runs one scenario against both implementations. The two stores
// share the record formats, so every scenario must hold for both.
func runStoreTest(t *testing.T, scenario func(t *testing.T, store PartitionStore)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		store := NewMemoryStore()
		t.Cleanup(func() { _ = store.Close() })
		scenario(t, store)
	})
	t.Run("bolt", func(t *testing.T) {
		store, err := NewBoltStore(filepath.Join(t.TempDir(), "partition.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		scenario(t, store)
	})
}

func testSID(key string) identity.ServiceId {
	return identity.NewServiceId("greeter", []byte(key))
}

func testMetadata(sid identity.ServiceId) invocation.Metadata {
	now := time.Now().Truncate(time.Millisecond).UTC()
	return invocation.Metadata{
		ServiceId:        sid,
		JournalLength:    1,
		ResponseSink:     invocation.SinkIngress(identity.NewGenerationalNodeId(1, 1)),
		CreationTime:     now,
		ModificationTime: now,
		MethodName:       "Greet",
	}
}

func testInvocation(sid identity.ServiceId) invocation.ServiceInvocation {
	return invocation.ServiceInvocation{
		FID:          identity.CombineFullInvocationId(sid, identity.NewInvocationUUID()),
		MethodName:   "Greet",
		Argument:     []byte("hello"),
		ResponseSink: invocation.SinkNone(),
	}
}

func TestStore_InvocationStatus(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		sid := testSID("a")

		// No record means Free.
		status, err := store.GetInvocationStatus(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, invocation.StatusKindFree, status.Kind())

		metadata := testMetadata(sid)
		require.NoError(t, store.PutInvocationStatus(ctx, sid, invocation.Invoked(metadata)))

		status, err = store.GetInvocationStatus(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, invocation.StatusKindInvoked, status.Kind())
		got, ok := status.Metadata()
		require.True(t, ok)
		assert.Equal(t, "Greet", got.MethodName)
		assert.EqualValues(t, 1, got.JournalLength)
		assert.True(t, got.CreationTime.Equal(metadata.CreationTime))

		require.NoError(t, store.DeleteInvocationStatus(ctx, sid))
		status, err = store.GetInvocationStatus(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, invocation.StatusKindFree, status.Kind())
	})
}

func TestStore_ServiceStatus(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		sid := testSID("a")

		_, ok, err := store.GetServiceStatus(ctx, sid)
		require.NoError(t, err)
		assert.False(t, ok)

		uuid := identity.NewInvocationUUID()
		require.NoError(t, store.PutServiceStatus(ctx, sid, invocation.NewServiceStatus(uuid)))

		status, ok, err := store.GetServiceStatus(ctx, sid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uuid, status.InvocationUUID)

		require.NoError(t, store.DeleteServiceStatus(ctx, sid))
		_, ok, err = store.GetServiceStatus(ctx, sid)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_State(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		sid := testSID("a")
		other := testSID("b")

		_, ok, err := store.GetState(ctx, sid, []byte("k"))
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.PutState(ctx, sid, []byte("k2"), []byte("v2")))
		require.NoError(t, store.PutState(ctx, sid, []byte("k1"), []byte("v1")))
		require.NoError(t, store.PutState(ctx, other, []byte("k3"), []byte("v3")))

		value, ok, err := store.GetState(ctx, sid, []byte("k1"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), value)

		// Keys come back in lexicographic order, scoped to the instance.
		keys, err := store.StateKeys(ctx, sid)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("k1"), []byte("k2")}, keys)

		require.NoError(t, store.DeleteState(ctx, sid, []byte("k1")))
		_, ok, err = store.GetState(ctx, sid, []byte("k1"))
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.ClearAllState(ctx, sid))
		keys, err = store.StateKeys(ctx, sid)
		require.NoError(t, err)
		assert.Empty(t, keys)

		// The neighbouring instance is untouched.
		value, ok, err = store.GetState(ctx, other, []byte("k3"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v3"), value)
	})
}

func TestStore_Journal(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		sid := testSID("a")

		_, ok, err := store.GetJournalRecord(ctx, sid, 0)
		require.NoError(t, err)
		assert.False(t, ok)

		input := journal.NewEntryRecord(journal.Entry{
			Header:   journal.EntryHeader{Type: journal.EntryTypeInput},
			RawEntry: []byte("arg"),
		})
		require.NoError(t, store.PutJournalRecord(ctx, sid, 0, input))
		pending := journal.NewCompletionRecord(journal.SuccessResult([]byte("early")))
		require.NoError(t, store.PutJournalRecord(ctx, sid, 2, pending))

		record, ok, err := store.GetJournalRecord(ctx, sid, 0)
		require.NoError(t, err)
		require.True(t, ok)
		entry, ok := record.Entry()
		require.True(t, ok)
		assert.Equal(t, []byte("arg"), entry.RawEntry)

		records, err := store.GetJournal(ctx, sid)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.EqualValues(t, 0, records[0].Index)
		assert.EqualValues(t, 2, records[1].Index)
		result, ok := records[1].Record.PendingCompletion()
		require.True(t, ok)
		assert.Equal(t, []byte("early"), result.Value())

		require.NoError(t, store.DeleteJournal(ctx, sid))
		records, err = store.GetJournal(ctx, sid)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestStore_Inbox(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		sid := testSID("a")

		_, ok, err := store.PeekInbox(ctx, sid)
		require.NoError(t, err)
		assert.False(t, ok)

		first := invocation.NewInboxEntry(0, testInvocation(sid))
		second := invocation.NewInboxEntry(1, testInvocation(sid))
		require.NoError(t, store.PutInboxEntry(ctx, sid, second))
		require.NoError(t, store.PutInboxEntry(ctx, sid, first))

		head, ok, err := store.PeekInbox(ctx, sid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, 0, head.SequenceNumber)
		assert.Equal(t, first.Invocation.FID, head.Invocation.FID)

		entries, err := store.ListInbox(ctx, sid)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.EqualValues(t, 0, entries[0].SequenceNumber)
		assert.EqualValues(t, 1, entries[1].SequenceNumber)

		require.NoError(t, store.DeleteInboxEntry(ctx, sid, 0))
		head, ok, err = store.PeekInbox(ctx, sid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, 1, head.SequenceNumber)
	})
}

func TestStore_Outbox(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()

		for position := uint64(0); position < 3; position++ {
			message := outbox.NewKillMessage(identity.PartialId(identity.NewInvocationUUID()))
			require.NoError(t, store.PutOutboxMessage(ctx, position, message))
		}

		sequenced, ok, err := store.NextOutboxMessage(ctx, 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, 0, sequenced.Position)
		assert.Equal(t, outbox.MessageKindKill, sequenced.Message.Kind())

		require.NoError(t, store.TruncateOutbox(ctx, 1))
		sequenced, ok, err = store.NextOutboxMessage(ctx, 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, 2, sequenced.Position)

		// The next position survives truncation.
		next, err := store.NextOutboxPosition(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, next)
	})
}

func TestStore_Timers(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		fid := identity.CombineFullInvocationId(testSID("a"), identity.NewInvocationUUID())
		fireAt := time.Now().Add(time.Minute).Truncate(time.Millisecond).UTC()

		for seq := uint64(0); seq < 2; seq++ {
			sequenced := timer.Sequenced{
				SeqNumber: seq,
				FireAt:    fireAt,
				Timer:     timer.NewCompleteSleepEntryTimer(fid, journal.EntryIndex(seq)),
			}
			require.NoError(t, store.PutTimer(ctx, sequenced))
		}

		timers, err := store.ListTimers(ctx)
		require.NoError(t, err)
		require.Len(t, timers, 2)
		assert.EqualValues(t, 0, timers[0].SeqNumber)
		assert.True(t, timers[0].FireAt.Equal(fireAt))

		require.NoError(t, store.DeleteTimer(ctx, 0))
		require.NoError(t, store.DeleteTimer(ctx, 0))
		timers, err = store.ListTimers(ctx)
		require.NoError(t, err)
		require.Len(t, timers, 1)
		assert.EqualValues(t, 1, timers[0].SeqNumber)

		next, err := store.NextTimerSeqNumber(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, next)
	})
}

func TestStore_Dedup(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()

		_, ok, err := store.GetDedupSequenceNumber(ctx, "producer-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.PutDedupSequenceNumber(ctx, "producer-1", dedup.Epoch(3, 42)))

		sn, ok, err := store.GetDedupSequenceNumber(ctx, "producer-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, dedup.Epoch(3, 42), sn)

		_, ok, err = store.GetDedupSequenceNumber(ctx, "producer-2")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_InboxCounter(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		sid := testSID("a")

		require.NoError(t, store.PutInboxEntry(ctx, sid, invocation.NewInboxEntry(4, testInvocation(sid))))
		require.NoError(t, store.DeleteInboxEntry(ctx, sid, 4))

		next, err := store.NextInboxSeqNumber(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 5, next)
	})
}

func TestStore_CloseRejectsFurtherUse(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store PartitionStore) {
		ctx := context.TODO()
		require.NoError(t, store.Close())

		_, err := store.GetInvocationStatus(ctx, testSID("a"))
		assert.ErrorIs(t, err, errors.ErrStoreClosed)
		err = store.PutState(ctx, testSID("a"), []byte("k"), []byte("v"))
		assert.ErrorIs(t, err, errors.ErrStoreClosed)
	})
}

func TestBoltStore_ReopenKeepsRecords(t *testing.T) {
	ctx := context.TODO()
	path := filepath.Join(t.TempDir(), "partition.db")
	sid := testSID("a")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.PutState(ctx, sid, []byte("k"), []byte("v")))
	require.NoError(t, store.PutOutboxMessage(ctx, 0,
		outbox.NewKillMessage(identity.PartialId(identity.NewInvocationUUID()))))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	value, ok, err := reopened.GetState(ctx, sid, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	next, err := reopened.NextOutboxPosition(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)
}

func TestMemoryStore_CorruptRecord(t *testing.T) {
	ctx := context.TODO()
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()

	sid := testSID("a")
	require.NoError(t, store.PutServiceStatus(ctx, sid, invocation.NewServiceStatus(identity.NewInvocationUUID())))
	store.serviceStatus[string(sidKey(sid))] = []byte{0xff}

	_, _, err := store.GetServiceStatus(ctx, sid)
	require.Error(t, err)
	var corrupt *errors.CorruptRecordError
	assert.ErrorAs(t, err, &corrupt)
}
