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

package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
)

func inputEntry(argument []byte) Entry {
	return Entry{
		Header:   EntryHeader{Type: EntryTypeInput},
		RawEntry: argument,
	}
}

func awakeableEntry() Entry {
	return Entry{Header: EntryHeader{Type: EntryTypeAwakeable}}
}

func TestJournal_AppendAssignsContiguousIndexes(t *testing.T) {
	j := New()

	index, err := j.Append(inputEntry([]byte("arg")))
	require.NoError(t, err)
	assert.Equal(t, EntryIndex(0), index)

	index, err = j.Append(awakeableEntry())
	require.NoError(t, err)
	assert.Equal(t, EntryIndex(1), index)
	assert.Equal(t, EntryIndex(2), j.Length())
}

func TestJournal_CompletionAfterEntry(t *testing.T) {
	j := New()
	_, err := j.Append(inputEntry(nil))
	require.NoError(t, err)
	_, err = j.Append(awakeableEntry())
	require.NoError(t, err)

	require.NoError(t, j.AppendCompletion(1, SuccessResult([]byte("payload"))))

	record, err := j.Read(1)
	require.NoError(t, err)
	entry, ok := record.Entry()
	require.True(t, ok)
	assert.True(t, entry.Completed())
	assert.Equal(t, []byte("payload"), entry.Result.Value())
}

func TestJournal_CompletionBeforeEntryIsMergedOnAppend(t *testing.T) {
	j := New()
	_, err := j.Append(inputEntry(nil))
	require.NoError(t, err)

	// Completion for index 1 arrives before the step executes.
	require.NoError(t, j.AppendCompletion(1, SuccessResult([]byte("early"))))
	assert.Equal(t, EntryIndex(1), j.Length())

	record, err := j.Read(1)
	require.NoError(t, err)
	pending, ok := record.PendingCompletion()
	require.True(t, ok)
	assert.Equal(t, []byte("early"), pending.Value())

	index, err := j.Append(awakeableEntry())
	require.NoError(t, err)
	assert.Equal(t, EntryIndex(1), index)

	record, err = j.Read(1)
	require.NoError(t, err)
	entry, ok := record.Entry()
	require.True(t, ok)
	assert.True(t, entry.Completed())
	assert.Equal(t, []byte("early"), entry.Result.Value())
}

func TestJournal_DuplicateCompletionRejected(t *testing.T) {
	j := New()
	_, err := j.Append(awakeableEntry())
	require.NoError(t, err)

	require.NoError(t, j.AppendCompletion(0, EmptyResult()))
	err = j.AppendCompletion(0, SuccessResult([]byte("second")))
	assert.ErrorIs(t, err, errors.ErrEntryCompleted)

	// Pending completions are immutable too.
	require.NoError(t, j.AppendCompletion(5, EmptyResult()))
	err = j.AppendCompletion(5, EmptyResult())
	assert.ErrorIs(t, err, errors.ErrEntryCompleted)
}

func TestJournal_IsResumable(t *testing.T) {
	j := New()
	_, err := j.Append(awakeableEntry())
	require.NoError(t, err)

	assert.False(t, j.IsResumable(0))
	require.NoError(t, j.AppendCompletion(0, EmptyResult()))
	assert.True(t, j.IsResumable(0))

	// Pending completion ahead of execution also unblocks.
	assert.False(t, j.IsResumable(3))
	require.NoError(t, j.AppendCompletion(3, EmptyResult()))
	assert.True(t, j.IsResumable(3))
}

func TestJournal_ReplayIsDeterministic(t *testing.T) {
	j := New()
	_, err := j.Append(inputEntry([]byte("arg")))
	require.NoError(t, err)
	_, err = j.Append(awakeableEntry())
	require.NoError(t, err)
	require.NoError(t, j.AppendCompletion(1, SuccessResult([]byte("done"))))

	walk := func() []Entry {
		var seen []Entry
		err := j.Replay(func(_ EntryIndex, entry Entry) error {
			seen = append(seen, entry)
			return nil
		})
		require.NoError(t, err)
		return seen
	}

	first := walk()
	second := walk()
	assert.Equal(t, first, second)
	assert.True(t, second[1].Completed())
}

func TestJournal_ReadMissingIndex(t *testing.T) {
	j := New()
	_, err := j.Read(4)
	assert.True(t, IsNotFound(err))
}

func TestRecord_Codec(t *testing.T) {
	resolution := &InvokeResolution{
		ServiceName:    "checkout",
		ServiceKey:     []byte("cart-42"),
		InvocationUUID: identity.NewInvocationUUID(),
		MethodName:     "Reserve",
	}
	entry := Entry{
		Header:   EntryHeader{Type: EntryTypeInvoke, InvokeResolution: resolution},
		RawEntry: []byte("request"),
	}
	require.NoError(t, entry.Complete(SuccessResult([]byte("response"))))

	encoded := MarshalRecord(NewEntryRecord(entry))
	decoded, err := UnmarshalRecord(encoded)
	require.NoError(t, err)

	got, ok := decoded.Entry()
	require.True(t, ok)
	assert.Equal(t, EntryTypeInvoke, got.Header.Type)
	assert.True(t, got.Completed())
	require.NotNil(t, got.Header.InvokeResolution)
	assert.Equal(t, "Reserve", got.Header.InvokeResolution.MethodName)
	assert.Equal(t, resolution.InvocationUUID, got.Header.InvokeResolution.InvocationUUID)
	assert.Equal(t, []byte("request"), got.RawEntry)
	assert.Equal(t, []byte("response"), got.Result.Value())
}

func TestRecord_PendingCompletionCodec(t *testing.T) {
	encoded := MarshalRecord(NewCompletionRecord(FailureResult(500, "boom")))
	decoded, err := UnmarshalRecord(encoded)
	require.NoError(t, err)

	result, ok := decoded.PendingCompletion()
	require.True(t, ok)
	code, message := result.Failure()
	assert.Equal(t, uint32(500), code)
	assert.Equal(t, "boom", message)
}

func TestPayload_Codecs(t *testing.T) {
	state, err := UnmarshalStatePayload(MarshalStatePayload(StatePayload{Key: []byte("k"), Value: []byte("v")}))
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), state.Key)
	assert.Equal(t, []byte("v"), state.Value)

	uuid := identity.NewInvocationUUID()
	awakeable, err := UnmarshalCompleteAwakeablePayload(MarshalCompleteAwakeablePayload(CompleteAwakeablePayload{
		InvocationUUID: uuid,
		EntryIndex:     7,
		Result:         SuccessResult([]byte("ok")),
	}))
	require.NoError(t, err)
	assert.Equal(t, uuid, awakeable.InvocationUUID)
	assert.Equal(t, EntryIndex(7), awakeable.EntryIndex)
	assert.Equal(t, []byte("ok"), awakeable.Result.Value())
}
