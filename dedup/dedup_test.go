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

package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/errors"
)

// memStore is a minimal in-memory Store for guard tests.
type memStore struct {
	marks map[string]SequenceNumber
}

func newMemStore() *memStore {
	return &memStore{marks: make(map[string]SequenceNumber)}
}

func (s *memStore) GetDedupSequenceNumber(_ context.Context, producer string) (SequenceNumber, bool, error) {
	sn, ok := s.marks[producer]
	return sn, ok, nil
}

func (s *memStore) PutDedupSequenceNumber(_ context.Context, producer string, sn SequenceNumber) error {
	s.marks[producer] = sn
	return nil
}

func TestGuard_AcceptsFirstMessage(t *testing.T) {
	ctx := context.TODO()
	guard := NewGuard(newMemStore())

	err := guard.CheckAndAdvance(ctx, "ingress-1", Plain(0))
	assert.NoError(t, err)
}

func TestGuard_RejectsDuplicateAndStale(t *testing.T) {
	ctx := context.TODO()
	guard := NewGuard(newMemStore())

	require.NoError(t, guard.CheckAndAdvance(ctx, "ingress-1", Plain(5)))

	err := guard.CheckAndAdvance(ctx, "ingress-1", Plain(5))
	assert.ErrorIs(t, err, errors.ErrStaleMessage)

	err = guard.CheckAndAdvance(ctx, "ingress-1", Plain(3))
	assert.ErrorIs(t, err, errors.ErrStaleMessage)

	assert.NoError(t, guard.CheckAndAdvance(ctx, "ingress-1", Plain(6)))
}

func TestGuard_EpochOrdering(t *testing.T) {
	ctx := context.TODO()
	guard := NewGuard(newMemStore())

	require.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Epoch(5, 10)))

	// A higher sequence number under an older epoch is still stale.
	err := guard.CheckAndAdvance(ctx, "partition-7", Epoch(4, 999))
	assert.ErrorIs(t, err, errors.ErrStaleMessage)

	assert.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Epoch(5, 11)))

	// A fresh epoch supersedes any sequence number of the previous one.
	assert.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Epoch(6, 0)))
}

func TestGuard_PlainInheritsLastKnownEpoch(t *testing.T) {
	ctx := context.TODO()
	store := newMemStore()
	guard := NewGuard(store)

	require.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Epoch(5, 10)))

	// A plain sequence number is compared under the producer's last-known
	// epoch, not under epoch zero.
	assert.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Plain(11)))
	assert.Equal(t, Epoch(5, 11), store.marks["partition-7"])

	assert.ErrorIs(t, guard.CheckAndAdvance(ctx, "partition-7", Plain(11)), errors.ErrStaleMessage)
	assert.ErrorIs(t, guard.CheckAndAdvance(ctx, "partition-7", Plain(9)), errors.ErrStaleMessage)

	// Epoch-qualified numbers keep superseding the plain-advanced mark.
	assert.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Epoch(5, 12)))
	assert.NoError(t, guard.CheckAndAdvance(ctx, "partition-7", Epoch(6, 0)))
}

func TestGuard_TracksProducersIndependently(t *testing.T) {
	ctx := context.TODO()
	guard := NewGuard(newMemStore())

	require.NoError(t, guard.CheckAndAdvance(ctx, "a", Plain(10)))
	assert.NoError(t, guard.CheckAndAdvance(ctx, "b", Plain(1)))
	assert.ErrorIs(t, guard.CheckAndAdvance(ctx, "a", Plain(10)), errors.ErrStaleMessage)
}

func TestSequenceNumber_After(t *testing.T) {
	assert.True(t, Epoch(5, 0).After(Epoch(4, 999)))
	assert.True(t, Epoch(5, 11).After(Epoch(5, 10)))
	assert.False(t, Epoch(5, 10).After(Epoch(5, 10)))
	assert.True(t, Plain(2).After(Plain(1)))
	// The plain form compares as epoch zero.
	assert.True(t, Epoch(1, 0).After(Plain(99)))
}

func TestSequenceNumber_Codec(t *testing.T) {
	encoded := MarshalSequenceNumber(Epoch(3, 17))
	decoded, err := UnmarshalSequenceNumber(encoded)
	require.NoError(t, err)
	assert.Equal(t, Epoch(3, 17), decoded)

	encoded = MarshalSequenceNumber(Plain(9))
	decoded, err = UnmarshalSequenceNumber(encoded)
	require.NoError(t, err)
	assert.Equal(t, Plain(9), decoded)
}
