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
	goerrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/internal/wire"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/log"
)

// memStore is an in-memory Store for tests. Messages round-trip through the
// codec so the tests exercise the same bytes the durable stores persist.
type memStore struct {
	mu       sync.Mutex
	messages map[uint64][]byte
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{messages: make(map[uint64][]byte)}
}

func (s *memStore) PutOutboxMessage(_ context.Context, position uint64, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[position] = MarshalMessage(message)
	return nil
}

func (s *memStore) NextOutboxMessage(_ context.Context, from uint64) (Sequenced, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := uint64(0)
	found := false
	for position := range s.messages {
		if position < from {
			continue
		}
		if !found || position < best {
			best = position
			found = true
		}
	}
	if !found {
		return Sequenced{}, false, nil
	}
	message, err := UnmarshalMessage(s.messages[best])
	if err != nil {
		return Sequenced{}, false, err
	}
	return Sequenced{Position: best, Message: message}, true, nil
}

func (s *memStore) TruncateOutbox(_ context.Context, upTo uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for position := range s.messages {
		if position <= upTo {
			delete(s.messages, position)
		}
	}
	return nil
}

func killMessage() Message {
	return NewKillMessage(identity.PartialId(identity.NewInvocationUUID()))
}

func TestOutbox_EnqueueAssignsIncreasingPositions(t *testing.T) {
	ctx := context.TODO()
	x := New(newMemStore(), 0)

	for want := uint64(0); want < 3; want++ {
		position, err := x.Enqueue(ctx, killMessage())
		require.NoError(t, err)
		assert.Equal(t, want, position)
	}
	assert.EqualValues(t, 3, x.NextPosition())
}

func TestOutbox_PositionsResumeAfterRestart(t *testing.T) {
	ctx := context.TODO()
	store := newMemStore()
	x := New(store, 0)
	_, err := x.Enqueue(ctx, killMessage())
	require.NoError(t, err)

	// A reopened partition restores next from storage and never reuses a
	// position, even after the tail was fully acknowledged.
	require.NoError(t, x.Ack(ctx, 0))
	reopened := New(store, x.NextPosition())
	position, err := reopened.Enqueue(ctx, killMessage())
	require.NoError(t, err)
	assert.EqualValues(t, 1, position)
}

func TestOutbox_DrainYieldsFIFO(t *testing.T) {
	ctx := context.TODO()
	x := New(newMemStore(), 0)

	targets := make([]identity.MaybeFullInvocationId, 3)
	for i := range targets {
		targets[i] = identity.PartialId(identity.NewInvocationUUID())
		_, err := x.Enqueue(ctx, NewCancelMessage(targets[i]))
		require.NoError(t, err)
	}

	cursor := x.DrainFrom(0)
	for i, want := range targets {
		sequenced, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, i, sequenced.Position)
		target, ok := sequenced.Message.Termination()
		require.True(t, ok)
		assert.Equal(t, want, target)
	}
	_, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutbox_AckTruncatesPrefix(t *testing.T) {
	ctx := context.TODO()
	x := New(newMemStore(), 0)
	for i := 0; i < 3; i++ {
		_, err := x.Enqueue(ctx, killMessage())
		require.NoError(t, err)
	}

	require.NoError(t, x.Ack(ctx, 1))

	// A fresh cursor from zero reproduces exactly the unacked tail.
	cursor := x.DrainFrom(0)
	sequenced, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, sequenced.Position)
	_, ok, err = cursor.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutbox_CursorPicksUpLateEnqueues(t *testing.T) {
	ctx := context.TODO()
	x := New(newMemStore(), 0)
	cursor := x.DrainFrom(0)

	_, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = x.Enqueue(ctx, killMessage())
	require.NoError(t, err)

	sequenced, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 0, sequenced.Position)
}

func TestDrainer_DeliversAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()

	store := newMemStore()
	x := New(store, 0)
	for i := 0; i < 3; i++ {
		_, err := x.Enqueue(context.TODO(), killMessage())
		require.NoError(t, err)
	}

	delivered := make(chan uint64, 3)
	transport := TransportFunc(func(_ context.Context, message Sequenced) error {
		delivered <- message.Position
		return nil
	})
	drainer := NewDrainer(x, transport, WithPollInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		done <- drainer.Run(ctx, 0)
	}()

	for want := uint64(0); want < 3; want++ {
		select {
		case position := <-delivered:
			assert.Equal(t, want, position)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for delivery of position %d", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drainer shutdown")
	}

	// Everything delivered was acknowledged and truncated.
	_, ok, err := store.NextOutboxMessage(context.TODO(), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDrainer_KeepsRetryingUntilDelivered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()

	store := newMemStore()
	x := New(store, 0)
	_, err := x.Enqueue(context.TODO(), killMessage())
	require.NoError(t, err)

	// Fail more attempts than one backoff burst holds; the drainer must
	// start a fresh burst instead of giving up on the message.
	var attempts atomic.Int64
	delivered := make(chan uint64, 1)
	transport := TransportFunc(func(_ context.Context, message Sequenced) error {
		if attempts.Inc() <= 5 {
			return goerrors.New("destination unavailable")
		}
		delivered <- message.Position
		return nil
	})
	drainer := NewDrainer(x, transport,
		WithLogger(log.DiscardLogger),
		WithPollInterval(10*time.Millisecond),
		WithDeliveryRetry(2, time.Millisecond, 2*time.Millisecond),
	)

	done := make(chan error, 1)
	go func() {
		done <- drainer.Run(ctx, 0)
	}()

	select {
	case position := <-delivered:
		assert.EqualValues(t, 0, position)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	assert.GreaterOrEqual(t, attempts.Load(), int64(6))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drainer shutdown")
	}
}

func TestMessage_Codec(t *testing.T) {
	fid := identity.CombineFullInvocationId(
		identity.NewServiceId("orders", []byte("order-9")),
		identity.NewInvocationUUID(),
	)

	inv := invocation.ServiceInvocation{
		FID:          fid,
		MethodName:   "Place",
		Argument:     []byte("payload"),
		SpanContext:  []byte("trace"),
		ResponseSink: invocation.SinkIngress(identity.NewGenerationalNodeId(2, 7)),
	}
	decoded, err := UnmarshalMessage(MarshalMessage(NewServiceInvocationMessage(inv)))
	require.NoError(t, err)
	assert.Equal(t, MessageKindServiceInvocation, decoded.Kind())
	got, ok := decoded.ServiceInvocation()
	require.True(t, ok)
	assert.Equal(t, fid, got.FID)
	assert.Equal(t, "Place", got.MethodName)
	assert.Equal(t, []byte("payload"), got.Argument)

	response := Response{
		Target:     identity.FullId(fid),
		EntryIndex: 4,
		Result:     journal.SuccessResult([]byte("ok")),
	}
	decoded, err = UnmarshalMessage(MarshalMessage(NewResponseMessage(response)))
	require.NoError(t, err)
	gotResponse, ok := decoded.Response()
	require.True(t, ok)
	assert.Equal(t, response.Target, gotResponse.Target)
	assert.EqualValues(t, 4, gotResponse.EntryIndex)
	assert.Equal(t, []byte("ok"), gotResponse.Result.Value())

	ingress := IngressResponse{
		Target: identity.NewGenerationalNodeId(3, 11),
		FID:    fid,
		Result: journal.FailureResult(500, "boom"),
	}
	decoded, err = UnmarshalMessage(MarshalMessage(NewIngressResponseMessage(ingress)))
	require.NoError(t, err)
	gotIngress, ok := decoded.IngressResponse()
	require.True(t, ok)
	assert.Equal(t, ingress.Target, gotIngress.Target)
	assert.Equal(t, fid, gotIngress.FID)
	assert.True(t, gotIngress.Result.IsFailure())
}

func TestMessage_CodecSkipsReservedField(t *testing.T) {
	// Field 3 was retired; readers skip it and still decode the variant.
	encoded := wire.AppendBytes(nil, 3, []byte("retired payload"))
	encoded = append(encoded, MarshalMessage(killMessage())...)

	decoded, err := UnmarshalMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, MessageKindKill, decoded.Kind())
}

func TestMessage_CodecRejectsEmptyRecord(t *testing.T) {
	_, err := UnmarshalMessage(wire.AppendBytes(nil, 9, []byte("unknown")))
	assert.Error(t, err)
}
