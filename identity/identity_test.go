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

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceId_PartitionKeyIsStable(t *testing.T) {
	sid := NewServiceId("greeter", []byte("alice"))
	assert.Equal(t, sid.PartitionKey(), sid.PartitionKey())
	assert.Equal(t, sid.PartitionKey(), NewServiceId("greeter", []byte("alice")).PartitionKey())
}

func TestServiceId_PartitionKeySeparatesNameAndKey(t *testing.T) {
	// "ab"+"c" and "a"+"bc" concatenate to the same bytes. The separator in
	// the hash input must keep them on distinct keys.
	left := NewServiceId("ab", []byte("c"))
	right := NewServiceId("a", []byte("bc"))
	assert.NotEqual(t, left.PartitionKey(), right.PartitionKey())
}

func TestServiceId_Equal(t *testing.T) {
	sid := NewServiceId("greeter", []byte("alice"))
	assert.True(t, sid.Equal(NewServiceId("greeter", []byte("alice"))))
	assert.False(t, sid.Equal(NewServiceId("greeter", []byte("bob"))))
	assert.False(t, sid.Equal(NewServiceId("payments", []byte("alice"))))
}

func TestInvocationUUID_Fresh(t *testing.T) {
	first := NewInvocationUUID()
	second := NewInvocationUUID()
	assert.False(t, first.IsZero())
	assert.NotEqual(t, first, second)

	rebuilt, err := InvocationUUIDFromBytes(first.Bytes())
	require.NoError(t, err)
	assert.Equal(t, first, rebuilt)
}

func TestInvocationUUID_FromBytesRejectsBadLength(t *testing.T) {
	_, err := InvocationUUIDFromBytes([]byte("short"))
	assert.Error(t, err)
}

func TestFullInvocationId_Combine(t *testing.T) {
	fid := NewFullInvocationId("greeter", []byte("alice"))
	combined := CombineFullInvocationId(fid.ServiceId, fid.InvocationUUID)
	assert.True(t, fid.Equal(combined))

	other := NewFullInvocationId("greeter", []byte("alice"))
	assert.False(t, fid.Equal(other))
}

func TestMaybeFullInvocationId_Forms(t *testing.T) {
	fid := NewFullInvocationId("greeter", []byte("alice"))

	full := FullId(fid)
	require.True(t, full.IsFull())
	gotFID, ok := full.Full()
	require.True(t, ok)
	assert.True(t, fid.Equal(gotFID))
	assert.Equal(t, fid.InvocationUUID, full.UUID())

	partial := PartialId(fid.InvocationUUID)
	assert.False(t, partial.IsFull())
	_, ok = partial.Full()
	assert.False(t, ok)
	assert.Equal(t, fid.InvocationUUID, partial.UUID())
}

func TestIdentity_Codecs(t *testing.T) {
	sid := NewServiceId("greeter", []byte("alice"))
	fid := NewFullInvocationId("greeter", []byte("alice"))
	node := NewGenerationalNodeId(4, 17)

	t.Run("ServiceId", func(t *testing.T) {
		decoded, err := UnmarshalServiceId(MarshalServiceId(sid))
		require.NoError(t, err)
		assert.True(t, sid.Equal(decoded))
	})
	t.Run("FullInvocationId", func(t *testing.T) {
		decoded, err := UnmarshalFullInvocationId(MarshalFullInvocationId(fid))
		require.NoError(t, err)
		assert.True(t, fid.Equal(decoded))
	})
	t.Run("MaybeFullInvocationId", func(t *testing.T) {
		decodedFull, err := UnmarshalMaybeFullInvocationId(MarshalMaybeFullInvocationId(FullId(fid)))
		require.NoError(t, err)
		require.True(t, decodedFull.IsFull())
		gotFID, _ := decodedFull.Full()
		assert.True(t, fid.Equal(gotFID))

		decodedPartial, err := UnmarshalMaybeFullInvocationId(MarshalMaybeFullInvocationId(PartialId(fid.InvocationUUID)))
		require.NoError(t, err)
		assert.False(t, decodedPartial.IsFull())
		assert.Equal(t, fid.InvocationUUID, decodedPartial.UUID())
	})
	t.Run("GenerationalNodeId", func(t *testing.T) {
		decoded, err := UnmarshalGenerationalNodeId(MarshalGenerationalNodeId(node))
		require.NoError(t, err)
		assert.True(t, node.Equal(decoded))
	})
}
