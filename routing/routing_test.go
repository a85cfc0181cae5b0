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

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/outbox"
)

func testFID(name, key string) identity.FullInvocationId {
	return identity.CombineFullInvocationId(
		identity.NewServiceId(name, []byte(key)),
		identity.NewInvocationUUID(),
	)
}

func TestRouteResponse_None(t *testing.T) {
	_, ok := RouteResponse(invocation.SinkNone(), testFID("greeter", "a"), journal.EmptyResult())
	assert.False(t, ok)
}

func TestRouteResponse_PartitionProcessor(t *testing.T) {
	caller := testFID("checkout", "cart-1")
	callee := testFID("payments", "cart-1")
	sink := invocation.SinkPartitionProcessor(caller, 6)

	message, ok := RouteResponse(sink, callee, journal.SuccessResult([]byte("paid")))
	require.True(t, ok)
	assert.Equal(t, outbox.MessageKindResponse, message.Kind())

	response, ok := message.Response()
	require.True(t, ok)
	assert.Equal(t, identity.FullId(caller), response.Target)
	assert.EqualValues(t, 6, response.EntryIndex)
	assert.Equal(t, []byte("paid"), response.Result.Value())
}

func TestRouteResponse_Ingress(t *testing.T) {
	fid := testFID("greeter", "a")
	node := identity.NewGenerationalNodeId(4, 2)

	message, ok := RouteResponse(invocation.SinkIngress(node), fid, journal.FailureResult(500, "boom"))
	require.True(t, ok)
	assert.Equal(t, outbox.MessageKindIngressResponse, message.Kind())

	response, ok := message.IngressResponse()
	require.True(t, ok)
	assert.Equal(t, node, response.Target)
	assert.Equal(t, fid, response.FID)
	assert.True(t, response.Result.IsFailure())
}

func TestRouteResponse_NewInvocation(t *testing.T) {
	fid := testFID("orders", "order-1")
	target := identity.NewServiceId("shipping", []byte("order-1"))
	sink := invocation.SinkNewInvocation(target, "Dispatch", []byte("trace"))

	message, ok := RouteResponse(sink, fid, journal.SuccessResult([]byte("packed")))
	require.True(t, ok)
	assert.Equal(t, outbox.MessageKindServiceInvocation, message.Kind())

	chained, ok := message.ServiceInvocation()
	require.True(t, ok)
	assert.Equal(t, target, chained.FID.ServiceId)
	assert.Equal(t, "Dispatch", chained.MethodName)
	assert.Equal(t, []byte("packed"), chained.Argument)
	assert.Equal(t, []byte("trace"), chained.SpanContext)
	assert.True(t, chained.ResponseSink.IsNone())
}

func TestRouteResponse_NewInvocationFailureChainsWithEmptyArgument(t *testing.T) {
	fid := testFID("orders", "order-1")
	sink := invocation.SinkNewInvocation(identity.NewServiceId("shipping", []byte("k")), "Dispatch", nil)

	message, ok := RouteResponse(sink, fid, journal.FailureResult(500, "boom"))
	require.True(t, ok)
	chained, ok := message.ServiceInvocation()
	require.True(t, ok)
	assert.Empty(t, chained.Argument)
}

func TestRouteResponse_NewInvocationMintsFreshUUIDs(t *testing.T) {
	fid := testFID("orders", "order-1")
	sink := invocation.SinkNewInvocation(identity.NewServiceId("shipping", []byte("k")), "Dispatch", nil)

	first, ok := RouteResponse(sink, fid, journal.EmptyResult())
	require.True(t, ok)
	second, ok := RouteResponse(sink, fid, journal.EmptyResult())
	require.True(t, ok)

	firstInv, _ := first.ServiceInvocation()
	secondInv, _ := second.ServiceInvocation()
	assert.NotEqual(t, firstInv.FID.InvocationUUID, secondInv.FID.InvocationUUID)
}
