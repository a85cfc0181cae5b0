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

// Package routing turns an invocation result and its declared response sink
// into exactly one outgoing effect. Routing is pure: it inspects the sink,
// never the stores, so the state machine can call it from inside a command
// application without extra I/O.
package routing

import (
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/outbox"
)

// RouteResponse resolves the sink of the invocation identified by fid into
// the single outbox message carrying its result. ok is false for the
// fire-and-forget sink, in which case the result is dropped.
//
//   - PartitionProcessor: a response addressed to the caller's journal entry.
//   - Ingress: an ingress response addressed to the submitting node
//     incarnation.
//   - NewInvocation: a fresh invocation of the chained target whose argument
//     is the successful result value. A failed result still starts the
//     chained invocation, with an empty argument, so the chain observes
//     completion rather than stalling.
func RouteResponse(sink invocation.ResponseSink, fid identity.FullInvocationId, result journal.CompletionResult) (outbox.Message, bool) {
	switch sink.Kind() {
	case invocation.SinkKindPartitionProcessor:
		caller, entryIndex, _ := sink.PartitionProcessor()
		return outbox.NewResponseMessage(outbox.Response{
			Target:     identity.FullId(caller),
			EntryIndex: entryIndex,
			Result:     result,
		}), true
	case invocation.SinkKindIngress:
		nodeID, _ := sink.Ingress()
		return outbox.NewIngressResponseMessage(outbox.IngressResponse{
			Target: nodeID,
			FID:    fid,
			Result: result,
		}), true
	case invocation.SinkKindNewInvocation:
		target, method, callerContext, _ := sink.NewInvocation()
		var argument []byte
		if result.IsSuccess() {
			argument = result.Value()
		}
		return outbox.NewServiceInvocationMessage(invocation.ServiceInvocation{
			FID: identity.FullInvocationId{
				ServiceId:      target,
				InvocationUUID: identity.NewInvocationUUID(),
			},
			MethodName:   method,
			Argument:     argument,
			SpanContext:  callerContext,
			ResponseSink: invocation.SinkNone(),
		}), true
	default:
		return outbox.Message{}, false
	}
}
