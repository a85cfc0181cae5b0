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

package invocation

import (
	"fmt"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/journal"
)

// SinkKind discriminates the response sink variants.
type SinkKind int

const (
	// SinkKindNone marks a fire-and-forget invocation: the result is dropped.
	SinkKindNone SinkKind = iota + 1
	// SinkKindPartitionProcessor delivers the result into a journal entry of
	// the calling invocation.
	SinkKindPartitionProcessor
	// SinkKindIngress delivers the result to a specific ingress node
	// incarnation.
	SinkKindIngress
	// SinkKindNewInvocation chains the result into a fresh invocation.
	SinkKindNewInvocation
)

// ResponseSink is the declared destination for an invocation's eventual
// result. Exactly one variant is active per invocation.
type ResponseSink struct {
	kind SinkKind

	caller     identity.FullInvocationId
	entryIndex journal.EntryIndex

	nodeID identity.GenerationalNodeId

	target        identity.ServiceId
	method        string
	callerContext []byte
}

// SinkNone creates the fire-and-forget sink.
func SinkNone() ResponseSink {
	return ResponseSink{kind: SinkKindNone}
}

// SinkPartitionProcessor creates a sink that writes the result into the
// caller's journal at the given entry index.
func SinkPartitionProcessor(caller identity.FullInvocationId, entryIndex journal.EntryIndex) ResponseSink {
	return ResponseSink{
		kind:       SinkKindPartitionProcessor,
		caller:     caller,
		entryIndex: entryIndex,
	}
}

// SinkIngress creates a sink that delivers the result to the given ingress
// node incarnation. The generation keeps a restarted node from receiving a
// predecessor's responses.
func SinkIngress(nodeID identity.GenerationalNodeId) ResponseSink {
	return ResponseSink{
		kind:   SinkKindIngress,
		nodeID: nodeID,
	}
}

// SinkNewInvocation creates a sink that chains the result into a fresh
// invocation of the target service method. callerContext is opaque
// passthrough for the chained call.
func SinkNewInvocation(target identity.ServiceId, method string, callerContext []byte) ResponseSink {
	return ResponseSink{
		kind:          SinkKindNewInvocation,
		target:        target,
		method:        method,
		callerContext: callerContext,
	}
}

// Kind returns the active variant.
func (s ResponseSink) Kind() SinkKind {
	return s.kind
}

// IsNone reports whether the sink drops the result.
func (s ResponseSink) IsNone() bool {
	return s.kind == SinkKindNone || s.kind == 0
}

// PartitionProcessor returns the caller and entry index of a
// partition-processor sink.
func (s ResponseSink) PartitionProcessor() (identity.FullInvocationId, journal.EntryIndex, bool) {
	return s.caller, s.entryIndex, s.kind == SinkKindPartitionProcessor
}

// Ingress returns the target node of an ingress sink.
func (s ResponseSink) Ingress() (identity.GenerationalNodeId, bool) {
	return s.nodeID, s.kind == SinkKindIngress
}

// NewInvocation returns the chaining target of a new-invocation sink.
func (s ResponseSink) NewInvocation() (identity.ServiceId, string, []byte, bool) {
	return s.target, s.method, s.callerContext, s.kind == SinkKindNewInvocation
}

// String returns a human-readable representation of the sink.
func (s ResponseSink) String() string {
	switch s.kind {
	case SinkKindPartitionProcessor:
		return fmt.Sprintf("PartitionProcessor(%s#%d)", s.caller, s.entryIndex)
	case SinkKindIngress:
		return fmt.Sprintf("Ingress(%s)", s.nodeID)
	case SinkKindNewInvocation:
		return fmt.Sprintf("NewInvocation(%s.%s)", s.target, s.method)
	default:
		return "None"
	}
}
