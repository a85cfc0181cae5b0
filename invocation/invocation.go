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
	"time"

	"github.com/kestrelworks/kestrel/identity"
)

// Header is an opaque passthrough header attached to a service invocation,
// e.g. tracing correlation. The core preserves headers but never interprets
// them.
type Header struct {
	Name  string
	Value string
}

// ServiceInvocation is the command to run one method invocation on a service
// instance. It is both the inbound start command and the payload of
// cross-partition outbox messages.
type ServiceInvocation struct {
	FID        identity.FullInvocationId
	MethodName string
	Argument   []byte
	// Source and SpanContext are opaque passthrough metadata.
	Source      []byte
	SpanContext []byte
	Headers     []Header
	// ResponseSink declares where the eventual result goes.
	ResponseSink ResponseSink
	// ExecutionTime defers the invocation until the given time. Zero means
	// execute now.
	ExecutionTime time.Time
}

// Deferred reports whether the invocation is parked until ExecutionTime.
func (s ServiceInvocation) Deferred() bool {
	return !s.ExecutionTime.IsZero()
}

// InboxEntry is one queued invocation waiting for its service key to become
// free. Entries are ordered by a per-partition monotonic sequence number.
//
// The record is a tagged variant so further entry kinds can be added; the
// invocation form is the only one today.
type InboxEntry struct {
	SequenceNumber uint64
	Invocation     ServiceInvocation
}

// NewInboxEntry creates an inbox entry for the given invocation.
func NewInboxEntry(sequenceNumber uint64, inv ServiceInvocation) InboxEntry {
	return InboxEntry{
		SequenceNumber: sequenceNumber,
		Invocation:     inv,
	}
}
