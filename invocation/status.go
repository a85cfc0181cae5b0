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

// Package invocation models the per-service-key invocation lifecycle: the
// Free/Invoked/Suspended status variants, the response sink destinations and
// the service-invocation record exchanged between partitions.
package invocation

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/journal"
)

// StatusKind discriminates the invocation status variants.
type StatusKind int

const (
	// StatusKindFree marks a service key with no active invocation.
	StatusKindFree StatusKind = iota + 1
	// StatusKindInvoked marks an actively executing invocation.
	StatusKindInvoked
	// StatusKindSuspended marks an invocation paused awaiting specific
	// journal entries.
	StatusKindSuspended
)

var statusKindNames = map[StatusKind]string{
	StatusKindFree:      "Free",
	StatusKindInvoked:   "Invoked",
	StatusKindSuspended: "Suspended",
}

// String returns the status kind name.
func (k StatusKind) String() string {
	if name, ok := statusKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Metadata is the bookkeeping carried by the Invoked and Suspended variants.
// JournalLength always equals the number of entries appended so far for the
// invocation.
type Metadata struct {
	ServiceId        identity.ServiceId
	JournalLength    journal.EntryIndex
	ResponseSink     ResponseSink
	CreationTime     time.Time
	ModificationTime time.Time
	MethodName       string
	// DeploymentId pins the invocation to the deployment the executor chose
	// for it. Empty until the executor reports its selection.
	DeploymentId string
	// Source and SpanContext are opaque passthrough metadata; the core
	// stores them and hands them back, never interprets them.
	Source      []byte
	SpanContext []byte
}

// Status is the per-service-key invocation status: Free, Invoked or
// Suspended. At most one non-Free status exists per ServiceId at any time.
type Status struct {
	kind     StatusKind
	metadata Metadata
	// waiting is the exact set of journal indices blocking a suspended
	// invocation.
	waiting mapset.Set[journal.EntryIndex]
}

// Free creates the Free status.
func Free() Status {
	return Status{kind: StatusKindFree}
}

// Invoked creates the Invoked status with the given metadata.
func Invoked(metadata Metadata) Status {
	return Status{
		kind:     StatusKindInvoked,
		metadata: metadata,
	}
}

// Suspended creates the Suspended status. The waiting set records the exact
// journal indices blocking progress.
func Suspended(metadata Metadata, waiting mapset.Set[journal.EntryIndex]) Status {
	return Status{
		kind:     StatusKindSuspended,
		metadata: metadata,
		waiting:  waiting,
	}
}

// Kind returns the active variant.
func (s Status) Kind() StatusKind {
	if s.kind == 0 {
		return StatusKindFree
	}
	return s.kind
}

// IsFree reports whether no invocation is active for the service key.
func (s Status) IsFree() bool {
	return s.Kind() == StatusKindFree
}

// Metadata returns the invocation metadata of a non-Free status.
func (s Status) Metadata() (Metadata, bool) {
	if s.IsFree() {
		return Metadata{}, false
	}
	return s.metadata, true
}

// Waiting returns the waiting set of a Suspended status.
func (s Status) Waiting() (mapset.Set[journal.EntryIndex], bool) {
	if s.kind != StatusKindSuspended {
		return nil, false
	}
	return s.waiting, true
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	return s.Kind().String()
}

// ServiceStatus is the secondary lock record guarding a service key while an
// invocation is in flight. The absence of a record means unlocked.
type ServiceStatus struct {
	// InvocationUUID identifies the invocation holding the lock.
	InvocationUUID identity.InvocationUUID
}

// NewServiceStatus creates a lock record held by the given invocation.
func NewServiceStatus(invocationUUID identity.InvocationUUID) ServiceStatus {
	return ServiceStatus{InvocationUUID: invocationUUID}
}
