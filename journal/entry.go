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

// Package journal models the ordered, replayable record of an invocation's
// execution steps and their completions. Replaying stored entries and
// substituting stored completion results instead of re-performing
// side-effecting operations is what gives exactly-once external-effect
// semantics across crashes and restarts.
package journal

import (
	"fmt"

	"github.com/kestrelworks/kestrel/identity"
)

// EntryIndex is the 0-based position of an entry in append order. It is the
// join key between an executed step and the completion result later supplied
// for it.
type EntryIndex uint32

// EntryType discriminates the kinds of execution steps an invocation can
// record.
type EntryType int

const (
	// EntryTypeInput records the invocation argument. Never completable.
	EntryTypeInput EntryType = iota + 1
	// EntryTypeOutput records the invocation result to route to the
	// response sink.
	EntryTypeOutput
	// EntryTypeGetState reads a key from the service state table.
	EntryTypeGetState
	// EntryTypeSetState writes a key to the service state table.
	EntryTypeSetState
	// EntryTypeClearState removes a key from the service state table.
	EntryTypeClearState
	// EntryTypeClearAllState removes every key of the service instance.
	EntryTypeClearAllState
	// EntryTypeGetStateKeys lists the keys of the service state table.
	EntryTypeGetStateKeys
	// EntryTypeSleep parks the invocation until a wake-up time.
	EntryTypeSleep
	// EntryTypeInvoke calls another service and awaits its result.
	EntryTypeInvoke
	// EntryTypeBackgroundInvoke fires a detached call, optionally delayed.
	EntryTypeBackgroundInvoke
	// EntryTypeAwakeable creates an externally completable promise.
	EntryTypeAwakeable
	// EntryTypeCompleteAwakeable completes another invocation's awakeable.
	EntryTypeCompleteAwakeable
	// EntryTypeCustom is an opaque extension entry. Stored, never interpreted.
	EntryTypeCustom
)

var entryTypeNames = map[EntryType]string{
	EntryTypeInput:             "Input",
	EntryTypeOutput:            "Output",
	EntryTypeGetState:          "GetState",
	EntryTypeSetState:          "SetState",
	EntryTypeClearState:        "ClearState",
	EntryTypeClearAllState:     "ClearAllState",
	EntryTypeGetStateKeys:      "GetStateKeys",
	EntryTypeSleep:             "Sleep",
	EntryTypeInvoke:            "Invoke",
	EntryTypeBackgroundInvoke:  "BackgroundInvoke",
	EntryTypeAwakeable:         "Awakeable",
	EntryTypeCompleteAwakeable: "CompleteAwakeable",
	EntryTypeCustom:            "Custom",
}

// String returns the entry type name.
func (t EntryType) String() string {
	if name, ok := entryTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EntryType(%d)", int(t))
}

// Completable reports whether entries of this type await a completion
// result.
func (t EntryType) Completable() bool {
	switch t {
	case EntryTypeGetState, EntryTypeGetStateKeys, EntryTypeSleep, EntryTypeInvoke, EntryTypeAwakeable:
		return true
	default:
		return false
	}
}

// InvokeResolution correlates an Invoke or BackgroundInvoke entry to the
// concrete invocation it resolved to.
type InvokeResolution struct {
	ServiceName    string
	ServiceKey     []byte
	InvocationUUID identity.InvocationUUID
	// MethodName is the callee method the entry resolved to.
	MethodName string
}

// Target returns the callee's full invocation id.
func (r InvokeResolution) Target() identity.FullInvocationId {
	return identity.CombineFullInvocationId(
		identity.NewServiceId(r.ServiceName, r.ServiceKey),
		r.InvocationUUID,
	)
}

// AwakeableResolution correlates a CompleteAwakeable entry to the awakeable
// it completes: the owning invocation's uuid plus the awakeable's entry
// index.
type AwakeableResolution struct {
	InvocationUUID identity.InvocationUUID
	EntryIndex     EntryIndex
}

// EntryHeader is the enriched header stored alongside every entry's raw
// payload. Completed is meaningful only for completable entry types.
type EntryHeader struct {
	Type      EntryType
	Completed bool
	// InvokeResolution is set for resolved Invoke and BackgroundInvoke
	// entries; a nil resolution on an Invoke entry means the deployment
	// completed the call inline and there is no callee to track.
	InvokeResolution *InvokeResolution
	// AwakeableResolution is set for CompleteAwakeable entries.
	AwakeableResolution *AwakeableResolution
}

// Entry is one executed step: the enriched header plus the opaque payload
// written by the executor. Result holds the completion once it has been
// supplied; a stored completion is immutable.
type Entry struct {
	Header   EntryHeader
	RawEntry []byte
	Result   *CompletionResult
}

// Completed reports whether the entry's completion has been written.
func (e *Entry) Completed() bool {
	return e.Header.Completed
}

// Complete writes the completion result into the entry. It fails with
// ErrEntryCompleted semantics (via the returned error) when a completion was
// already stored, and with an invalid-type error when the entry kind never
// completes.
func (e *Entry) Complete(result CompletionResult) error {
	if !e.Header.Type.Completable() {
		return fmt.Errorf("entry type %s does not take a completion", e.Header.Type)
	}
	if e.Header.Completed {
		return fmt.Errorf("entry already holds a completion for type %s", e.Header.Type)
	}
	e.Header.Completed = true
	e.Result = &result
	return nil
}

// Record is one tagged journal record: either an executed step (Entry) or a
// pending completion stored ahead of its step (Completion). The pending form
// exists because completions can race with execution: a cross-partition call
// result may arrive before local replay reaches the step it completes.
type Record struct {
	entry      *Entry
	completion *CompletionResult
}

// NewEntryRecord wraps an executed step.
func NewEntryRecord(entry Entry) Record {
	return Record{entry: &entry}
}

// NewCompletionRecord wraps a completion that arrived ahead of its step.
func NewCompletionRecord(result CompletionResult) Record {
	return Record{completion: &result}
}

// IsEntry reports whether the record holds an executed step.
func (r Record) IsEntry() bool {
	return r.entry != nil
}

// Entry returns the executed step. Valid only when IsEntry reports true.
func (r Record) Entry() (*Entry, bool) {
	return r.entry, r.entry != nil
}

// PendingCompletion returns the completion stored ahead of its step.
func (r Record) PendingCompletion() (CompletionResult, bool) {
	if r.completion == nil {
		return CompletionResult{}, false
	}
	return *r.completion, true
}
