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
	"errors"

	kerrors "github.com/kestrelworks/kestrel/errors"
)

// Journal is the ordered per-invocation record of execution steps and their
// completions. Appends are monotonic and single-writer per invocation; the
// write discipline is enforced by the invocation state store, so the journal
// itself carries no locking.
//
// Completions may arrive in either order relative to their step: a
// completion for an index that already holds an entry is merged into it,
// while a completion for an index the execution has not reached yet is kept
// as a pending record and merged when the step lands.
type Journal struct {
	entries []*Entry
	// pending holds completions stored ahead of their step, keyed by the
	// index they will complete.
	pending map[EntryIndex]CompletionResult
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{
		pending: make(map[EntryIndex]CompletionResult),
	}
}

// Length returns the number of entries appended so far. Pending completions
// stored ahead of execution do not count towards the length.
func (j *Journal) Length() EntryIndex {
	return EntryIndex(len(j.entries))
}

// Append stores the next executed step and returns its index. A pending
// completion already stored for that index is merged into the entry.
func (j *Journal) Append(entry Entry) (EntryIndex, error) {
	index := EntryIndex(len(j.entries))
	if result, ok := j.pending[index]; ok {
		if err := entry.Complete(result); err != nil {
			return 0, err
		}
		delete(j.pending, index)
	}
	j.entries = append(j.entries, &entry)
	return index, nil
}

// AppendCompletion stores the completion result for the given index. When
// the step has already executed the result is merged into it; otherwise it
// is kept as a pending completion. A completion, once written, is immutable:
// a second completion for the same index fails with ErrEntryCompleted.
func (j *Journal) AppendCompletion(index EntryIndex, result CompletionResult) error {
	if int(index) < len(j.entries) {
		entry := j.entries[index]
		if entry.Completed() {
			return kerrors.ErrEntryCompleted
		}
		return entry.Complete(result)
	}
	if _, ok := j.pending[index]; ok {
		return kerrors.ErrEntryCompleted
	}
	j.pending[index] = result
	return nil
}

// Read returns the record stored at the given index: the executed step, or
// the pending completion when execution has not reached the index yet.
func (j *Journal) Read(index EntryIndex) (Record, error) {
	if int(index) < len(j.entries) {
		return NewEntryRecord(*j.entries[index]), nil
	}
	if result, ok := j.pending[index]; ok {
		return NewCompletionRecord(result), nil
	}
	return Record{}, kerrors.ErrEntryNotFound
}

// IsResumable reports whether a suspended invocation awaiting the given
// index can resume: either the step completed, or its completion is already
// stored ahead of execution.
func (j *Journal) IsResumable(index EntryIndex) bool {
	if int(index) < len(j.entries) {
		return j.entries[index].Completed()
	}
	_, ok := j.pending[index]
	return ok
}

// Entries returns the executed steps in append order. The returned slice is
// a snapshot; mutating it does not touch the journal.
func (j *Journal) Entries() []Entry {
	out := make([]Entry, len(j.entries))
	for i, entry := range j.entries {
		out[i] = *entry
	}
	return out
}

// Replay walks the executed steps in order, calling fn with each index and
// entry. Completed steps carry their stored results, which is what lets an
// executor substitute them instead of re-performing side effects. Replaying
// the same journal twice yields identical sequences.
func (j *Journal) Replay(fn func(EntryIndex, Entry) error) error {
	for i, entry := range j.entries {
		if err := fn(EntryIndex(i), *entry); err != nil {
			return err
		}
	}
	return nil
}

// IsNotFound reports whether the given error marks a missing journal index.
func IsNotFound(err error) bool {
	return errors.Is(err, kerrors.ErrEntryNotFound)
}
