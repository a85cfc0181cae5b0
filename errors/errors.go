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

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleMessage is returned by the dedup guard when a message carries a
	// (leader epoch, sequence number) pair at or below the high-water mark
	// recorded for its producer. Stale messages are logged and dropped; they
	// are never applied to the state store.
	ErrStaleMessage = errors.New("stale message")

	// ErrInvalidTransition is returned when a command targets an invocation
	// status that cannot accept it, e.g. suspending a free service key. It
	// indicates a collaborator bug; the command is dropped and the partition
	// keeps processing.
	ErrInvalidTransition = errors.New("invalid invocation status transition")

	// ErrEntryNotFound is returned when a journal index is out of range for
	// the target invocation.
	ErrEntryNotFound = errors.New("journal entry not found")

	// ErrInvocationNotFound is returned when the referenced invocation id is
	// unknown to the partition.
	ErrInvocationNotFound = errors.New("invocation not found")

	// ErrCorruptRecord is returned when a persisted record fails to decode.
	// The affected service key must refuse further commands until operator
	// intervention; silently skipping the record could break the exactly-once
	// guarantees.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// partition store.
	ErrStoreClosed = errors.New("partition store is closed")

	// ErrMailboxFull is returned when the processor command mailbox has
	// reached its capacity.
	ErrMailboxFull = errors.New("command mailbox is full")

	// ErrProcessorNotStarted is returned when commands are submitted to a
	// partition processor before it has started or after it has stopped.
	ErrProcessorNotStarted = errors.New("partition processor is not running")

	// ErrDriverNotStarted is returned when attempting to use the timer driver
	// before it has started.
	ErrDriverNotStarted = errors.New("timer driver has not started")

	// ErrEntryCompleted is returned when a completion targets a journal entry
	// whose completion has already been written. Completions are immutable
	// once stored.
	ErrEntryCompleted = errors.New("journal entry already completed")

	// ErrWrongPartition is returned when a command addresses a partition key
	// outside the processor's key range.
	ErrWrongPartition = errors.New("partition key out of range")
)

// NewErrInvalidTransition formats an ErrInvalidTransition with the offending
// command and current status names.
func NewErrInvalidTransition(command, status string) error {
	return fmt.Errorf("command=(%s) status=(%s) %w", command, status, ErrInvalidTransition)
}

// NewErrInvocationNotFound formats an ErrInvocationNotFound with the given
// invocation id.
func NewErrInvocationNotFound(id string) error {
	return fmt.Errorf("invocation=(%s) %w", id, ErrInvocationNotFound)
}

// NewErrEntryNotFound formats an ErrEntryNotFound with the given invocation
// id and entry index.
func NewErrEntryNotFound(id string, index uint32) error {
	return fmt.Errorf("invocation=(%s) entry=(%d) %w", id, index, ErrEntryNotFound)
}

// NewErrStaleMessage formats an ErrStaleMessage with the given producer id.
func NewErrStaleMessage(producer string) error {
	return fmt.Errorf("producer=(%s) %w", producer, ErrStaleMessage)
}

// CorruptRecordError is returned when a persisted record cannot be decoded.
// It carries the record family and key so the partition can quarantine the
// affected service key.
type CorruptRecordError struct {
	// Family names the record family, e.g. "journal" or "outbox".
	Family string
	// Key is the storage key of the undecodable record.
	Key string
	err error
}

// enforce compilation error
var _ error = (*CorruptRecordError)(nil)

// NewCorruptRecordError creates an instance of CorruptRecordError.
func NewCorruptRecordError(family, key string, err error) *CorruptRecordError {
	return &CorruptRecordError{
		Family: family,
		Key:    key,
		err:    err,
	}
}

// Error implements the standard error interface
func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("%s record (key=%s): %v: %v", e.Family, e.Key, ErrCorruptRecord, e.err)
}

// Unwrap makes the error match both ErrCorruptRecord and the decode cause.
func (e *CorruptRecordError) Unwrap() []error {
	return []error{ErrCorruptRecord, e.err}
}
