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

// Package storage provides the durable record tables backing one partition:
// invocation status, service lock table, service state, journal, outbox,
// timers, inbox and dedup high-water marks. Two implementations exist, an
// in-memory store and a BoltDB-backed store; both speak the same
// field-numbered record formats, so records written by one are readable by
// the other.
package storage

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/outbox"
	"github.com/kestrelworks/kestrel/timer"
)

// JournalRecord pairs a stored journal record with its entry index. Entries
// occupy contiguous indexes from zero; pending completions may sit at
// indexes beyond the journal length, waiting for their entry to arrive.
type JournalRecord struct {
	Index  journal.EntryIndex
	Record journal.Record
}

// PartitionStore is the durable state of one partition. Writers are
// serialized by the partition's command loop; implementations only need to
// survive concurrent readers.
type PartitionStore interface {
	outbox.Store
	timer.Store
	dedup.Store

	// GetInvocationStatus returns the status for the service instance,
	// Free when no record exists.
	GetInvocationStatus(ctx context.Context, sid identity.ServiceId) (invocation.Status, error)
	// PutInvocationStatus stores the status for the service instance.
	PutInvocationStatus(ctx context.Context, sid identity.ServiceId, status invocation.Status) error
	// DeleteInvocationStatus removes the status record, returning the
	// instance to Free.
	DeleteInvocationStatus(ctx context.Context, sid identity.ServiceId) error

	// GetServiceStatus returns the lock record for the service instance.
	// ok is false when the instance is unlocked.
	GetServiceStatus(ctx context.Context, sid identity.ServiceId) (invocation.ServiceStatus, bool, error)
	// PutServiceStatus locks the service instance to an invocation.
	PutServiceStatus(ctx context.Context, sid identity.ServiceId, status invocation.ServiceStatus) error
	// DeleteServiceStatus unlocks the service instance.
	DeleteServiceStatus(ctx context.Context, sid identity.ServiceId) error

	// GetState returns one user state value. ok is false when unset.
	GetState(ctx context.Context, sid identity.ServiceId, key []byte) ([]byte, bool, error)
	// PutState sets one user state value.
	PutState(ctx context.Context, sid identity.ServiceId, key, value []byte) error
	// DeleteState unsets one user state value.
	DeleteState(ctx context.Context, sid identity.ServiceId, key []byte) error
	// ClearAllState unsets every state value of the service instance.
	ClearAllState(ctx context.Context, sid identity.ServiceId) error
	// StateKeys returns the set state keys of the service instance in
	// lexicographic order.
	StateKeys(ctx context.Context, sid identity.ServiceId) ([][]byte, error)

	// PutJournalRecord stores a journal record at the given index.
	PutJournalRecord(ctx context.Context, sid identity.ServiceId, index journal.EntryIndex, record journal.Record) error
	// GetJournalRecord returns the record at the given index. ok is false
	// when no record exists there.
	GetJournalRecord(ctx context.Context, sid identity.ServiceId, index journal.EntryIndex) (journal.Record, bool, error)
	// GetJournal returns every journal record of the service instance in
	// index order.
	GetJournal(ctx context.Context, sid identity.ServiceId) ([]JournalRecord, error)
	// DeleteJournal drops every journal record of the service instance.
	DeleteJournal(ctx context.Context, sid identity.ServiceId) error

	// PutInboxEntry appends a queued invocation for the service instance.
	PutInboxEntry(ctx context.Context, sid identity.ServiceId, entry invocation.InboxEntry) error
	// PeekInbox returns the queued invocation with the lowest sequence
	// number. ok is false when the inbox is empty.
	PeekInbox(ctx context.Context, sid identity.ServiceId) (invocation.InboxEntry, bool, error)
	// ListInbox returns the queued invocations in sequence order.
	ListInbox(ctx context.Context, sid identity.ServiceId) ([]invocation.InboxEntry, error)
	// DeleteInboxEntry removes one queued invocation.
	DeleteInboxEntry(ctx context.Context, sid identity.ServiceId, sequenceNumber uint64) error

	// NextOutboxPosition returns one past the highest outbox position ever
	// assigned, surviving truncation and restarts.
	NextOutboxPosition(ctx context.Context) (uint64, error)
	// NextTimerSeqNumber returns one past the highest timer sequence number
	// ever assigned.
	NextTimerSeqNumber(ctx context.Context) (uint64, error)
	// NextInboxSeqNumber returns one past the highest inbox sequence number
	// ever assigned.
	NextInboxSeqNumber(ctx context.Context) (uint64, error)

	// Close releases the store. Every call after Close returns
	// ErrStoreClosed.
	Close() error
}

// sidKey builds the self-delimiting composite key prefix of a service
// instance: both parts are length-prefixed so concatenated suffixes can
// never be confused with the tail of the service key.
func sidKey(sid identity.ServiceId) []byte {
	b := binary.AppendUvarint(nil, uint64(len(sid.ServiceName)))
	b = append(b, sid.ServiceName...)
	b = binary.AppendUvarint(b, uint64(len(sid.ServiceKey)))
	b = append(b, sid.ServiceKey...)
	return b
}

// be64 renders an unsigned counter as a big-endian key so byte order equals
// numeric order.
func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// be32 renders a journal index as a big-endian key suffix.
func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
