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

package storage

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/outbox"
	"github.com/kestrelworks/kestrel/timer"
)

// MemoryStore is the in-memory PartitionStore. Records are kept in their
// encoded form so the memory and BoltDB stores exercise exactly the same
// codecs and corruption handling, and so callers never alias stored values.
type MemoryStore struct {
	mu     sync.RWMutex
	closed *atomic.Bool

	invocationStatus map[string][]byte
	serviceStatus    map[string][]byte
	state            map[string]map[string][]byte
	journals         map[string]map[journal.EntryIndex][]byte
	outboxMessages   map[uint64][]byte
	timers           map[uint64][]byte
	inboxes          map[string]map[uint64][]byte
	dedupMarks       map[string][]byte

	outboxNext uint64
	timerNext  uint64
	inboxNext  uint64
}

var _ PartitionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		closed:           atomic.NewBool(false),
		invocationStatus: make(map[string][]byte),
		serviceStatus:    make(map[string][]byte),
		state:            make(map[string]map[string][]byte),
		journals:         make(map[string]map[journal.EntryIndex][]byte),
		outboxMessages:   make(map[uint64][]byte),
		timers:           make(map[uint64][]byte),
		inboxes:          make(map[string]map[uint64][]byte),
		dedupMarks:       make(map[string][]byte),
	}
}

func (x *MemoryStore) ensureOpen() error {
	if x.closed.Load() {
		return errors.ErrStoreClosed
	}
	return nil
}

// GetInvocationStatus implements PartitionStore.
func (x *MemoryStore) GetInvocationStatus(_ context.Context, sid identity.ServiceId) (invocation.Status, error) {
	if err := x.ensureOpen(); err != nil {
		return invocation.Status{}, err
	}
	x.mu.RLock()
	raw, ok := x.invocationStatus[string(sidKey(sid))]
	x.mu.RUnlock()
	if !ok {
		return invocation.Free(), nil
	}
	status, err := invocation.UnmarshalStatus(raw)
	if err != nil {
		return invocation.Status{}, errors.NewCorruptRecordError("invocation_status", sid.String(), err)
	}
	return status, nil
}

// PutInvocationStatus implements PartitionStore.
func (x *MemoryStore) PutInvocationStatus(_ context.Context, sid identity.ServiceId, status invocation.Status) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	x.invocationStatus[string(sidKey(sid))] = invocation.MarshalStatus(status)
	x.mu.Unlock()
	return nil
}

// DeleteInvocationStatus implements PartitionStore.
func (x *MemoryStore) DeleteInvocationStatus(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	delete(x.invocationStatus, string(sidKey(sid)))
	x.mu.Unlock()
	return nil
}

// GetServiceStatus implements PartitionStore.
func (x *MemoryStore) GetServiceStatus(_ context.Context, sid identity.ServiceId) (invocation.ServiceStatus, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return invocation.ServiceStatus{}, false, err
	}
	x.mu.RLock()
	raw, ok := x.serviceStatus[string(sidKey(sid))]
	x.mu.RUnlock()
	if !ok {
		return invocation.ServiceStatus{}, false, nil
	}
	status, err := invocation.UnmarshalServiceStatus(raw)
	if err != nil {
		return invocation.ServiceStatus{}, false, errors.NewCorruptRecordError("service_status", sid.String(), err)
	}
	return status, true, nil
}

// PutServiceStatus implements PartitionStore.
func (x *MemoryStore) PutServiceStatus(_ context.Context, sid identity.ServiceId, status invocation.ServiceStatus) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	x.serviceStatus[string(sidKey(sid))] = invocation.MarshalServiceStatus(status)
	x.mu.Unlock()
	return nil
}

// DeleteServiceStatus implements PartitionStore.
func (x *MemoryStore) DeleteServiceStatus(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	delete(x.serviceStatus, string(sidKey(sid)))
	x.mu.Unlock()
	return nil
}

// GetState implements PartitionStore.
func (x *MemoryStore) GetState(_ context.Context, sid identity.ServiceId, key []byte) ([]byte, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, false, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	values, ok := x.state[string(sidKey(sid))]
	if !ok {
		return nil, false, nil
	}
	value, ok := values[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// PutState implements PartitionStore.
func (x *MemoryStore) PutState(_ context.Context, sid identity.ServiceId, key, value []byte) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	sk := string(sidKey(sid))
	values, ok := x.state[sk]
	if !ok {
		values = make(map[string][]byte)
		x.state[sk] = values
	}
	values[string(key)] = append([]byte(nil), value...)
	return nil
}

// DeleteState implements PartitionStore.
func (x *MemoryStore) DeleteState(_ context.Context, sid identity.ServiceId, key []byte) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if values, ok := x.state[string(sidKey(sid))]; ok {
		delete(values, string(key))
	}
	return nil
}

// ClearAllState implements PartitionStore.
func (x *MemoryStore) ClearAllState(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	delete(x.state, string(sidKey(sid)))
	x.mu.Unlock()
	return nil
}

// StateKeys implements PartitionStore.
func (x *MemoryStore) StateKeys(_ context.Context, sid identity.ServiceId) ([][]byte, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	values, ok := x.state[string(sidKey(sid))]
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i] = []byte(key)
	}
	return out, nil
}

// PutJournalRecord implements PartitionStore.
func (x *MemoryStore) PutJournalRecord(_ context.Context, sid identity.ServiceId, index journal.EntryIndex, record journal.Record) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	sk := string(sidKey(sid))
	records, ok := x.journals[sk]
	if !ok {
		records = make(map[journal.EntryIndex][]byte)
		x.journals[sk] = records
	}
	records[index] = journal.MarshalRecord(record)
	return nil
}

// GetJournalRecord implements PartitionStore.
func (x *MemoryStore) GetJournalRecord(_ context.Context, sid identity.ServiceId, index journal.EntryIndex) (journal.Record, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return journal.Record{}, false, err
	}
	x.mu.RLock()
	raw, ok := x.journals[string(sidKey(sid))][index]
	x.mu.RUnlock()
	if !ok {
		return journal.Record{}, false, nil
	}
	record, err := journal.UnmarshalRecord(raw)
	if err != nil {
		return journal.Record{}, false, errors.NewCorruptRecordError("journal", sid.String(), err)
	}
	return record, true, nil
}

// GetJournal implements PartitionStore.
func (x *MemoryStore) GetJournal(_ context.Context, sid identity.ServiceId) ([]JournalRecord, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	records, ok := x.journals[string(sidKey(sid))]
	if !ok {
		return nil, nil
	}
	indexes := make([]journal.EntryIndex, 0, len(records))
	for index := range records {
		indexes = append(indexes, index)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	out := make([]JournalRecord, 0, len(indexes))
	for _, index := range indexes {
		record, err := journal.UnmarshalRecord(records[index])
		if err != nil {
			return nil, errors.NewCorruptRecordError("journal", sid.String(), err)
		}
		out = append(out, JournalRecord{Index: index, Record: record})
	}
	return out, nil
}

// DeleteJournal implements PartitionStore.
func (x *MemoryStore) DeleteJournal(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	delete(x.journals, string(sidKey(sid)))
	x.mu.Unlock()
	return nil
}

// PutOutboxMessage implements outbox.Store.
func (x *MemoryStore) PutOutboxMessage(_ context.Context, position uint64, message outbox.Message) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.outboxMessages[position] = outbox.MarshalMessage(message)
	if position >= x.outboxNext {
		x.outboxNext = position + 1
	}
	return nil
}

// NextOutboxMessage implements outbox.Store.
func (x *MemoryStore) NextOutboxMessage(_ context.Context, from uint64) (outbox.Sequenced, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return outbox.Sequenced{}, false, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	best := uint64(0)
	found := false
	for position := range x.outboxMessages {
		if position < from {
			continue
		}
		if !found || position < best {
			best = position
			found = true
		}
	}
	if !found {
		return outbox.Sequenced{}, false, nil
	}
	message, err := outbox.UnmarshalMessage(x.outboxMessages[best])
	if err != nil {
		return outbox.Sequenced{}, false, errors.NewCorruptRecordError("outbox", formatUint(best), err)
	}
	return outbox.Sequenced{Position: best, Message: message}, true, nil
}

// TruncateOutbox implements outbox.Store.
func (x *MemoryStore) TruncateOutbox(_ context.Context, upTo uint64) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for position := range x.outboxMessages {
		if position <= upTo {
			delete(x.outboxMessages, position)
		}
	}
	return nil
}

// PutTimer implements timer.Store.
func (x *MemoryStore) PutTimer(_ context.Context, sequenced timer.Sequenced) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.timers[sequenced.SeqNumber] = timer.MarshalSequenced(sequenced)
	if sequenced.SeqNumber >= x.timerNext {
		x.timerNext = sequenced.SeqNumber + 1
	}
	return nil
}

// DeleteTimer implements timer.Store.
func (x *MemoryStore) DeleteTimer(_ context.Context, seqNumber uint64) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	delete(x.timers, seqNumber)
	x.mu.Unlock()
	return nil
}

// ListTimers implements timer.Store.
func (x *MemoryStore) ListTimers(_ context.Context) ([]timer.Sequenced, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	seqs := make([]uint64, 0, len(x.timers))
	for seq := range x.timers {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]timer.Sequenced, 0, len(seqs))
	for _, seq := range seqs {
		sequenced, err := timer.UnmarshalSequenced(x.timers[seq])
		if err != nil {
			return nil, errors.NewCorruptRecordError("timers", formatUint(seq), err)
		}
		out = append(out, sequenced)
	}
	return out, nil
}

// PutInboxEntry implements PartitionStore.
func (x *MemoryStore) PutInboxEntry(_ context.Context, sid identity.ServiceId, entry invocation.InboxEntry) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	sk := string(sidKey(sid))
	entries, ok := x.inboxes[sk]
	if !ok {
		entries = make(map[uint64][]byte)
		x.inboxes[sk] = entries
	}
	entries[entry.SequenceNumber] = invocation.MarshalInboxEntry(entry)
	if entry.SequenceNumber >= x.inboxNext {
		x.inboxNext = entry.SequenceNumber + 1
	}
	return nil
}

// PeekInbox implements PartitionStore.
func (x *MemoryStore) PeekInbox(ctx context.Context, sid identity.ServiceId) (invocation.InboxEntry, bool, error) {
	entries, err := x.ListInbox(ctx, sid)
	if err != nil {
		return invocation.InboxEntry{}, false, err
	}
	if len(entries) == 0 {
		return invocation.InboxEntry{}, false, nil
	}
	return entries[0], true, nil
}

// ListInbox implements PartitionStore.
func (x *MemoryStore) ListInbox(_ context.Context, sid identity.ServiceId) ([]invocation.InboxEntry, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	entries, ok := x.inboxes[string(sidKey(sid))]
	if !ok {
		return nil, nil
	}
	seqs := make([]uint64, 0, len(entries))
	for seq := range entries {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]invocation.InboxEntry, 0, len(seqs))
	for _, seq := range seqs {
		entry, err := invocation.UnmarshalInboxEntry(entries[seq])
		if err != nil {
			return nil, errors.NewCorruptRecordError("inbox", sid.String(), err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// DeleteInboxEntry implements PartitionStore.
func (x *MemoryStore) DeleteInboxEntry(_ context.Context, sid identity.ServiceId, sequenceNumber uint64) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if entries, ok := x.inboxes[string(sidKey(sid))]; ok {
		delete(entries, sequenceNumber)
	}
	return nil
}

// GetDedupSequenceNumber implements dedup.Store.
func (x *MemoryStore) GetDedupSequenceNumber(_ context.Context, producer string) (dedup.SequenceNumber, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return dedup.SequenceNumber{}, false, err
	}
	x.mu.RLock()
	raw, ok := x.dedupMarks[producer]
	x.mu.RUnlock()
	if !ok {
		return dedup.SequenceNumber{}, false, nil
	}
	sn, err := dedup.UnmarshalSequenceNumber(raw)
	if err != nil {
		return dedup.SequenceNumber{}, false, errors.NewCorruptRecordError("dedup", producer, err)
	}
	return sn, true, nil
}

// PutDedupSequenceNumber implements dedup.Store.
func (x *MemoryStore) PutDedupSequenceNumber(_ context.Context, producer string, sn dedup.SequenceNumber) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	x.mu.Lock()
	x.dedupMarks[producer] = dedup.MarshalSequenceNumber(sn)
	x.mu.Unlock()
	return nil
}

// NextOutboxPosition implements PartitionStore.
func (x *MemoryStore) NextOutboxPosition(_ context.Context) (uint64, error) {
	if err := x.ensureOpen(); err != nil {
		return 0, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.outboxNext, nil
}

// NextTimerSeqNumber implements PartitionStore.
func (x *MemoryStore) NextTimerSeqNumber(_ context.Context) (uint64, error) {
	if err := x.ensureOpen(); err != nil {
		return 0, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.timerNext, nil
}

// NextInboxSeqNumber implements PartitionStore.
func (x *MemoryStore) NextInboxSeqNumber(_ context.Context) (uint64, error) {
	if err := x.ensureOpen(); err != nil {
		return 0, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.inboxNext, nil
}

// Close implements PartitionStore. Closing twice is a no-op.
func (x *MemoryStore) Close() error {
	x.closed.Store(true)
	return nil
}
