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
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	bbolt "go.etcd.io/bbolt"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/outbox"
	"github.com/kestrelworks/kestrel/timer"
	"go.uber.org/atomic"
)

const boltFileMode os.FileMode = 0o600

var (
	boltTimeout        = 5 * time.Second
	defaultBoltOptions = &bbolt.Options{Timeout: boltTimeout, NoGrowSync: true}

	bucketInvocationStatus = []byte("invocation_status")
	bucketServiceStatus    = []byte("service_status")
	bucketState            = []byte("state")
	bucketJournal          = []byte("journal")
	bucketOutbox           = []byte("outbox")
	bucketTimers           = []byte("timers")
	bucketInbox            = []byte("inbox")
	bucketDedup            = []byte("dedup")
	bucketMeta             = []byte("meta")

	metaOutboxNext = []byte("outbox_next")
	metaTimerNext  = []byte("timer_next")
	metaInboxNext  = []byte("inbox_next")

	boltBuckets = [][]byte{
		bucketInvocationStatus,
		bucketServiceStatus,
		bucketState,
		bucketJournal,
		bucketOutbox,
		bucketTimers,
		bucketInbox,
		bucketDedup,
		bucketMeta,
	}
)

// BoltStore is the BoltDB-backed PartitionStore. Record payloads are
// zstd-compressed; keys are ordered composite keys so journals, inboxes,
// outbox positions and timers can be range-scanned with a cursor.
//
// bbolt gives single-writer/multi-reader transactions, which matches the
// partition's single command loop. Only the close state is guarded here.
type BoltStore struct {
	db      *bbolt.DB
	path    string
	closed  *atomic.Bool
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ PartitionStore = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the partition database at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	optionsCopy := *defaultBoltOptions
	db, err := bbolt.Open(path, boltFileMode, &optionsCopy)
	if err != nil {
		return nil, fmt.Errorf("storage: opening boltdb: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range boltBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: initializing boltdb buckets: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: creating zstd decoder: %w", err)
	}

	return &BoltStore{
		db:      db,
		path:    path,
		closed:  atomic.NewBool(false),
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (x *BoltStore) ensureOpen() error {
	if x.closed.Load() {
		return errors.ErrStoreClosed
	}
	return nil
}

func (x *BoltStore) compress(raw []byte) []byte {
	return x.encoder.EncodeAll(raw, nil)
}

func (x *BoltStore) decompress(compressed []byte) ([]byte, error) {
	return x.decoder.DecodeAll(compressed, nil)
}

// put writes one compressed record.
func (x *BoltStore) put(bucket, key, raw []byte) error {
	value := x.compress(raw)
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

// get reads and decompresses one record. ok is false when absent.
func (x *BoltStore) get(bucket, key []byte) ([]byte, bool, error) {
	var raw []byte
	found := false
	err := x.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucket).Get(key)
		if value == nil {
			return nil
		}
		decompressed, err := x.decompress(value)
		if err != nil {
			return err
		}
		raw = decompressed
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return raw, found, nil
}

func (x *BoltStore) del(bucket, key []byte) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

// deletePrefix removes every key in the bucket carrying the given prefix.
func (x *BoltStore) deletePrefix(bucket, prefix []byte) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucket).Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanPrefix visits every record in the bucket carrying the given prefix, in
// key order, with the prefix stripped and the value decompressed.
func (x *BoltStore) scanPrefix(bucket, prefix []byte, fn func(suffix, raw []byte) error) error {
	return x.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucket).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			raw, err := x.decompress(v)
			if err != nil {
				return err
			}
			if err := fn(k[len(prefix):], raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// bumpCounter raises a meta counter to at least next.
func (x *BoltStore) bumpCounter(key []byte, next uint64) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if current := bucket.Get(key); current != nil && binary.BigEndian.Uint64(current) >= next {
			return nil
		}
		return bucket.Put(key, be64(next))
	})
}

func (x *BoltStore) counter(key []byte) (uint64, error) {
	var value uint64
	err := x.db.View(func(tx *bbolt.Tx) error {
		if current := tx.Bucket(bucketMeta).Get(key); current != nil {
			value = binary.BigEndian.Uint64(current)
		}
		return nil
	})
	return value, err
}

// GetInvocationStatus implements PartitionStore.
func (x *BoltStore) GetInvocationStatus(_ context.Context, sid identity.ServiceId) (invocation.Status, error) {
	if err := x.ensureOpen(); err != nil {
		return invocation.Status{}, err
	}
	raw, ok, err := x.get(bucketInvocationStatus, sidKey(sid))
	if err != nil {
		return invocation.Status{}, err
	}
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
func (x *BoltStore) PutInvocationStatus(_ context.Context, sid identity.ServiceId, status invocation.Status) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.put(bucketInvocationStatus, sidKey(sid), invocation.MarshalStatus(status))
}

// DeleteInvocationStatus implements PartitionStore.
func (x *BoltStore) DeleteInvocationStatus(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.del(bucketInvocationStatus, sidKey(sid))
}

// GetServiceStatus implements PartitionStore.
func (x *BoltStore) GetServiceStatus(_ context.Context, sid identity.ServiceId) (invocation.ServiceStatus, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return invocation.ServiceStatus{}, false, err
	}
	raw, ok, err := x.get(bucketServiceStatus, sidKey(sid))
	if err != nil || !ok {
		return invocation.ServiceStatus{}, false, err
	}
	status, err := invocation.UnmarshalServiceStatus(raw)
	if err != nil {
		return invocation.ServiceStatus{}, false, errors.NewCorruptRecordError("service_status", sid.String(), err)
	}
	return status, true, nil
}

// PutServiceStatus implements PartitionStore.
func (x *BoltStore) PutServiceStatus(_ context.Context, sid identity.ServiceId, status invocation.ServiceStatus) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.put(bucketServiceStatus, sidKey(sid), invocation.MarshalServiceStatus(status))
}

// DeleteServiceStatus implements PartitionStore.
func (x *BoltStore) DeleteServiceStatus(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.del(bucketServiceStatus, sidKey(sid))
}

// GetState implements PartitionStore.
func (x *BoltStore) GetState(_ context.Context, sid identity.ServiceId, key []byte) ([]byte, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, false, err
	}
	return x.get(bucketState, append(sidKey(sid), key...))
}

// PutState implements PartitionStore.
func (x *BoltStore) PutState(_ context.Context, sid identity.ServiceId, key, value []byte) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.put(bucketState, append(sidKey(sid), key...), value)
}

// DeleteState implements PartitionStore.
func (x *BoltStore) DeleteState(_ context.Context, sid identity.ServiceId, key []byte) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.del(bucketState, append(sidKey(sid), key...))
}

// ClearAllState implements PartitionStore.
func (x *BoltStore) ClearAllState(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.deletePrefix(bucketState, sidKey(sid))
}

// StateKeys implements PartitionStore.
func (x *BoltStore) StateKeys(_ context.Context, sid identity.ServiceId) ([][]byte, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	var keys [][]byte
	err := x.scanPrefix(bucketState, sidKey(sid), func(suffix, _ []byte) error {
		keys = append(keys, append([]byte(nil), suffix...))
		return nil
	})
	return keys, err
}

// PutJournalRecord implements PartitionStore.
func (x *BoltStore) PutJournalRecord(_ context.Context, sid identity.ServiceId, index journal.EntryIndex, record journal.Record) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	key := append(sidKey(sid), be32(uint32(index))...)
	return x.put(bucketJournal, key, journal.MarshalRecord(record))
}

// GetJournalRecord implements PartitionStore.
func (x *BoltStore) GetJournalRecord(_ context.Context, sid identity.ServiceId, index journal.EntryIndex) (journal.Record, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return journal.Record{}, false, err
	}
	key := append(sidKey(sid), be32(uint32(index))...)
	raw, ok, err := x.get(bucketJournal, key)
	if err != nil || !ok {
		return journal.Record{}, false, err
	}
	record, err := journal.UnmarshalRecord(raw)
	if err != nil {
		return journal.Record{}, false, errors.NewCorruptRecordError("journal", sid.String(), err)
	}
	return record, true, nil
}

// GetJournal implements PartitionStore.
func (x *BoltStore) GetJournal(_ context.Context, sid identity.ServiceId) ([]JournalRecord, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	var records []JournalRecord
	err := x.scanPrefix(bucketJournal, sidKey(sid), func(suffix, raw []byte) error {
		if len(suffix) != 4 {
			return errors.NewCorruptRecordError("journal", sid.String(),
				fmt.Errorf("journal key suffix has %d bytes, want 4", len(suffix)))
		}
		record, err := journal.UnmarshalRecord(raw)
		if err != nil {
			return errors.NewCorruptRecordError("journal", sid.String(), err)
		}
		records = append(records, JournalRecord{
			Index:  journal.EntryIndex(binary.BigEndian.Uint32(suffix)),
			Record: record,
		})
		return nil
	})
	return records, err
}

// DeleteJournal implements PartitionStore.
func (x *BoltStore) DeleteJournal(_ context.Context, sid identity.ServiceId) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.deletePrefix(bucketJournal, sidKey(sid))
}

// PutOutboxMessage implements outbox.Store.
func (x *BoltStore) PutOutboxMessage(_ context.Context, position uint64, message outbox.Message) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	if err := x.put(bucketOutbox, be64(position), outbox.MarshalMessage(message)); err != nil {
		return err
	}
	return x.bumpCounter(metaOutboxNext, position+1)
}

// NextOutboxMessage implements outbox.Store.
func (x *BoltStore) NextOutboxMessage(_ context.Context, from uint64) (outbox.Sequenced, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return outbox.Sequenced{}, false, err
	}
	var sequenced outbox.Sequenced
	found := false
	err := x.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketOutbox).Cursor()
		k, v := cursor.Seek(be64(from))
		if k == nil {
			return nil
		}
		raw, err := x.decompress(v)
		if err != nil {
			return err
		}
		position := binary.BigEndian.Uint64(k)
		message, err := outbox.UnmarshalMessage(raw)
		if err != nil {
			return errors.NewCorruptRecordError("outbox", formatUint(position), err)
		}
		sequenced = outbox.Sequenced{Position: position, Message: message}
		found = true
		return nil
	})
	if err != nil {
		return outbox.Sequenced{}, false, err
	}
	return sequenced, found, nil
}

// TruncateOutbox implements outbox.Store.
func (x *BoltStore) TruncateOutbox(_ context.Context, upTo uint64) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.db.Update(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketOutbox).Cursor()
		for k, _ := cursor.First(); k != nil && binary.BigEndian.Uint64(k) <= upTo; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutTimer implements timer.Store.
func (x *BoltStore) PutTimer(_ context.Context, sequenced timer.Sequenced) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	if err := x.put(bucketTimers, be64(sequenced.SeqNumber), timer.MarshalSequenced(sequenced)); err != nil {
		return err
	}
	return x.bumpCounter(metaTimerNext, sequenced.SeqNumber+1)
}

// DeleteTimer implements timer.Store.
func (x *BoltStore) DeleteTimer(_ context.Context, seqNumber uint64) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.del(bucketTimers, be64(seqNumber))
}

// ListTimers implements timer.Store.
func (x *BoltStore) ListTimers(_ context.Context) ([]timer.Sequenced, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	var timers []timer.Sequenced
	err := x.scanPrefix(bucketTimers, nil, func(suffix, raw []byte) error {
		sequenced, err := timer.UnmarshalSequenced(raw)
		if err != nil {
			return errors.NewCorruptRecordError("timers", formatUint(binary.BigEndian.Uint64(suffix)), err)
		}
		timers = append(timers, sequenced)
		return nil
	})
	return timers, err
}

// PutInboxEntry implements PartitionStore.
func (x *BoltStore) PutInboxEntry(_ context.Context, sid identity.ServiceId, entry invocation.InboxEntry) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	key := append(sidKey(sid), be64(entry.SequenceNumber)...)
	if err := x.put(bucketInbox, key, invocation.MarshalInboxEntry(entry)); err != nil {
		return err
	}
	return x.bumpCounter(metaInboxNext, entry.SequenceNumber+1)
}

// PeekInbox implements PartitionStore.
func (x *BoltStore) PeekInbox(_ context.Context, sid identity.ServiceId) (invocation.InboxEntry, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return invocation.InboxEntry{}, false, err
	}
	var entry invocation.InboxEntry
	found := false
	prefix := sidKey(sid)
	err := x.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketInbox).Cursor()
		k, v := cursor.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}
		raw, err := x.decompress(v)
		if err != nil {
			return err
		}
		decoded, err := invocation.UnmarshalInboxEntry(raw)
		if err != nil {
			return errors.NewCorruptRecordError("inbox", sid.String(), err)
		}
		entry = decoded
		found = true
		return nil
	})
	if err != nil {
		return invocation.InboxEntry{}, false, err
	}
	return entry, found, nil
}

// ListInbox implements PartitionStore.
func (x *BoltStore) ListInbox(_ context.Context, sid identity.ServiceId) ([]invocation.InboxEntry, error) {
	if err := x.ensureOpen(); err != nil {
		return nil, err
	}
	var entries []invocation.InboxEntry
	err := x.scanPrefix(bucketInbox, sidKey(sid), func(_, raw []byte) error {
		entry, err := invocation.UnmarshalInboxEntry(raw)
		if err != nil {
			return errors.NewCorruptRecordError("inbox", sid.String(), err)
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// DeleteInboxEntry implements PartitionStore.
func (x *BoltStore) DeleteInboxEntry(_ context.Context, sid identity.ServiceId, sequenceNumber uint64) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.del(bucketInbox, append(sidKey(sid), be64(sequenceNumber)...))
}

// GetDedupSequenceNumber implements dedup.Store.
func (x *BoltStore) GetDedupSequenceNumber(_ context.Context, producer string) (dedup.SequenceNumber, bool, error) {
	if err := x.ensureOpen(); err != nil {
		return dedup.SequenceNumber{}, false, err
	}
	raw, ok, err := x.get(bucketDedup, []byte(producer))
	if err != nil || !ok {
		return dedup.SequenceNumber{}, false, err
	}
	sn, err := dedup.UnmarshalSequenceNumber(raw)
	if err != nil {
		return dedup.SequenceNumber{}, false, errors.NewCorruptRecordError("dedup", producer, err)
	}
	return sn, true, nil
}

// PutDedupSequenceNumber implements dedup.Store.
func (x *BoltStore) PutDedupSequenceNumber(_ context.Context, producer string, sn dedup.SequenceNumber) error {
	if err := x.ensureOpen(); err != nil {
		return err
	}
	return x.put(bucketDedup, []byte(producer), dedup.MarshalSequenceNumber(sn))
}

// NextOutboxPosition implements PartitionStore.
func (x *BoltStore) NextOutboxPosition(_ context.Context) (uint64, error) {
	if err := x.ensureOpen(); err != nil {
		return 0, err
	}
	return x.counter(metaOutboxNext)
}

// NextTimerSeqNumber implements PartitionStore.
func (x *BoltStore) NextTimerSeqNumber(_ context.Context) (uint64, error) {
	if err := x.ensureOpen(); err != nil {
		return 0, err
	}
	return x.counter(metaTimerNext)
}

// NextInboxSeqNumber implements PartitionStore.
func (x *BoltStore) NextInboxSeqNumber(_ context.Context) (uint64, error) {
	if err := x.ensureOpen(); err != nil {
		return 0, err
	}
	return x.counter(metaInboxNext)
}

// Close implements PartitionStore. Closing twice is a no-op.
func (x *BoltStore) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	x.encoder.Close()
	x.decoder.Close()
	return x.db.Close()
}
