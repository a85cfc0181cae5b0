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

// Package dedup filters duplicated and reordered inbound messages. Each
// producer carries a monotonic sequence number on every message it sends;
// the consuming partition keeps, per producer, a high-water mark and rejects
// anything at or below it. Producers that restart under a new leader epoch
// use epoch-qualified sequence numbers so a fresh epoch always supersedes
// any sequence number minted under an older one.
package dedup

import (
	"context"
	"fmt"

	"github.com/kestrelworks/kestrel/errors"
)

// SequenceNumber is a per-producer monotonic message counter, optionally
// qualified by the leader epoch it was minted under. Ordering is
// lexicographic: epoch first, then sequence number. The plain form carries
// epoch zero; the guard resolves it against the producer's last-known epoch.
type SequenceNumber struct {
	// LeaderEpoch is zero for plain sequence numbers.
	LeaderEpoch uint64
	Sequence    uint64
}

// Plain creates an epoch-less sequence number.
func Plain(sequence uint64) SequenceNumber {
	return SequenceNumber{Sequence: sequence}
}

// Epoch creates an epoch-qualified sequence number.
func Epoch(leaderEpoch, sequence uint64) SequenceNumber {
	return SequenceNumber{LeaderEpoch: leaderEpoch, Sequence: sequence}
}

// After reports whether s strictly supersedes the other sequence number.
func (s SequenceNumber) After(other SequenceNumber) bool {
	if s.LeaderEpoch != other.LeaderEpoch {
		return s.LeaderEpoch > other.LeaderEpoch
	}
	return s.Sequence > other.Sequence
}

// String returns a human-readable representation of the sequence number.
func (s SequenceNumber) String() string {
	if s.LeaderEpoch == 0 {
		return fmt.Sprintf("Sn(%d)", s.Sequence)
	}
	return fmt.Sprintf("Esn(%d, %d)", s.LeaderEpoch, s.Sequence)
}

// Store persists the per-producer high-water marks. Implementations live in
// the storage package.
type Store interface {
	// GetDedupSequenceNumber returns the high-water mark for the producer.
	// ok is false when the producer has never been seen.
	GetDedupSequenceNumber(ctx context.Context, producer string) (SequenceNumber, bool, error)
	// PutDedupSequenceNumber advances the high-water mark for the producer.
	PutDedupSequenceNumber(ctx context.Context, producer string, sn SequenceNumber) error
}

// Guard rejects stale and duplicated messages per producer. It is driven by
// the partition's single command loop, so it performs no locking of its own.
type Guard struct {
	store Store
}

// NewGuard creates a Guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CheckAndAdvance accepts the message when its sequence number strictly
// supersedes the producer's high-water mark, advancing the mark in the same
// step. Anything at or below the mark returns ErrStaleMessage, including
// sequence numbers minted under a superseded leader epoch. A plain sequence
// number is only valid within the epoch its producer is believed to still
// hold: it inherits the stored mark's epoch before the comparison and the
// mark is advanced under that epoch.
func (g *Guard) CheckAndAdvance(ctx context.Context, producer string, sn SequenceNumber) error {
	current, seen, err := g.store.GetDedupSequenceNumber(ctx, producer)
	if err != nil {
		return err
	}
	if seen {
		if sn.LeaderEpoch == 0 {
			sn.LeaderEpoch = current.LeaderEpoch
		}
		if !sn.After(current) {
			return errors.NewErrStaleMessage(producer)
		}
	}
	return g.store.PutDedupSequenceNumber(ctx, producer, sn)
}
