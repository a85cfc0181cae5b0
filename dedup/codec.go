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

package dedup

import (
	"github.com/kestrelworks/kestrel/internal/wire"
)

// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	SequenceNumber 1:leader_epoch 2:sequence

// MarshalSequenceNumber encodes a SequenceNumber.
func MarshalSequenceNumber(s SequenceNumber) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, s.LeaderEpoch)
	b = wire.AppendUint64(b, 2, s.Sequence)
	return b
}

// UnmarshalSequenceNumber decodes a SequenceNumber.
func UnmarshalSequenceNumber(data []byte) (SequenceNumber, error) {
	var s SequenceNumber
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return SequenceNumber{}, err
		}
		switch num {
		case 1:
			if s.LeaderEpoch, err = d.Uint64(); err != nil {
				return SequenceNumber{}, err
			}
		case 2:
			if s.Sequence, err = d.Uint64(); err != nil {
				return SequenceNumber{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return SequenceNumber{}, err
			}
		}
	}
	return s, nil
}
