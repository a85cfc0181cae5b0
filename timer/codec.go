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

package timer

import (
	"fmt"
	"time"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/internal/wire"
)

// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	Timer     1:sleep(msg) 2:invoke(msg)
//	Sleep     1:fid(msg)   2:entry_index
//	Sequenced 1:seq_number 2:fire_at(unix millis) 3:timer(msg)

// MarshalTimer encodes a Timer.
func MarshalTimer(t Timer) []byte {
	var b []byte
	switch t.kind {
	case KindCompleteSleepEntry:
		b = wire.AppendMessage(b, 1, marshalSleep(*t.sleep))
	case KindInvoke:
		b = wire.AppendMessage(b, 2, invocation.MarshalServiceInvocation(*t.invocation))
	}
	return b
}

// UnmarshalTimer decodes a Timer. A record carrying no known variant field
// is rejected as corrupt.
func UnmarshalTimer(data []byte) (Timer, error) {
	var t Timer
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Timer{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Timer{}, err
			}
			sleep, err := unmarshalSleep(v)
			if err != nil {
				return Timer{}, err
			}
			t.kind = KindCompleteSleepEntry
			t.sleep = &sleep
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return Timer{}, err
			}
			inv, err := invocation.UnmarshalServiceInvocation(v)
			if err != nil {
				return Timer{}, err
			}
			t.kind = KindInvoke
			t.invocation = &inv
		default:
			if err := d.Skip(); err != nil {
				return Timer{}, err
			}
		}
	}
	if t.kind == 0 {
		return Timer{}, fmt.Errorf("timer: timer record carries no variant")
	}
	return t, nil
}

// MarshalSequenced encodes a Sequenced timer.
func MarshalSequenced(s Sequenced) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, s.SeqNumber)
	if !s.FireAt.IsZero() {
		b = wire.AppendUint64(b, 2, uint64(s.FireAt.UnixMilli()))
	}
	b = wire.AppendMessage(b, 3, MarshalTimer(s.Timer))
	return b
}

// UnmarshalSequenced decodes a Sequenced timer.
func UnmarshalSequenced(data []byte) (Sequenced, error) {
	var s Sequenced
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Sequenced{}, err
		}
		switch num {
		case 1:
			if s.SeqNumber, err = d.Uint64(); err != nil {
				return Sequenced{}, err
			}
		case 2:
			v, err := d.Uint64()
			if err != nil {
				return Sequenced{}, err
			}
			s.FireAt = time.UnixMilli(int64(v)).UTC()
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return Sequenced{}, err
			}
			if s.Timer, err = UnmarshalTimer(v); err != nil {
				return Sequenced{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return Sequenced{}, err
			}
		}
	}
	return s, nil
}

func marshalSleep(s Sleep) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, identity.MarshalFullInvocationId(s.FID))
	b = wire.AppendUint32(b, 2, uint32(s.EntryIndex))
	return b
}

func unmarshalSleep(data []byte) (Sleep, error) {
	var s Sleep
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Sleep{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Sleep{}, err
			}
			if s.FID, err = identity.UnmarshalFullInvocationId(v); err != nil {
				return Sleep{}, err
			}
		case 2:
			v, err := d.Uint32()
			if err != nil {
				return Sleep{}, err
			}
			s.EntryIndex = journal.EntryIndex(v)
		default:
			if err := d.Skip(); err != nil {
				return Sleep{}, err
			}
		}
	}
	return s, nil
}
