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
	"time"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/internal/wire"
)

// Entry payloads the state machine itself interprets. Most entry payloads
// are opaque to the core and flow through RawEntry untouched; the payloads
// below drive state mutation, timers and awakeable completion, so their
// layouts are part of the durable format.
//
// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	StatePayload             1:key 2:value
//	SleepPayload             1:wake_up_time(unix millis)
//	CompleteAwakeablePayload 1:invocation_uuid 2:entry_index 3:result(msg)

// StatePayload is the payload of GetState, SetState and ClearState entries.
// ClearState and GetState carry only the key.
type StatePayload struct {
	Key   []byte
	Value []byte
}

// MarshalStatePayload encodes a StatePayload.
func MarshalStatePayload(p StatePayload) []byte {
	var b []byte
	b = wire.AppendBytes(b, 1, p.Key)
	b = wire.AppendBytes(b, 2, p.Value)
	return b
}

// UnmarshalStatePayload decodes a StatePayload.
func UnmarshalStatePayload(data []byte) (StatePayload, error) {
	var p StatePayload
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return StatePayload{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return StatePayload{}, err
			}
			p.Key = append([]byte(nil), v...)
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return StatePayload{}, err
			}
			p.Value = append([]byte(nil), v...)
		default:
			if err := d.Skip(); err != nil {
				return StatePayload{}, err
			}
		}
	}
	return p, nil
}

// SleepPayload is the payload of a Sleep entry.
type SleepPayload struct {
	WakeUpTime time.Time
}

// MarshalSleepPayload encodes a SleepPayload.
func MarshalSleepPayload(p SleepPayload) []byte {
	var b []byte
	if !p.WakeUpTime.IsZero() {
		b = wire.AppendUint64(b, 1, uint64(p.WakeUpTime.UnixMilli()))
	}
	return b
}

// UnmarshalSleepPayload decodes a SleepPayload.
func UnmarshalSleepPayload(data []byte) (SleepPayload, error) {
	var p SleepPayload
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return SleepPayload{}, err
		}
		switch num {
		case 1:
			v, err := d.Uint64()
			if err != nil {
				return SleepPayload{}, err
			}
			p.WakeUpTime = time.UnixMilli(int64(v)).UTC()
		default:
			if err := d.Skip(); err != nil {
				return SleepPayload{}, err
			}
		}
	}
	return p, nil
}

// CompleteAwakeablePayload is the payload of a CompleteAwakeable entry: the
// result to deliver into another invocation's awakeable entry. The target is
// addressed by bare invocation uuid since the completer rarely knows the
// service key.
type CompleteAwakeablePayload struct {
	InvocationUUID identity.InvocationUUID
	EntryIndex     EntryIndex
	Result         CompletionResult
}

// MarshalCompleteAwakeablePayload encodes a CompleteAwakeablePayload.
func MarshalCompleteAwakeablePayload(p CompleteAwakeablePayload) []byte {
	var b []byte
	b = wire.AppendBytes(b, 1, p.InvocationUUID.Bytes())
	b = wire.AppendUint32(b, 2, uint32(p.EntryIndex))
	b = wire.AppendMessage(b, 3, MarshalCompletionResult(p.Result))
	return b
}

// UnmarshalCompleteAwakeablePayload decodes a CompleteAwakeablePayload.
func UnmarshalCompleteAwakeablePayload(data []byte) (CompleteAwakeablePayload, error) {
	var p CompleteAwakeablePayload
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return CompleteAwakeablePayload{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return CompleteAwakeablePayload{}, err
			}
			if p.InvocationUUID, err = identity.InvocationUUIDFromBytes(v); err != nil {
				return CompleteAwakeablePayload{}, err
			}
		case 2:
			v, err := d.Uint32()
			if err != nil {
				return CompleteAwakeablePayload{}, err
			}
			p.EntryIndex = EntryIndex(v)
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return CompleteAwakeablePayload{}, err
			}
			if p.Result, err = UnmarshalCompletionResult(v); err != nil {
				return CompleteAwakeablePayload{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return CompleteAwakeablePayload{}, err
			}
		}
	}
	return p, nil
}
