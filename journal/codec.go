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
	"fmt"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/internal/wire"
)

// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	CompletionResult    1:kind 2:value 3:error_code 4:message
//	InvokeResolution    1:service_name 2:service_key 3:invocation_uuid 4:method_name
//	AwakeableResolution 1:invocation_uuid 2:entry_index
//	EntryHeader         1:type 2:completed 3:invoke_resolution 4:awakeable_resolution
//	Entry               1:header 2:raw_entry 3:result
//	Record              1:entry | 2:completion (exactly one)

// MarshalCompletionResult encodes a CompletionResult.
func MarshalCompletionResult(c CompletionResult) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, uint64(c.kind))
	b = wire.AppendBytes(b, 2, c.value)
	b = wire.AppendUint32(b, 3, c.errorCode)
	b = wire.AppendString(b, 4, c.message)
	return b
}

// UnmarshalCompletionResult decodes a CompletionResult.
func UnmarshalCompletionResult(data []byte) (CompletionResult, error) {
	var c CompletionResult
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return CompletionResult{}, err
		}
		switch num {
		case 1:
			v, err := d.Uint64()
			if err != nil {
				return CompletionResult{}, err
			}
			c.kind = completionKind(v)
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return CompletionResult{}, err
			}
			c.value = append([]byte(nil), v...)
		case 3:
			if c.errorCode, err = d.Uint32(); err != nil {
				return CompletionResult{}, err
			}
		case 4:
			if c.message, err = d.String(); err != nil {
				return CompletionResult{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return CompletionResult{}, err
			}
		}
	}
	switch c.kind {
	case completionEmpty, completionSuccess, completionFailure:
		return c, nil
	default:
		return CompletionResult{}, fmt.Errorf("unknown completion result kind %d", c.kind)
	}
}

func marshalInvokeResolution(r InvokeResolution) []byte {
	var b []byte
	b = wire.AppendString(b, 1, r.ServiceName)
	b = wire.AppendBytes(b, 2, r.ServiceKey)
	b = wire.AppendBytes(b, 3, r.InvocationUUID.Bytes())
	b = wire.AppendString(b, 4, r.MethodName)
	return b
}

func unmarshalInvokeResolution(data []byte) (InvokeResolution, error) {
	var r InvokeResolution
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return InvokeResolution{}, err
		}
		switch num {
		case 1:
			if r.ServiceName, err = d.String(); err != nil {
				return InvokeResolution{}, err
			}
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return InvokeResolution{}, err
			}
			r.ServiceKey = append([]byte(nil), v...)
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return InvokeResolution{}, err
			}
			if r.InvocationUUID, err = identity.InvocationUUIDFromBytes(v); err != nil {
				return InvokeResolution{}, err
			}
		case 4:
			if r.MethodName, err = d.String(); err != nil {
				return InvokeResolution{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return InvokeResolution{}, err
			}
		}
	}
	return r, nil
}

func marshalAwakeableResolution(r AwakeableResolution) []byte {
	var b []byte
	b = wire.AppendBytes(b, 1, r.InvocationUUID.Bytes())
	b = wire.AppendUint32(b, 2, uint32(r.EntryIndex))
	return b
}

func unmarshalAwakeableResolution(data []byte) (AwakeableResolution, error) {
	var r AwakeableResolution
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return AwakeableResolution{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return AwakeableResolution{}, err
			}
			if r.InvocationUUID, err = identity.InvocationUUIDFromBytes(v); err != nil {
				return AwakeableResolution{}, err
			}
		case 2:
			v, err := d.Uint32()
			if err != nil {
				return AwakeableResolution{}, err
			}
			r.EntryIndex = EntryIndex(v)
		default:
			if err := d.Skip(); err != nil {
				return AwakeableResolution{}, err
			}
		}
	}
	return r, nil
}

// MarshalEntryHeader encodes an EntryHeader.
func MarshalEntryHeader(h EntryHeader) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, uint64(h.Type))
	b = wire.AppendBool(b, 2, h.Completed)
	if h.InvokeResolution != nil {
		b = wire.AppendMessage(b, 3, marshalInvokeResolution(*h.InvokeResolution))
	}
	if h.AwakeableResolution != nil {
		b = wire.AppendMessage(b, 4, marshalAwakeableResolution(*h.AwakeableResolution))
	}
	return b
}

// UnmarshalEntryHeader decodes an EntryHeader.
func UnmarshalEntryHeader(data []byte) (EntryHeader, error) {
	var h EntryHeader
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return EntryHeader{}, err
		}
		switch num {
		case 1:
			v, err := d.Uint64()
			if err != nil {
				return EntryHeader{}, err
			}
			h.Type = EntryType(v)
		case 2:
			if h.Completed, err = d.Bool(); err != nil {
				return EntryHeader{}, err
			}
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return EntryHeader{}, err
			}
			r, err := unmarshalInvokeResolution(v)
			if err != nil {
				return EntryHeader{}, err
			}
			h.InvokeResolution = &r
		case 4:
			v, err := d.Bytes()
			if err != nil {
				return EntryHeader{}, err
			}
			r, err := unmarshalAwakeableResolution(v)
			if err != nil {
				return EntryHeader{}, err
			}
			h.AwakeableResolution = &r
		default:
			if err := d.Skip(); err != nil {
				return EntryHeader{}, err
			}
		}
	}
	if _, ok := entryTypeNames[h.Type]; !ok {
		return EntryHeader{}, fmt.Errorf("unknown entry type %d", int(h.Type))
	}
	return h, nil
}

// MarshalEntry encodes an Entry.
func MarshalEntry(e Entry) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, MarshalEntryHeader(e.Header))
	b = wire.AppendBytes(b, 2, e.RawEntry)
	if e.Result != nil {
		b = wire.AppendMessage(b, 3, MarshalCompletionResult(*e.Result))
	}
	return b
}

// UnmarshalEntry decodes an Entry.
func UnmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	var sawHeader bool
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Entry{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Entry{}, err
			}
			if e.Header, err = UnmarshalEntryHeader(v); err != nil {
				return Entry{}, err
			}
			sawHeader = true
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return Entry{}, err
			}
			e.RawEntry = append([]byte(nil), v...)
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return Entry{}, err
			}
			result, err := UnmarshalCompletionResult(v)
			if err != nil {
				return Entry{}, err
			}
			e.Result = &result
		default:
			if err := d.Skip(); err != nil {
				return Entry{}, err
			}
		}
	}
	if !sawHeader {
		return Entry{}, fmt.Errorf("journal entry without header")
	}
	return e, nil
}

// MarshalRecord encodes a Record.
func MarshalRecord(r Record) []byte {
	var b []byte
	if r.entry != nil {
		b = wire.AppendMessage(b, 1, MarshalEntry(*r.entry))
		return b
	}
	b = wire.AppendMessage(b, 2, MarshalCompletionResult(*r.completion))
	return b
}

// UnmarshalRecord decodes a Record.
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Record{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Record{}, err
			}
			entry, err := UnmarshalEntry(v)
			if err != nil {
				return Record{}, err
			}
			r.entry = &entry
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return Record{}, err
			}
			result, err := UnmarshalCompletionResult(v)
			if err != nil {
				return Record{}, err
			}
			r.completion = &result
		default:
			if err := d.Skip(); err != nil {
				return Record{}, err
			}
		}
	}
	if r.entry == nil && r.completion == nil {
		return Record{}, fmt.Errorf("journal record without variant")
	}
	return r, nil
}
