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

package invocation

import (
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/internal/wire"
	"github.com/kestrelworks/kestrel/journal"
)

// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	ResponseSink      1:kind 2:caller 3:entry_index 4:node_id 5:target
//	                  6:method 7:caller_context
//	Header            1:name 2:value
//	ServiceInvocation 1:fid 2:method_name 3:argument 4:source 5:span_context
//	                  6:response_sink 7:execution_time 8:headers (repeated)
//	Metadata          1:service_id 2:journal_length 3:response_sink
//	                  4:creation_time 5:modification_time 6:method_name
//	                  7:deployment_id 8:source 9:span_context
//	Status            1:kind 2:metadata 3:waiting (repeated)
//	ServiceStatus     1:invocation_uuid
//	InboxEntry        1:sequence_number 3:invocation
//	                  (field 2 is reserved: it carried the legacy untagged
//	                  invocation form and must never be reassigned)
//
// Timestamps travel as milliseconds since the Unix epoch.

// MarshalResponseSink encodes a ResponseSink.
func MarshalResponseSink(s ResponseSink) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, uint64(s.Kind()))
	switch s.kind {
	case SinkKindPartitionProcessor:
		b = wire.AppendMessage(b, 2, identity.MarshalFullInvocationId(s.caller))
		b = wire.AppendUint32(b, 3, uint32(s.entryIndex))
	case SinkKindIngress:
		b = wire.AppendMessage(b, 4, identity.MarshalGenerationalNodeId(s.nodeID))
	case SinkKindNewInvocation:
		b = wire.AppendMessage(b, 5, identity.MarshalServiceId(s.target))
		b = wire.AppendString(b, 6, s.method)
		b = wire.AppendBytes(b, 7, s.callerContext)
	}
	return b
}

// UnmarshalResponseSink decodes a ResponseSink.
func UnmarshalResponseSink(data []byte) (ResponseSink, error) {
	var s ResponseSink
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return ResponseSink{}, err
		}
		switch num {
		case 1:
			v, err := d.Uint64()
			if err != nil {
				return ResponseSink{}, err
			}
			s.kind = SinkKind(v)
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return ResponseSink{}, err
			}
			if s.caller, err = identity.UnmarshalFullInvocationId(v); err != nil {
				return ResponseSink{}, err
			}
		case 3:
			v, err := d.Uint32()
			if err != nil {
				return ResponseSink{}, err
			}
			s.entryIndex = journal.EntryIndex(v)
		case 4:
			v, err := d.Bytes()
			if err != nil {
				return ResponseSink{}, err
			}
			if s.nodeID, err = identity.UnmarshalGenerationalNodeId(v); err != nil {
				return ResponseSink{}, err
			}
		case 5:
			v, err := d.Bytes()
			if err != nil {
				return ResponseSink{}, err
			}
			if s.target, err = identity.UnmarshalServiceId(v); err != nil {
				return ResponseSink{}, err
			}
		case 6:
			if s.method, err = d.String(); err != nil {
				return ResponseSink{}, err
			}
		case 7:
			v, err := d.Bytes()
			if err != nil {
				return ResponseSink{}, err
			}
			s.callerContext = append([]byte(nil), v...)
		default:
			if err := d.Skip(); err != nil {
				return ResponseSink{}, err
			}
		}
	}
	switch s.kind {
	case SinkKindNone, SinkKindPartitionProcessor, SinkKindIngress, SinkKindNewInvocation:
		return s, nil
	default:
		return ResponseSink{}, fmt.Errorf("unknown response sink kind %d", s.kind)
	}
}

func marshalHeader(h Header) []byte {
	var b []byte
	b = wire.AppendString(b, 1, h.Name)
	b = wire.AppendString(b, 2, h.Value)
	return b
}

func unmarshalHeader(data []byte) (Header, error) {
	var h Header
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Header{}, err
		}
		switch num {
		case 1:
			if h.Name, err = d.String(); err != nil {
				return Header{}, err
			}
		case 2:
			if h.Value, err = d.String(); err != nil {
				return Header{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return Header{}, err
			}
		}
	}
	return h, nil
}

// MarshalServiceInvocation encodes a ServiceInvocation.
func MarshalServiceInvocation(s ServiceInvocation) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, identity.MarshalFullInvocationId(s.FID))
	b = wire.AppendString(b, 2, s.MethodName)
	b = wire.AppendBytes(b, 3, s.Argument)
	b = wire.AppendBytes(b, 4, s.Source)
	b = wire.AppendBytes(b, 5, s.SpanContext)
	b = wire.AppendMessage(b, 6, MarshalResponseSink(s.ResponseSink))
	b = wire.AppendUint64(b, 7, timeToMillis(s.ExecutionTime))
	for _, header := range s.Headers {
		b = wire.AppendMessage(b, 8, marshalHeader(header))
	}
	return b
}

// UnmarshalServiceInvocation decodes a ServiceInvocation.
func UnmarshalServiceInvocation(data []byte) (ServiceInvocation, error) {
	var s ServiceInvocation
	s.ResponseSink = SinkNone()
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return ServiceInvocation{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return ServiceInvocation{}, err
			}
			if s.FID, err = identity.UnmarshalFullInvocationId(v); err != nil {
				return ServiceInvocation{}, err
			}
		case 2:
			if s.MethodName, err = d.String(); err != nil {
				return ServiceInvocation{}, err
			}
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return ServiceInvocation{}, err
			}
			s.Argument = append([]byte(nil), v...)
		case 4:
			v, err := d.Bytes()
			if err != nil {
				return ServiceInvocation{}, err
			}
			s.Source = append([]byte(nil), v...)
		case 5:
			v, err := d.Bytes()
			if err != nil {
				return ServiceInvocation{}, err
			}
			s.SpanContext = append([]byte(nil), v...)
		case 6:
			v, err := d.Bytes()
			if err != nil {
				return ServiceInvocation{}, err
			}
			if s.ResponseSink, err = UnmarshalResponseSink(v); err != nil {
				return ServiceInvocation{}, err
			}
		case 7:
			v, err := d.Uint64()
			if err != nil {
				return ServiceInvocation{}, err
			}
			s.ExecutionTime = millisToTime(v)
		case 8:
			v, err := d.Bytes()
			if err != nil {
				return ServiceInvocation{}, err
			}
			header, err := unmarshalHeader(v)
			if err != nil {
				return ServiceInvocation{}, err
			}
			s.Headers = append(s.Headers, header)
		default:
			if err := d.Skip(); err != nil {
				return ServiceInvocation{}, err
			}
		}
	}
	return s, nil
}

// MarshalMetadata encodes invocation Metadata.
func MarshalMetadata(m Metadata) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, identity.MarshalServiceId(m.ServiceId))
	b = wire.AppendUint32(b, 2, uint32(m.JournalLength))
	b = wire.AppendMessage(b, 3, MarshalResponseSink(m.ResponseSink))
	b = wire.AppendUint64(b, 4, timeToMillis(m.CreationTime))
	b = wire.AppendUint64(b, 5, timeToMillis(m.ModificationTime))
	b = wire.AppendString(b, 6, m.MethodName)
	b = wire.AppendString(b, 7, m.DeploymentId)
	b = wire.AppendBytes(b, 8, m.Source)
	b = wire.AppendBytes(b, 9, m.SpanContext)
	return b
}

// UnmarshalMetadata decodes invocation Metadata.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var m Metadata
	m.ResponseSink = SinkNone()
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Metadata{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Metadata{}, err
			}
			if m.ServiceId, err = identity.UnmarshalServiceId(v); err != nil {
				return Metadata{}, err
			}
		case 2:
			v, err := d.Uint32()
			if err != nil {
				return Metadata{}, err
			}
			m.JournalLength = journal.EntryIndex(v)
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return Metadata{}, err
			}
			if m.ResponseSink, err = UnmarshalResponseSink(v); err != nil {
				return Metadata{}, err
			}
		case 4:
			v, err := d.Uint64()
			if err != nil {
				return Metadata{}, err
			}
			m.CreationTime = millisToTime(v)
		case 5:
			v, err := d.Uint64()
			if err != nil {
				return Metadata{}, err
			}
			m.ModificationTime = millisToTime(v)
		case 6:
			if m.MethodName, err = d.String(); err != nil {
				return Metadata{}, err
			}
		case 7:
			if m.DeploymentId, err = d.String(); err != nil {
				return Metadata{}, err
			}
		case 8:
			v, err := d.Bytes()
			if err != nil {
				return Metadata{}, err
			}
			m.Source = append([]byte(nil), v...)
		case 9:
			v, err := d.Bytes()
			if err != nil {
				return Metadata{}, err
			}
			m.SpanContext = append([]byte(nil), v...)
		default:
			if err := d.Skip(); err != nil {
				return Metadata{}, err
			}
		}
	}
	return m, nil
}

// MarshalStatus encodes a Status.
func MarshalStatus(s Status) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, uint64(s.Kind()))
	if !s.IsFree() {
		b = wire.AppendMessage(b, 2, MarshalMetadata(s.metadata))
	}
	if s.waiting != nil {
		for _, index := range s.waiting.ToSlice() {
			b = wire.AppendUint32(b, 3, uint32(index))
		}
	}
	return b
}

// UnmarshalStatus decodes a Status.
func UnmarshalStatus(data []byte) (Status, error) {
	var s Status
	var waiting []journal.EntryIndex
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Status{}, err
		}
		switch num {
		case 1:
			v, err := d.Uint64()
			if err != nil {
				return Status{}, err
			}
			s.kind = StatusKind(v)
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return Status{}, err
			}
			if s.metadata, err = UnmarshalMetadata(v); err != nil {
				return Status{}, err
			}
		case 3:
			v, err := d.Uint32()
			if err != nil {
				return Status{}, err
			}
			waiting = append(waiting, journal.EntryIndex(v))
		default:
			if err := d.Skip(); err != nil {
				return Status{}, err
			}
		}
	}
	switch s.kind {
	case StatusKindFree, StatusKindInvoked:
	case StatusKindSuspended:
		s.waiting = mapset.NewThreadUnsafeSet(waiting...)
	default:
		return Status{}, fmt.Errorf("unknown invocation status kind %d", s.kind)
	}
	return s, nil
}

// MarshalServiceStatus encodes a ServiceStatus lock record.
func MarshalServiceStatus(s ServiceStatus) []byte {
	var b []byte
	b = wire.AppendBytes(b, 1, s.InvocationUUID.Bytes())
	return b
}

// UnmarshalServiceStatus decodes a ServiceStatus lock record.
func UnmarshalServiceStatus(data []byte) (ServiceStatus, error) {
	var s ServiceStatus
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return ServiceStatus{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return ServiceStatus{}, err
			}
			if s.InvocationUUID, err = identity.InvocationUUIDFromBytes(v); err != nil {
				return ServiceStatus{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return ServiceStatus{}, err
			}
		}
	}
	return s, nil
}

// MarshalInboxEntry encodes an InboxEntry.
func MarshalInboxEntry(e InboxEntry) []byte {
	var b []byte
	b = wire.AppendUint64(b, 1, e.SequenceNumber)
	b = wire.AppendMessage(b, 3, MarshalServiceInvocation(e.Invocation))
	return b
}

// UnmarshalInboxEntry decodes an InboxEntry. The reserved legacy field 2 is
// skipped like any unknown field and treated as absent.
func UnmarshalInboxEntry(data []byte) (InboxEntry, error) {
	var e InboxEntry
	var sawVariant bool
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return InboxEntry{}, err
		}
		switch num {
		case 1:
			if e.SequenceNumber, err = d.Uint64(); err != nil {
				return InboxEntry{}, err
			}
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return InboxEntry{}, err
			}
			if e.Invocation, err = UnmarshalServiceInvocation(v); err != nil {
				return InboxEntry{}, err
			}
			sawVariant = true
		default:
			if err := d.Skip(); err != nil {
				return InboxEntry{}, err
			}
		}
	}
	if !sawVariant {
		return InboxEntry{}, fmt.Errorf("inbox entry without variant")
	}
	return e, nil
}

func timeToMillis(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixMilli())
}

func millisToTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(v)).UTC()
}
