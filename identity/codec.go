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

package identity

import (
	"github.com/kestrelworks/kestrel/internal/wire"
)

// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	ServiceId            1:service_name 2:service_key
//	FullInvocationId     1:service_id   2:invocation_uuid
//	MaybeFullInvocationId 1:service_id (absent for the bare form) 2:invocation_uuid
//	GenerationalNodeId   1:node_id      2:generation

// MarshalServiceId encodes a ServiceId.
func MarshalServiceId(s ServiceId) []byte {
	var b []byte
	b = wire.AppendString(b, 1, s.ServiceName)
	b = wire.AppendBytes(b, 2, s.ServiceKey)
	return b
}

// UnmarshalServiceId decodes a ServiceId.
func UnmarshalServiceId(data []byte) (ServiceId, error) {
	var s ServiceId
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return ServiceId{}, err
		}
		switch num {
		case 1:
			if s.ServiceName, err = d.String(); err != nil {
				return ServiceId{}, err
			}
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return ServiceId{}, err
			}
			s.ServiceKey = append([]byte(nil), v...)
		default:
			if err := d.Skip(); err != nil {
				return ServiceId{}, err
			}
		}
	}
	return s, nil
}

// MarshalFullInvocationId encodes a FullInvocationId.
func MarshalFullInvocationId(f FullInvocationId) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, MarshalServiceId(f.ServiceId))
	b = wire.AppendBytes(b, 2, f.InvocationUUID.Bytes())
	return b
}

// UnmarshalFullInvocationId decodes a FullInvocationId.
func UnmarshalFullInvocationId(data []byte) (FullInvocationId, error) {
	var f FullInvocationId
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return FullInvocationId{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return FullInvocationId{}, err
			}
			if f.ServiceId, err = UnmarshalServiceId(v); err != nil {
				return FullInvocationId{}, err
			}
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return FullInvocationId{}, err
			}
			if f.InvocationUUID, err = InvocationUUIDFromBytes(v); err != nil {
				return FullInvocationId{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return FullInvocationId{}, err
			}
		}
	}
	return f, nil
}

// MarshalMaybeFullInvocationId encodes a MaybeFullInvocationId. The bare
// uuid form simply omits the service id field.
func MarshalMaybeFullInvocationId(m MaybeFullInvocationId) []byte {
	var b []byte
	if m.serviceID != nil {
		b = wire.AppendMessage(b, 1, MarshalServiceId(*m.serviceID))
	}
	b = wire.AppendBytes(b, 2, m.invocationUUID.Bytes())
	return b
}

// UnmarshalMaybeFullInvocationId decodes a MaybeFullInvocationId.
func UnmarshalMaybeFullInvocationId(data []byte) (MaybeFullInvocationId, error) {
	var m MaybeFullInvocationId
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return MaybeFullInvocationId{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return MaybeFullInvocationId{}, err
			}
			sid, err := UnmarshalServiceId(v)
			if err != nil {
				return MaybeFullInvocationId{}, err
			}
			m.serviceID = &sid
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return MaybeFullInvocationId{}, err
			}
			if m.invocationUUID, err = InvocationUUIDFromBytes(v); err != nil {
				return MaybeFullInvocationId{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return MaybeFullInvocationId{}, err
			}
		}
	}
	return m, nil
}

// MarshalGenerationalNodeId encodes a GenerationalNodeId.
func MarshalGenerationalNodeId(g GenerationalNodeId) []byte {
	var b []byte
	b = wire.AppendUint32(b, 1, g.NodeId)
	b = wire.AppendUint32(b, 2, g.Generation)
	return b
}

// UnmarshalGenerationalNodeId decodes a GenerationalNodeId.
func UnmarshalGenerationalNodeId(data []byte) (GenerationalNodeId, error) {
	var g GenerationalNodeId
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return GenerationalNodeId{}, err
		}
		switch num {
		case 1:
			if g.NodeId, err = d.Uint32(); err != nil {
				return GenerationalNodeId{}, err
			}
		case 2:
			if g.Generation, err = d.Uint32(); err != nil {
				return GenerationalNodeId{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return GenerationalNodeId{}, err
			}
		}
	}
	return g, nil
}
