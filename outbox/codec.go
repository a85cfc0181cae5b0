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

package outbox

import (
	"fmt"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/internal/wire"
)

// Wire layout (field numbers are frozen, unknown numbers are skipped):
//
//	Message         1:service_invocation(msg) 2:response(msg) 4:kill(msg)
//	                5:cancel(msg) 6:ingress_response(msg)
//	                field 3 is reserved and must never be reused.
//	Response        1:target(msg) 2:entry_index 3:result(msg)
//	IngressResponse 1:node(msg) 2:fid(msg) 3:result(msg)

// MarshalMessage encodes an outbox message.
func MarshalMessage(m Message) []byte {
	var b []byte
	switch m.kind {
	case MessageKindServiceInvocation:
		b = wire.AppendMessage(b, 1, invocation.MarshalServiceInvocation(*m.invocation))
	case MessageKindResponse:
		b = wire.AppendMessage(b, 2, marshalResponse(*m.response))
	case MessageKindKill:
		b = wire.AppendMessage(b, 4, identity.MarshalMaybeFullInvocationId(m.target))
	case MessageKindCancel:
		b = wire.AppendMessage(b, 5, identity.MarshalMaybeFullInvocationId(m.target))
	case MessageKindIngressResponse:
		b = wire.AppendMessage(b, 6, marshalIngressResponse(*m.ingress))
	}
	return b
}

// UnmarshalMessage decodes an outbox message. A record carrying no known
// variant field is rejected as corrupt rather than silently dropped.
func UnmarshalMessage(data []byte) (Message, error) {
	var m Message
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Message{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Message{}, err
			}
			inv, err := invocation.UnmarshalServiceInvocation(v)
			if err != nil {
				return Message{}, err
			}
			m.kind = MessageKindServiceInvocation
			m.invocation = &inv
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return Message{}, err
			}
			response, err := unmarshalResponse(v)
			if err != nil {
				return Message{}, err
			}
			m.kind = MessageKindResponse
			m.response = &response
		case 4, 5:
			v, err := d.Bytes()
			if err != nil {
				return Message{}, err
			}
			if m.target, err = identity.UnmarshalMaybeFullInvocationId(v); err != nil {
				return Message{}, err
			}
			if num == 4 {
				m.kind = MessageKindKill
			} else {
				m.kind = MessageKindCancel
			}
		case 6:
			v, err := d.Bytes()
			if err != nil {
				return Message{}, err
			}
			ingress, err := unmarshalIngressResponse(v)
			if err != nil {
				return Message{}, err
			}
			m.kind = MessageKindIngressResponse
			m.ingress = &ingress
		default:
			if err := d.Skip(); err != nil {
				return Message{}, err
			}
		}
	}
	if m.kind == 0 {
		return Message{}, fmt.Errorf("outbox: message record carries no variant")
	}
	return m, nil
}

func marshalResponse(r Response) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, identity.MarshalMaybeFullInvocationId(r.Target))
	b = wire.AppendUint32(b, 2, uint32(r.EntryIndex))
	b = wire.AppendMessage(b, 3, journal.MarshalCompletionResult(r.Result))
	return b
}

func marshalIngressResponse(r IngressResponse) []byte {
	var b []byte
	b = wire.AppendMessage(b, 1, identity.MarshalGenerationalNodeId(r.Target))
	b = wire.AppendMessage(b, 2, identity.MarshalFullInvocationId(r.FID))
	b = wire.AppendMessage(b, 3, journal.MarshalCompletionResult(r.Result))
	return b
}

func unmarshalIngressResponse(data []byte) (IngressResponse, error) {
	var r IngressResponse
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return IngressResponse{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return IngressResponse{}, err
			}
			if r.Target, err = identity.UnmarshalGenerationalNodeId(v); err != nil {
				return IngressResponse{}, err
			}
		case 2:
			v, err := d.Bytes()
			if err != nil {
				return IngressResponse{}, err
			}
			if r.FID, err = identity.UnmarshalFullInvocationId(v); err != nil {
				return IngressResponse{}, err
			}
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return IngressResponse{}, err
			}
			if r.Result, err = journal.UnmarshalCompletionResult(v); err != nil {
				return IngressResponse{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return IngressResponse{}, err
			}
		}
	}
	return r, nil
}

func unmarshalResponse(data []byte) (Response, error) {
	var r Response
	d := wire.NewDecoder(data)
	for !d.Done() {
		num, err := d.Next()
		if err != nil {
			return Response{}, err
		}
		switch num {
		case 1:
			v, err := d.Bytes()
			if err != nil {
				return Response{}, err
			}
			if r.Target, err = identity.UnmarshalMaybeFullInvocationId(v); err != nil {
				return Response{}, err
			}
		case 2:
			v, err := d.Uint32()
			if err != nil {
				return Response{}, err
			}
			r.EntryIndex = journal.EntryIndex(v)
		case 3:
			v, err := d.Bytes()
			if err != nil {
				return Response{}, err
			}
			if r.Result, err = journal.UnmarshalCompletionResult(v); err != nil {
				return Response{}, err
			}
		default:
			if err := d.Skip(); err != nil {
				return Response{}, err
			}
		}
	}
	return r, nil
}
