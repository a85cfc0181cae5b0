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

// Package outbox implements the ordered, durable queue of outgoing effects:
// new invocations, responses and termination signals pending delivery to
// external partitions or ingress nodes. Messages leave the outbox only after
// confirmed delivery, which together with strictly increasing positions
// gives at-least-once, in-order delivery.
package outbox

import (
	"fmt"

	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
)

// MessageKind discriminates the outbox message variants.
type MessageKind int

const (
	// MessageKindServiceInvocation sends a new invocation to its owning
	// partition.
	MessageKindServiceInvocation MessageKind = iota + 1
	// MessageKindResponse delivers a completion result to a caller.
	MessageKindResponse
	// MessageKindKill forcibly terminates a remote invocation.
	MessageKindKill
	// MessageKindCancel gracefully cancels a remote invocation.
	MessageKindCancel
	// MessageKindIngressResponse delivers an invocation result to the
	// ingress node that submitted it.
	MessageKindIngressResponse
)

var messageKindNames = map[MessageKind]string{
	MessageKindServiceInvocation: "ServiceInvocation",
	MessageKindResponse:          "ServiceInvocationResponse",
	MessageKindKill:              "Kill",
	MessageKindCancel:            "Cancel",
	MessageKindIngressResponse:   "IngressResponse",
}

// String returns the message kind name.
func (k MessageKind) String() string {
	if name, ok := messageKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Response is the payload of a response message: the completion result for
// one journal entry of the target invocation. The target may be a bare
// invocation uuid when the sender cannot resolve the service id.
type Response struct {
	Target     identity.MaybeFullInvocationId
	EntryIndex journal.EntryIndex
	Result     journal.CompletionResult
}

// IngressResponse is the payload of an ingress response message: the final
// result of an invocation, addressed to the ingress node that submitted it.
type IngressResponse struct {
	Target identity.GenerationalNodeId
	FID    identity.FullInvocationId
	Result journal.CompletionResult
}

// Message is one tagged outbox record.
type Message struct {
	kind       MessageKind
	invocation *invocation.ServiceInvocation
	response   *Response
	ingress    *IngressResponse
	// target addresses kill and cancel messages.
	target identity.MaybeFullInvocationId
}

// NewServiceInvocationMessage wraps a new invocation to send.
func NewServiceInvocationMessage(inv invocation.ServiceInvocation) Message {
	return Message{
		kind:       MessageKindServiceInvocation,
		invocation: &inv,
	}
}

// NewResponseMessage wraps a completion result to deliver.
func NewResponseMessage(response Response) Message {
	return Message{
		kind:     MessageKindResponse,
		response: &response,
	}
}

// NewKillMessage wraps a kill signal for the given invocation.
func NewKillMessage(target identity.MaybeFullInvocationId) Message {
	return Message{
		kind:   MessageKindKill,
		target: target,
	}
}

// NewCancelMessage wraps a cancel signal for the given invocation.
func NewCancelMessage(target identity.MaybeFullInvocationId) Message {
	return Message{
		kind:   MessageKindCancel,
		target: target,
	}
}

// NewIngressResponseMessage wraps an invocation result to deliver to an
// ingress node.
func NewIngressResponseMessage(response IngressResponse) Message {
	return Message{
		kind:    MessageKindIngressResponse,
		ingress: &response,
	}
}

// Kind returns the active variant.
func (m Message) Kind() MessageKind {
	return m.kind
}

// ServiceInvocation returns the wrapped invocation.
func (m Message) ServiceInvocation() (invocation.ServiceInvocation, bool) {
	if m.invocation == nil {
		return invocation.ServiceInvocation{}, false
	}
	return *m.invocation, true
}

// Response returns the wrapped response.
func (m Message) Response() (Response, bool) {
	if m.response == nil {
		return Response{}, false
	}
	return *m.response, true
}

// IngressResponse returns the wrapped ingress response.
func (m Message) IngressResponse() (IngressResponse, bool) {
	if m.ingress == nil {
		return IngressResponse{}, false
	}
	return *m.ingress, true
}

// Termination returns the target of a kill or cancel message.
func (m Message) Termination() (identity.MaybeFullInvocationId, bool) {
	if m.kind != MessageKindKill && m.kind != MessageKindCancel {
		return identity.MaybeFullInvocationId{}, false
	}
	return m.target, true
}

// String returns a human-readable representation of the message.
func (m Message) String() string {
	switch m.kind {
	case MessageKindServiceInvocation:
		return fmt.Sprintf("ServiceInvocation(%s)", m.invocation.FID)
	case MessageKindResponse:
		return fmt.Sprintf("Response(%s#%d)", m.response.Target, m.response.EntryIndex)
	case MessageKindKill:
		return fmt.Sprintf("Kill(%s)", m.target)
	case MessageKindCancel:
		return fmt.Sprintf("Cancel(%s)", m.target)
	case MessageKindIngressResponse:
		return fmt.Sprintf("IngressResponse(%s -> %s)", m.ingress.FID, m.ingress.Target)
	default:
		return "Unknown"
	}
}

// Sequenced pairs a message with its outbox position.
type Sequenced struct {
	Position uint64
	Message  Message
}
