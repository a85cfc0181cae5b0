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

// Package identity defines the stable identifiers for services, invocations
// and node generations used across every durable record.
package identity

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// PartitionKey maps a service instance to the partition that owns it. Keys
// are derived with a stable hash so the mapping survives restarts and is
// identical on every node.
type PartitionKey uint64

// ServiceId identifies a stateful service instance (an "actor"): one logical
// service name plus the per-instance key that scopes exclusive execution.
type ServiceId struct {
	ServiceName string
	ServiceKey  []byte
}

// NewServiceId creates an instance of ServiceId.
func NewServiceId(serviceName string, serviceKey []byte) ServiceId {
	return ServiceId{
		ServiceName: serviceName,
		ServiceKey:  serviceKey,
	}
}

// PartitionKey returns the stable partition key for this service instance.
// Both the service name and the service key feed the hash so two services
// sharing key bytes never collide by construction.
func (s ServiceId) PartitionKey() PartitionKey {
	h := xxh3.New()
	_, _ = h.WriteString(s.ServiceName)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(s.ServiceKey)
	return PartitionKey(h.Sum64())
}

// Equal reports whether two service ids refer to the same service instance.
func (s ServiceId) Equal(other ServiceId) bool {
	return s.ServiceName == other.ServiceName && bytes.Equal(s.ServiceKey, other.ServiceKey)
}

// String returns a human-readable representation of the service id.
func (s ServiceId) String() string {
	return fmt.Sprintf("%s/%x", s.ServiceName, s.ServiceKey)
}

// InvocationUUID identifies one invocation attempt. It is a 128-bit UUIDv7:
// globally unique and time-sortable, so journal garbage collection and
// debugging tools can order invocations by creation time without extra state.
type InvocationUUID uuid.UUID

// NewInvocationUUID mints a fresh time-sortable invocation uuid.
func NewInvocationUUID() InvocationUUID {
	return InvocationUUID(uuid.Must(uuid.NewV7()))
}

// InvocationUUIDFromBytes rebuilds an invocation uuid from its 16-byte wire
// form.
func InvocationUUIDFromBytes(data []byte) (InvocationUUID, error) {
	u, err := uuid.FromBytes(data)
	if err != nil {
		return InvocationUUID{}, fmt.Errorf("invalid invocation uuid: %w", err)
	}
	return InvocationUUID(u), nil
}

// Bytes returns the 16-byte wire form of the uuid.
func (u InvocationUUID) Bytes() []byte {
	out := make([]byte, 16)
	copy(out, u[:])
	return out
}

// IsZero reports whether the uuid is unset.
func (u InvocationUUID) IsZero() bool {
	return u == InvocationUUID{}
}

// String returns the canonical uuid string.
func (u InvocationUUID) String() string {
	return uuid.UUID(u).String()
}

// FullInvocationId identifies one invocation attempt end-to-end: the service
// instance it runs on plus the invocation uuid.
type FullInvocationId struct {
	ServiceId
	InvocationUUID InvocationUUID
}

// NewFullInvocationId mints a FullInvocationId with a fresh uuid for the
// given service instance.
func NewFullInvocationId(serviceName string, serviceKey []byte) FullInvocationId {
	return FullInvocationId{
		ServiceId:      NewServiceId(serviceName, serviceKey),
		InvocationUUID: NewInvocationUUID(),
	}
}

// CombineFullInvocationId pairs a known service id with a known invocation
// uuid.
func CombineFullInvocationId(serviceID ServiceId, invocationUUID InvocationUUID) FullInvocationId {
	return FullInvocationId{
		ServiceId:      serviceID,
		InvocationUUID: invocationUUID,
	}
}

// Equal reports whether two full invocation ids refer to the same attempt.
func (f FullInvocationId) Equal(other FullInvocationId) bool {
	return f.ServiceId.Equal(other.ServiceId) && f.InvocationUUID == other.InvocationUUID
}

// String returns a human-readable representation of the invocation id.
func (f FullInvocationId) String() string {
	return fmt.Sprintf("%s/%s", f.ServiceId, f.InvocationUUID)
}

// MaybeFullInvocationId is either a full invocation id or a bare invocation
// uuid. The bare form shows up when the service id is not resolvable at the
// sender, e.g. cross-partition awakeable completions.
type MaybeFullInvocationId struct {
	// serviceID is nil for the bare uuid form.
	serviceID      *ServiceId
	invocationUUID InvocationUUID
}

// FullId wraps a FullInvocationId.
func FullId(fid FullInvocationId) MaybeFullInvocationId {
	sid := fid.ServiceId
	return MaybeFullInvocationId{
		serviceID:      &sid,
		invocationUUID: fid.InvocationUUID,
	}
}

// PartialId wraps a bare invocation uuid.
func PartialId(invocationUUID InvocationUUID) MaybeFullInvocationId {
	return MaybeFullInvocationId{invocationUUID: invocationUUID}
}

// IsFull reports whether the service id is known.
func (m MaybeFullInvocationId) IsFull() bool {
	return m.serviceID != nil
}

// Full returns the full invocation id. Valid only when IsFull reports true.
func (m MaybeFullInvocationId) Full() (FullInvocationId, bool) {
	if m.serviceID == nil {
		return FullInvocationId{}, false
	}
	return CombineFullInvocationId(*m.serviceID, m.invocationUUID), true
}

// UUID returns the invocation uuid, which is always known.
func (m MaybeFullInvocationId) UUID() InvocationUUID {
	return m.invocationUUID
}

// String returns a human-readable representation of the id.
func (m MaybeFullInvocationId) String() string {
	if m.serviceID != nil {
		return fmt.Sprintf("%s/%s", m.serviceID, m.invocationUUID)
	}
	return m.invocationUUID.String()
}

// GenerationalNodeId identifies one process incarnation of an ingress or
// coordinator node. The generation counter keeps responses addressed to a
// dead incarnation from being delivered to its restarted successor.
type GenerationalNodeId struct {
	NodeId     uint32
	Generation uint32
}

// NewGenerationalNodeId creates an instance of GenerationalNodeId.
func NewGenerationalNodeId(nodeID, generation uint32) GenerationalNodeId {
	return GenerationalNodeId{
		NodeId:     nodeID,
		Generation: generation,
	}
}

// Equal reports whether two node ids refer to the same incarnation.
func (g GenerationalNodeId) Equal(other GenerationalNodeId) bool {
	return g == other
}

// String returns a human-readable representation of the node id.
func (g GenerationalNodeId) String() string {
	return fmt.Sprintf("N%d:%d", g.NodeId, g.Generation)
}
