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

// Package partition implements the durable execution core of one partition:
// the command vocabulary, the state machine interpreting commands into store
// mutations and outbox effects, and the single-writer processor loop feeding
// it.
package partition

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/timer"
)

// CommandKind discriminates the command variants.
type CommandKind int

const (
	// CommandKindInvoke starts (or defers, or inboxes) a service invocation.
	CommandKindInvoke CommandKind = iota + 1
	// CommandKindCompletion delivers a completion result for one journal
	// entry of a running or suspended invocation.
	CommandKindCompletion
	// CommandKindInvokerEffect reports progress of the running invocation
	// from the invoker.
	CommandKindInvokerEffect
	// CommandKindTimerFired wakes up a due timer.
	CommandKindTimerFired
	// CommandKindKill forcibly terminates an invocation.
	CommandKindKill
	// CommandKindCancel gracefully cancels an invocation.
	CommandKindCancel
	// CommandKindTruncateOutbox acknowledges delivered outbox messages.
	CommandKindTruncateOutbox
	// CommandKindAnnounceLeader records a new leader epoch for the
	// partition.
	CommandKindAnnounceLeader
)

var commandKindNames = map[CommandKind]string{
	CommandKindInvoke:         "Invoke",
	CommandKindCompletion:     "Completion",
	CommandKindInvokerEffect:  "InvokerEffect",
	CommandKindTimerFired:     "TimerFired",
	CommandKindKill:           "Kill",
	CommandKindCancel:         "Cancel",
	CommandKindTruncateOutbox: "TruncateOutbox",
	CommandKindAnnounceLeader: "AnnounceLeader",
}

// String returns the command kind name.
func (k CommandKind) String() string {
	if name, ok := commandKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// EffectKind discriminates the invoker effect variants.
type EffectKind int

const (
	// EffectKindJournalEntry appends one journal entry produced by the
	// running invocation.
	EffectKindJournalEntry EffectKind = iota + 1
	// EffectKindSuspended parks the invocation until one of the awaited
	// entries completes.
	EffectKindSuspended
	// EffectKindEnd finishes the invocation.
	EffectKindEnd
	// EffectKindFailed finishes the invocation with a failure.
	EffectKindFailed
	// EffectKindSelectedDeployment pins the deployment the invocation runs
	// against, so a retry replays against the same code version.
	EffectKindSelectedDeployment
)

var effectKindNames = map[EffectKind]string{
	EffectKindJournalEntry:       "JournalEntry",
	EffectKindSuspended:          "Suspended",
	EffectKindEnd:                "End",
	EffectKindFailed:             "Failed",
	EffectKindSelectedDeployment: "SelectedDeployment",
}

// String returns the effect kind name.
func (k EffectKind) String() string {
	if name, ok := effectKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// InvokerEffect is one progress report from the invoker about a running
// invocation. The uuid in FID fences effects of superseded invocations.
type InvokerEffect struct {
	Kind EffectKind
	FID  identity.FullInvocationId

	// EntryIndex and Entry are set for JournalEntry effects.
	EntryIndex journal.EntryIndex
	Entry      journal.Entry

	// Waiting is set for Suspended effects.
	Waiting mapset.Set[journal.EntryIndex]

	// Failure is set for Failed effects.
	Failure journal.CompletionResult

	// DeploymentId is set for SelectedDeployment effects.
	DeploymentId string
}

// Dedup carries the producer identity and sequence number of a command that
// must pass the dedup guard before interpretation.
type Dedup struct {
	Producer  string
	SeqNumber dedup.SequenceNumber
}

// Command is one unit of work applied to the partition state machine.
// Exactly one variant is active.
type Command struct {
	kind CommandKind

	// dedup, when set, is checked before the command is interpreted.
	dedup *Dedup

	invocation  *invocation.ServiceInvocation
	fid         identity.FullInvocationId
	completion  journal.Completion
	effect      *InvokerEffect
	firedTimer  timer.Sequenced
	target      identity.MaybeFullInvocationId
	position    uint64
	leaderEpoch uint64
}

// NewInvokeCommand creates a command starting the given invocation.
func NewInvokeCommand(inv invocation.ServiceInvocation) Command {
	return Command{kind: CommandKindInvoke, invocation: &inv}
}

// NewCompletionCommand creates a command delivering a completion to the
// given invocation.
func NewCompletionCommand(fid identity.FullInvocationId, completion journal.Completion) Command {
	return Command{kind: CommandKindCompletion, fid: fid, completion: completion}
}

// NewInvokerEffectCommand creates a command applying an invoker effect.
func NewInvokerEffectCommand(effect InvokerEffect) Command {
	return Command{kind: CommandKindInvokerEffect, effect: &effect}
}

// NewTimerFiredCommand creates a command firing the given timer.
func NewTimerFiredCommand(fired timer.Sequenced) Command {
	return Command{kind: CommandKindTimerFired, firedTimer: fired}
}

// NewKillCommand creates a command killing the given invocation.
func NewKillCommand(target identity.MaybeFullInvocationId) Command {
	return Command{kind: CommandKindKill, target: target}
}

// NewCancelCommand creates a command cancelling the given invocation.
func NewCancelCommand(target identity.MaybeFullInvocationId) Command {
	return Command{kind: CommandKindCancel, target: target}
}

// NewTruncateOutboxCommand creates a command acknowledging every outbox
// message at or below the given position.
func NewTruncateOutboxCommand(position uint64) Command {
	return Command{kind: CommandKindTruncateOutbox, position: position}
}

// NewAnnounceLeaderCommand creates a command recording a new leader epoch.
func NewAnnounceLeaderCommand(leaderEpoch uint64) Command {
	return Command{kind: CommandKindAnnounceLeader, leaderEpoch: leaderEpoch}
}

// WithDedup returns the command stamped with the producer identity and
// sequence number the dedup guard checks before interpretation.
func (c Command) WithDedup(producer string, sn dedup.SequenceNumber) Command {
	c.dedup = &Dedup{Producer: producer, SeqNumber: sn}
	return c
}

// Kind returns the active variant.
func (c Command) Kind() CommandKind {
	return c.kind
}

// Dedup returns the dedup stamp of the command, if any.
func (c Command) Dedup() (Dedup, bool) {
	if c.dedup == nil {
		return Dedup{}, false
	}
	return *c.dedup, true
}

// String returns a human-readable representation of the command.
func (c Command) String() string {
	switch c.kind {
	case CommandKindInvoke:
		return fmt.Sprintf("Invoke(%s)", c.invocation.FID)
	case CommandKindCompletion:
		return fmt.Sprintf("Completion(%s#%d)", c.fid, c.completion.EntryIndex)
	case CommandKindInvokerEffect:
		return fmt.Sprintf("InvokerEffect(%s, %s)", c.effect.Kind, c.effect.FID)
	case CommandKindTimerFired:
		return fmt.Sprintf("TimerFired(%d)", c.firedTimer.SeqNumber)
	case CommandKindKill:
		return fmt.Sprintf("Kill(%s)", c.target)
	case CommandKindCancel:
		return fmt.Sprintf("Cancel(%s)", c.target)
	case CommandKindTruncateOutbox:
		return fmt.Sprintf("TruncateOutbox(%d)", c.position)
	case CommandKindAnnounceLeader:
		return fmt.Sprintf("AnnounceLeader(%d)", c.leaderEpoch)
	default:
		return "Unknown"
	}
}
