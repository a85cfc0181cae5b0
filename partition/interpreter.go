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

package partition

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/atomic"

	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/internal/wire"
	"github.com/kestrelworks/kestrel/invocation"
	"github.com/kestrelworks/kestrel/journal"
	"github.com/kestrelworks/kestrel/log"
	"github.com/kestrelworks/kestrel/outbox"
	"github.com/kestrelworks/kestrel/routing"
	"github.com/kestrelworks/kestrel/storage"
	"github.com/kestrelworks/kestrel/timer"
)

// Termination failure results. Both use the conflict code so callers can
// tell a terminated invocation from an application failure.
var (
	killedResult   = journal.FailureResult(409, "killed")
	canceledResult = journal.FailureResult(409, "canceled")
)

// Invoker is the executor-facing side of the state machine. The interpreter
// tells it which invocations to run, resume or abort; the invoker reports
// progress back as InvokerEffect commands. NoopInvoker is the default.
type Invoker interface {
	// Invoke starts or resumes the invocation. The journal holds everything
	// needed to replay it.
	Invoke(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata)
	// NotifyCompletion forwards a completion to the running invocation.
	NotifyCompletion(ctx context.Context, fid identity.FullInvocationId, completion journal.Completion)
	// Abort stops the running invocation without further effects.
	Abort(ctx context.Context, fid identity.FullInvocationId)
}

// NoopInvoker discards every invoker signal. Useful for tests driving the
// state machine purely through commands.
type NoopInvoker struct{}

var _ Invoker = (*NoopInvoker)(nil)

// Invoke implements Invoker.
func (NoopInvoker) Invoke(context.Context, identity.FullInvocationId, invocation.Metadata) {}

// NotifyCompletion implements Invoker.
func (NoopInvoker) NotifyCompletion(context.Context, identity.FullInvocationId, journal.Completion) {
}

// Abort implements Invoker.
func (NoopInvoker) Abort(context.Context, identity.FullInvocationId) {}

// Armer arms and disarms in-memory wake-ups for durable timers. timer.Driver
// implements it; tests use a recording fake.
type Armer interface {
	Arm(timer.Sequenced) error
	Disarm(seqNumber uint64)
}

type noopArmer struct{}

func (noopArmer) Arm(timer.Sequenced) error { return nil }
func (noopArmer) Disarm(uint64)             {}

// Interpreter applies commands to one partition's durable state. It is not
// safe for concurrent use; the Processor serializes all calls through its
// command loop.
type Interpreter struct {
	store   storage.PartitionStore
	outbox  *outbox.Outbox
	timers  *timer.Log
	armer   Armer
	invoker Invoker
	logger  log.Logger

	inboxSeq    *atomic.Uint64
	leaderEpoch *atomic.Uint64
}

// InterpreterOption configures an Interpreter.
type InterpreterOption interface {
	Apply(x *Interpreter)
}

var _ InterpreterOption = InterpreterOptionFunc(nil)

// InterpreterOptionFunc adapts a function to the InterpreterOption interface.
type InterpreterOptionFunc func(x *Interpreter)

// Apply applies the option.
func (f InterpreterOptionFunc) Apply(x *Interpreter) {
	f(x)
}

// WithInterpreterLogger sets the interpreter logger.
func WithInterpreterLogger(logger log.Logger) InterpreterOption {
	return InterpreterOptionFunc(func(x *Interpreter) {
		x.logger = logger
	})
}

// WithInvoker sets the invoker notified of invocation lifecycle changes.
func WithInvoker(invoker Invoker) InterpreterOption {
	return InterpreterOptionFunc(func(x *Interpreter) {
		x.invoker = invoker
	})
}

// WithArmer sets the timer armer.
func WithArmer(armer Armer) InterpreterOption {
	return InterpreterOptionFunc(func(x *Interpreter) {
		x.armer = armer
	})
}

// NewInterpreter creates an Interpreter over the given store. inboxNext must
// be one past the highest inbox sequence number ever used by the partition.
func NewInterpreter(store storage.PartitionStore, ob *outbox.Outbox, timers *timer.Log, inboxNext uint64, opts ...InterpreterOption) *Interpreter {
	x := &Interpreter{
		store:       store,
		outbox:      ob,
		timers:      timers,
		armer:       noopArmer{},
		invoker:     NoopInvoker{},
		logger:      log.DefaultLogger,
		inboxSeq:    atomic.NewUint64(inboxNext),
		leaderEpoch: atomic.NewUint64(0),
	}
	for _, opt := range opts {
		opt.Apply(x)
	}
	return x
}

// LeaderEpoch returns the most recently announced leader epoch.
func (x *Interpreter) LeaderEpoch() uint64 {
	return x.leaderEpoch.Load()
}

// Apply interprets one command against the partition state.
func (x *Interpreter) Apply(ctx context.Context, command Command) error {
	switch command.kind {
	case CommandKindInvoke:
		return x.onInvoke(ctx, *command.invocation)
	case CommandKindCompletion:
		return x.onCompletion(ctx, command.fid, command.completion)
	case CommandKindInvokerEffect:
		return x.onInvokerEffect(ctx, *command.effect)
	case CommandKindTimerFired:
		return x.onTimerFired(ctx, command.firedTimer)
	case CommandKindKill:
		return x.onTerminate(ctx, command.target, true)
	case CommandKindCancel:
		return x.onTerminate(ctx, command.target, false)
	case CommandKindTruncateOutbox:
		return x.outbox.Ack(ctx, command.position)
	case CommandKindAnnounceLeader:
		x.leaderEpoch.Store(command.leaderEpoch)
		x.logger.Infof("leader epoch advanced to %d", command.leaderEpoch)
		return nil
	default:
		return errors.NewErrInvalidTransition(command.String(), "unknown command")
	}
}

// onInvoke starts an invocation: immediately when the service key is free,
// through the inbox when it is locked, through the timer log when the
// invocation carries a future execution time.
func (x *Interpreter) onInvoke(ctx context.Context, inv invocation.ServiceInvocation) error {
	if inv.Deferred() {
		fireAt := inv.ExecutionTime
		inv.ExecutionTime = time.Time{}
		sequenced, err := x.timers.Schedule(ctx, fireAt, timer.NewInvokeTimer(inv))
		if err != nil {
			return err
		}
		x.logger.Debugf("deferred invocation %s parked until %s", inv.FID, fireAt)
		return x.armer.Arm(sequenced)
	}

	sid := inv.FID.ServiceId
	_, locked, err := x.store.GetServiceStatus(ctx, sid)
	if err != nil {
		return err
	}
	if locked {
		entry := invocation.NewInboxEntry(x.inboxSeq.Inc()-1, inv)
		x.logger.Debugf("service key %s locked, inboxing invocation %s at seq %d", sid, inv.FID, entry.SequenceNumber)
		return x.store.PutInboxEntry(ctx, sid, entry)
	}
	return x.invokeService(ctx, inv)
}

// invokeService locks the service key, seeds the journal with the input
// entry and hands the invocation to the invoker.
func (x *Interpreter) invokeService(ctx context.Context, inv invocation.ServiceInvocation) error {
	sid := inv.FID.ServiceId
	if err := x.store.PutServiceStatus(ctx, sid, invocation.NewServiceStatus(inv.FID.InvocationUUID)); err != nil {
		return err
	}

	input := journal.Entry{
		Header:   journal.EntryHeader{Type: journal.EntryTypeInput},
		RawEntry: inv.Argument,
	}
	if err := x.store.PutJournalRecord(ctx, sid, 0, journal.NewEntryRecord(input)); err != nil {
		return err
	}

	now := time.Now().UTC()
	metadata := invocation.Metadata{
		ServiceId:        sid,
		JournalLength:    1,
		ResponseSink:     inv.ResponseSink,
		CreationTime:     now,
		ModificationTime: now,
		MethodName:       inv.MethodName,
		Source:           inv.Source,
		SpanContext:      inv.SpanContext,
	}
	if err := x.store.PutInvocationStatus(ctx, sid, invocation.Invoked(metadata)); err != nil {
		return err
	}
	x.invoker.Invoke(ctx, inv.FID, metadata)
	return nil
}

// onCompletion delivers a completion into the target invocation's journal.
// Completions for free or superseded invocations are dropped: the sender
// retries through the outbox and the dedup guard absorbs the duplicates.
func (x *Interpreter) onCompletion(ctx context.Context, fid identity.FullInvocationId, completion journal.Completion) error {
	sid := fid.ServiceId
	status, err := x.store.GetInvocationStatus(ctx, sid)
	if err != nil {
		return err
	}
	metadata, ok := status.Metadata()
	if !ok || !x.holdsLock(ctx, sid, fid.InvocationUUID) {
		x.logger.Debugf("dropping completion for %s#%d: no matching invocation", fid, completion.EntryIndex)
		return nil
	}

	stored, err := x.storeCompletion(ctx, sid, completion)
	if err != nil {
		return err
	}
	if !stored {
		return nil
	}

	switch status.Kind() {
	case invocation.StatusKindInvoked:
		x.invoker.NotifyCompletion(ctx, fid, completion)
	case invocation.StatusKindSuspended:
		waiting, _ := status.Waiting()
		if waiting != nil && waiting.Contains(completion.EntryIndex) {
			return x.resume(ctx, fid, metadata)
		}
	}
	return nil
}

// holdsLock reports whether the given invocation owns the service key.
func (x *Interpreter) holdsLock(ctx context.Context, sid identity.ServiceId, uuid identity.InvocationUUID) bool {
	lock, locked, err := x.store.GetServiceStatus(ctx, sid)
	if err != nil || !locked {
		return false
	}
	return lock.InvocationUUID == uuid
}

// storeCompletion writes a completion into the journal: merged into its
// entry when the entry exists, parked as a pending completion otherwise.
// ok is false when the completion is a duplicate and was discarded.
func (x *Interpreter) storeCompletion(ctx context.Context, sid identity.ServiceId, completion journal.Completion) (bool, error) {
	record, exists, err := x.store.GetJournalRecord(ctx, sid, completion.EntryIndex)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, x.store.PutJournalRecord(ctx, sid, completion.EntryIndex, journal.NewCompletionRecord(completion.Result))
	}
	entry, isEntry := record.Entry()
	if !isEntry {
		// A pending completion already sits at this index. First write wins.
		x.logger.Debugf("discarding duplicated completion for %s#%d", sid, completion.EntryIndex)
		return false, nil
	}
	if entry.Completed() {
		x.logger.Debugf("discarding completion for already completed entry %s#%d", sid, completion.EntryIndex)
		return false, nil
	}
	if err := entry.Complete(completion.Result); err != nil {
		x.logger.Warnf("completion for %s#%d rejected: %v", sid, completion.EntryIndex, err)
		return false, nil
	}
	return true, x.store.PutJournalRecord(ctx, sid, completion.EntryIndex, journal.NewEntryRecord(*entry))
}

// resume flips a suspended invocation back to Invoked and replays it.
func (x *Interpreter) resume(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata) error {
	metadata.ModificationTime = time.Now().UTC()
	if err := x.store.PutInvocationStatus(ctx, fid.ServiceId, invocation.Invoked(metadata)); err != nil {
		return err
	}
	x.logger.Debugf("resuming invocation %s", fid)
	x.invoker.Invoke(ctx, fid, metadata)
	return nil
}

// onInvokerEffect applies a progress report from the invoker. Effects of a
// superseded invocation (uuid no longer holding the lock) are dropped.
func (x *Interpreter) onInvokerEffect(ctx context.Context, effect InvokerEffect) error {
	sid := effect.FID.ServiceId
	if !x.holdsLock(ctx, sid, effect.FID.InvocationUUID) {
		x.logger.Debugf("dropping invoker effect %s for superseded invocation %s", effect.Kind, effect.FID)
		return nil
	}
	status, err := x.store.GetInvocationStatus(ctx, sid)
	if err != nil {
		return err
	}
	metadata, ok := status.Metadata()
	if !ok {
		x.logger.Debugf("dropping invoker effect %s: %s is free", effect.Kind, effect.FID)
		return nil
	}

	switch effect.Kind {
	case EffectKindJournalEntry:
		return x.onJournalEntry(ctx, effect.FID, metadata, effect.EntryIndex, effect.Entry)
	case EffectKindSuspended:
		return x.onSuspended(ctx, effect.FID, metadata, effect.Waiting)
	case EffectKindEnd:
		return x.endInvocation(ctx, effect.FID, metadata, nil)
	case EffectKindFailed:
		failure := effect.Failure
		return x.endInvocation(ctx, effect.FID, metadata, &failure)
	case EffectKindSelectedDeployment:
		metadata.DeploymentId = effect.DeploymentId
		metadata.ModificationTime = time.Now().UTC()
		return x.putStatusKindPreserving(ctx, sid, status, metadata)
	default:
		return errors.NewErrInvalidTransition(effect.Kind.String(), status.String())
	}
}

// putStatusKindPreserving rewrites the metadata without changing the status
// kind or the waiting set.
func (x *Interpreter) putStatusKindPreserving(ctx context.Context, sid identity.ServiceId, status invocation.Status, metadata invocation.Metadata) error {
	if waiting, suspended := status.Waiting(); suspended {
		return x.store.PutInvocationStatus(ctx, sid, invocation.Suspended(metadata, waiting))
	}
	return x.store.PutInvocationStatus(ctx, sid, invocation.Invoked(metadata))
}

// onJournalEntry appends one entry produced by the running invocation and
// applies its side effects.
func (x *Interpreter) onJournalEntry(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata, index journal.EntryIndex, entry journal.Entry) error {
	if index != metadata.JournalLength {
		return errors.NewErrInvalidTransition(
			entry.Header.Type.String(), invocation.StatusKindInvoked.String())
	}
	sid := fid.ServiceId
	// Completions produced while applying the entry, forwarded to the
	// invoker only once everything is durably stored.
	var notify []journal.Completion

	switch entry.Header.Type {
	case journal.EntryTypeInput, journal.EntryTypeCustom:
		// Stored as-is.

	case journal.EntryTypeOutput:
		result := journal.EmptyResult()
		if entry.Result != nil {
			result = *entry.Result
		}
		if err := x.routeResponse(ctx, metadata.ResponseSink, fid, result); err != nil {
			return err
		}

	case journal.EntryTypeGetState:
		payload, err := journal.UnmarshalStatePayload(entry.RawEntry)
		if err != nil {
			return errors.NewCorruptRecordError("journal", fid.String(), err)
		}
		value, found, err := x.store.GetState(ctx, sid, payload.Key)
		if err != nil {
			return err
		}
		result := journal.EmptyResult()
		if found {
			result = journal.SuccessResult(value)
		}
		if err := entry.Complete(result); err == nil {
			notify = append(notify, journal.NewCompletion(index, result))
		}

	case journal.EntryTypeSetState:
		payload, err := journal.UnmarshalStatePayload(entry.RawEntry)
		if err != nil {
			return errors.NewCorruptRecordError("journal", fid.String(), err)
		}
		if err := x.store.PutState(ctx, sid, payload.Key, payload.Value); err != nil {
			return err
		}

	case journal.EntryTypeClearState:
		payload, err := journal.UnmarshalStatePayload(entry.RawEntry)
		if err != nil {
			return errors.NewCorruptRecordError("journal", fid.String(), err)
		}
		if err := x.store.DeleteState(ctx, sid, payload.Key); err != nil {
			return err
		}

	case journal.EntryTypeClearAllState:
		if err := x.store.ClearAllState(ctx, sid); err != nil {
			return err
		}

	case journal.EntryTypeGetStateKeys:
		keys, err := x.store.StateKeys(ctx, sid)
		if err != nil {
			return err
		}
		result := journal.SuccessResult(encodeStateKeys(keys))
		if err := entry.Complete(result); err == nil {
			notify = append(notify, journal.NewCompletion(index, result))
		}

	case journal.EntryTypeSleep:
		payload, err := journal.UnmarshalSleepPayload(entry.RawEntry)
		if err != nil {
			return errors.NewCorruptRecordError("journal", fid.String(), err)
		}
		sequenced, err := x.timers.Schedule(ctx, payload.WakeUpTime, timer.NewCompleteSleepEntryTimer(fid, index))
		if err != nil {
			return err
		}
		if err := x.armer.Arm(sequenced); err != nil {
			return err
		}

	case journal.EntryTypeInvoke:
		if resolution := entry.Header.InvokeResolution; resolution != nil {
			callee := invocation.ServiceInvocation{
				FID:          resolution.Target(),
				MethodName:   resolution.MethodName,
				Argument:     entry.RawEntry,
				ResponseSink: invocation.SinkPartitionProcessor(fid, index),
			}
			if _, err := x.outbox.Enqueue(ctx, outbox.NewServiceInvocationMessage(callee)); err != nil {
				return err
			}
		}

	case journal.EntryTypeBackgroundInvoke:
		if resolution := entry.Header.InvokeResolution; resolution != nil {
			callee := invocation.ServiceInvocation{
				FID:          resolution.Target(),
				MethodName:   resolution.MethodName,
				Argument:     entry.RawEntry,
				ResponseSink: invocation.SinkNone(),
			}
			if _, err := x.outbox.Enqueue(ctx, outbox.NewServiceInvocationMessage(callee)); err != nil {
				return err
			}
		}

	case journal.EntryTypeAwakeable:
		// A completion may already be parked at this index; merged below.

	case journal.EntryTypeCompleteAwakeable:
		payload, err := journal.UnmarshalCompleteAwakeablePayload(entry.RawEntry)
		if err != nil {
			return errors.NewCorruptRecordError("journal", fid.String(), err)
		}
		message := outbox.NewResponseMessage(outbox.Response{
			Target:     identity.PartialId(payload.InvocationUUID),
			EntryIndex: payload.EntryIndex,
			Result:     payload.Result,
		})
		if _, err := x.outbox.Enqueue(ctx, message); err != nil {
			return err
		}

	default:
		return errors.NewErrInvalidTransition(entry.Header.Type.String(), invocation.StatusKindInvoked.String())
	}

	// Merge a completion that arrived ahead of this entry.
	if entry.Header.Type.Completable() && !entry.Completed() {
		record, exists, err := x.store.GetJournalRecord(ctx, sid, index)
		if err != nil {
			return err
		}
		if exists {
			if pending, ok := record.PendingCompletion(); ok {
				if err := entry.Complete(pending); err == nil {
					notify = append(notify, journal.NewCompletion(index, pending))
				}
			}
		}
	}

	if err := x.store.PutJournalRecord(ctx, sid, index, journal.NewEntryRecord(entry)); err != nil {
		return err
	}
	metadata.JournalLength = index + 1
	metadata.ModificationTime = time.Now().UTC()
	if err := x.store.PutInvocationStatus(ctx, sid, invocation.Invoked(metadata)); err != nil {
		return err
	}
	for _, completion := range notify {
		x.invoker.NotifyCompletion(ctx, fid, completion)
	}
	return nil
}

// loadJournal hydrates the invocation's journal from its stored records:
// executed entries in append order, then the completions parked ahead of
// execution.
func (x *Interpreter) loadJournal(ctx context.Context, sid identity.ServiceId) (*journal.Journal, error) {
	records, err := x.store.GetJournal(ctx, sid)
	if err != nil {
		return nil, err
	}
	j := journal.New()
	for _, jr := range records {
		if entry, ok := jr.Record.Entry(); ok {
			if _, err := j.Append(*entry); err != nil {
				return nil, err
			}
			continue
		}
		if pending, ok := jr.Record.PendingCompletion(); ok {
			if err := j.AppendCompletion(jr.Index, pending); err != nil {
				return nil, err
			}
		}
	}
	return j, nil
}

// onSuspended parks the invocation unless one of the awaited entries is
// already resumable (completed, or its completion arrived ahead of
// execution), in which case it stays Invoked and replays immediately.
func (x *Interpreter) onSuspended(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata, waiting mapset.Set[journal.EntryIndex]) error {
	sid := fid.ServiceId
	if waiting == nil || waiting.Cardinality() == 0 {
		return errors.NewErrInvalidTransition(EffectKindSuspended.String(), invocation.StatusKindInvoked.String())
	}
	j, err := x.loadJournal(ctx, sid)
	if err != nil {
		return err
	}
	for _, index := range waiting.ToSlice() {
		if j.IsResumable(index) {
			return x.resume(ctx, fid, metadata)
		}
	}
	metadata.ModificationTime = time.Now().UTC()
	x.logger.Debugf("suspending invocation %s on %d entries", fid, waiting.Cardinality())
	return x.store.PutInvocationStatus(ctx, sid, invocation.Suspended(metadata, waiting))
}

// endInvocation finishes an invocation, routing its failure when one is
// given, then frees the service key and pops the inbox.
func (x *Interpreter) endInvocation(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata, failure *journal.CompletionResult) error {
	if failure != nil {
		if err := x.routeResponse(ctx, metadata.ResponseSink, fid, *failure); err != nil {
			return err
		}
	}
	return x.freeService(ctx, fid.ServiceId)
}

// freeService drops the journal and status records, unlocks the key and
// starts the next inboxed invocation, if any.
func (x *Interpreter) freeService(ctx context.Context, sid identity.ServiceId) error {
	if err := x.store.DeleteJournal(ctx, sid); err != nil {
		return err
	}
	if err := x.store.DeleteInvocationStatus(ctx, sid); err != nil {
		return err
	}
	if err := x.store.DeleteServiceStatus(ctx, sid); err != nil {
		return err
	}

	next, ok, err := x.store.PeekInbox(ctx, sid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := x.store.DeleteInboxEntry(ctx, sid, next.SequenceNumber); err != nil {
		return err
	}
	x.logger.Debugf("popping inboxed invocation %s at seq %d", next.Invocation.FID, next.SequenceNumber)
	return x.invokeService(ctx, next.Invocation)
}

// onTimerFired applies a fired timer and drops it from the log. Refires
// after a crash are harmless: completing an already completed sleep entry is
// discarded as a duplicate, and a re-invoked service key lands in the inbox
// behind the lock.
func (x *Interpreter) onTimerFired(ctx context.Context, fired timer.Sequenced) error {
	if err := x.timers.Remove(ctx, fired.SeqNumber); err != nil {
		return err
	}
	x.armer.Disarm(fired.SeqNumber)

	switch fired.Timer.Kind() {
	case timer.KindCompleteSleepEntry:
		sleep, _ := fired.Timer.Sleep()
		return x.onCompletion(ctx, sleep.FID, journal.NewCompletion(sleep.EntryIndex, journal.EmptyResult()))
	case timer.KindInvoke:
		inv, _ := fired.Timer.Invocation()
		return x.onInvoke(ctx, inv)
	default:
		return errors.NewErrInvalidTransition(fired.Timer.String(), "timer")
	}
}

// onTerminate kills or cancels an invocation, running, suspended or still
// inboxed. Unknown targets are dropped; killing or canceling a free key is a
// no-op.
func (x *Interpreter) onTerminate(ctx context.Context, target identity.MaybeFullInvocationId, kill bool) error {
	fid, full := target.Full()
	if !full {
		x.logger.Warnf("dropping termination of %s: target service key unknown", target)
		return nil
	}
	sid := fid.ServiceId

	status, err := x.store.GetInvocationStatus(ctx, sid)
	if err != nil {
		return err
	}
	metadata, active := status.Metadata()
	if active && x.holdsLock(ctx, sid, fid.InvocationUUID) {
		if kill {
			return x.killInvocation(ctx, fid, metadata)
		}
		return x.cancelInvocation(ctx, fid, metadata, status)
	}

	// Not running: the invocation may still be queued in the inbox.
	return x.terminateInboxed(ctx, fid, kill)
}

// killInvocation aborts the invocation, cascades the kill to uncompleted
// callees and frees the service key.
func (x *Interpreter) killInvocation(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata) error {
	sid := fid.ServiceId
	j, err := x.loadJournal(ctx, sid)
	if err != nil {
		return err
	}
	err = j.Replay(func(_ journal.EntryIndex, entry journal.Entry) error {
		if entry.Completed() || entry.Header.Type != journal.EntryTypeInvoke {
			return nil
		}
		if resolution := entry.Header.InvokeResolution; resolution != nil {
			message := outbox.NewKillMessage(identity.FullId(resolution.Target()))
			if _, err := x.outbox.Enqueue(ctx, message); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	x.invoker.Abort(ctx, fid)
	if err := x.routeResponse(ctx, metadata.ResponseSink, fid, killedResult); err != nil {
		return err
	}
	x.logger.Infof("killed invocation %s", fid)
	return x.freeService(ctx, sid)
}

// cancelInvocation completes every uncompleted cancellable journal leaf with
// a canceled failure, propagates the cancel to callees and deletes pending
// sleep timers. The invocation itself keeps running (or resumes, when
// suspended on a canceled entry) so it can observe the cancellation and
// terminate cleanly.
func (x *Interpreter) cancelInvocation(ctx context.Context, fid identity.FullInvocationId, metadata invocation.Metadata, status invocation.Status) error {
	sid := fid.ServiceId
	j, err := x.loadJournal(ctx, sid)
	if err != nil {
		return err
	}

	canceled := make([]journal.EntryIndex, 0)
	err = j.Replay(func(index journal.EntryIndex, entry journal.Entry) error {
		if entry.Completed() {
			return nil
		}
		switch entry.Header.Type {
		case journal.EntryTypeInvoke:
			if resolution := entry.Header.InvokeResolution; resolution != nil {
				message := outbox.NewCancelMessage(identity.FullId(resolution.Target()))
				if _, err := x.outbox.Enqueue(ctx, message); err != nil {
					return err
				}
			}
		case journal.EntryTypeSleep:
			if _, err := x.timers.CancelSleep(ctx, fid, index); err != nil {
				return err
			}
			if stored, err := x.completeCanceled(ctx, sid, index, &entry); err != nil {
				return err
			} else if stored {
				canceled = append(canceled, index)
			}
		case journal.EntryTypeAwakeable, journal.EntryTypeGetState, journal.EntryTypeGetStateKeys:
			if stored, err := x.completeCanceled(ctx, sid, index, &entry); err != nil {
				return err
			} else if stored {
				canceled = append(canceled, index)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	x.logger.Infof("canceled %d journal leaves of invocation %s", len(canceled), fid)

	switch status.Kind() {
	case invocation.StatusKindInvoked:
		for _, index := range canceled {
			x.invoker.NotifyCompletion(ctx, fid, journal.NewCompletion(index, canceledResult))
		}
	case invocation.StatusKindSuspended:
		waiting, _ := status.Waiting()
		for _, index := range canceled {
			if waiting != nil && waiting.Contains(index) {
				return x.resume(ctx, fid, metadata)
			}
		}
	}
	return nil
}

func (x *Interpreter) completeCanceled(ctx context.Context, sid identity.ServiceId, index journal.EntryIndex, entry *journal.Entry) (bool, error) {
	if err := entry.Complete(canceledResult); err != nil {
		return false, nil
	}
	return true, x.store.PutJournalRecord(ctx, sid, index, journal.NewEntryRecord(*entry))
}

// terminateInboxed removes a still-queued invocation from the inbox and
// answers its response sink with the termination failure.
func (x *Interpreter) terminateInboxed(ctx context.Context, fid identity.FullInvocationId, kill bool) error {
	sid := fid.ServiceId
	entries, err := x.store.ListInbox(ctx, sid)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Invocation.FID.InvocationUUID != fid.InvocationUUID {
			continue
		}
		if err := x.store.DeleteInboxEntry(ctx, sid, entry.SequenceNumber); err != nil {
			return err
		}
		result := canceledResult
		if kill {
			result = killedResult
		}
		x.logger.Infof("terminated inboxed invocation %s at seq %d", fid, entry.SequenceNumber)
		return x.routeResponse(ctx, entry.Invocation.ResponseSink, fid, result)
	}
	x.logger.Debugf("dropping termination of %s: not running and not inboxed", fid)
	return nil
}

// routeResponse resolves the sink into its outbox message and enqueues it.
func (x *Interpreter) routeResponse(ctx context.Context, sink invocation.ResponseSink, fid identity.FullInvocationId, result journal.CompletionResult) error {
	message, ok := routing.RouteResponse(sink, fid, result)
	if !ok {
		return nil
	}
	_, err := x.outbox.Enqueue(ctx, message)
	return err
}

// encodeStateKeys packs the state key listing as a repeated length-delimited
// field, the same layout a repeated bytes field uses on the wire.
func encodeStateKeys(keys [][]byte) []byte {
	var b []byte
	for _, key := range keys {
		b = wire.AppendBytes(b, 1, key)
	}
	return b
}
