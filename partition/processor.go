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
	goerrors "errors"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/kestrelworks/kestrel/dedup"
	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/identity"
	"github.com/kestrelworks/kestrel/log"
	"github.com/kestrelworks/kestrel/outbox"
	"github.com/kestrelworks/kestrel/storage"
	"github.com/kestrelworks/kestrel/timer"
)

const defaultMailboxCapacity = 1024

// Processor owns one partition: its store, its key range and the single
// goroutine applying commands. All mutation flows through the mailbox, which
// makes every service key single-writer by construction.
type Processor struct {
	id      uint32
	fromKey identity.PartitionKey
	toKey   identity.PartitionKey
	store   storage.PartitionStore

	logger          log.Logger
	invoker         Invoker
	mailboxCapacity int

	started *atomic.Bool
	box     *mailbox
	done    chan struct{}

	interpreter *Interpreter
	guard       *dedup.Guard
	outbox      *outbox.Outbox
	timers      *timer.Log
	driver      *timer.Driver
}

// ProcessorOption configures a Processor.
type ProcessorOption interface {
	Apply(p *Processor)
}

var _ ProcessorOption = ProcessorOptionFunc(nil)

// ProcessorOptionFunc adapts a function to the ProcessorOption interface.
type ProcessorOptionFunc func(p *Processor)

// Apply applies the option.
func (f ProcessorOptionFunc) Apply(p *Processor) {
	f(p)
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger log.Logger) ProcessorOption {
	return ProcessorOptionFunc(func(p *Processor) {
		p.logger = logger
	})
}

// WithMailboxCapacity bounds the command mailbox.
func WithMailboxCapacity(capacity int) ProcessorOption {
	return ProcessorOptionFunc(func(p *Processor) {
		p.mailboxCapacity = capacity
	})
}

// WithProcessorInvoker sets the invoker notified of invocation lifecycle
// changes.
func WithProcessorInvoker(invoker Invoker) ProcessorOption {
	return ProcessorOptionFunc(func(p *Processor) {
		p.invoker = invoker
	})
}

// NewProcessor creates a Processor over the given store, owning the
// inclusive partition key range [fromKey, toKey].
func NewProcessor(id uint32, fromKey, toKey identity.PartitionKey, store storage.PartitionStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		id:              id,
		fromKey:         fromKey,
		toKey:           toKey,
		store:           store,
		logger:          log.DefaultLogger,
		invoker:         NoopInvoker{},
		mailboxCapacity: defaultMailboxCapacity,
		started:         atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt.Apply(p)
	}
	return p
}

// ID returns the partition id.
func (p *Processor) ID() uint32 {
	return p.id
}

// Owns reports whether the partition key falls in this processor's range.
func (p *Processor) Owns(key identity.PartitionKey) bool {
	return key >= p.fromKey && key <= p.toKey
}

// Outbox returns the partition outbox for drainers to consume. Nil before
// Start.
func (p *Processor) Outbox() *outbox.Outbox {
	return p.outbox
}

// LeaderEpoch returns the most recently announced leader epoch.
func (p *Processor) LeaderEpoch() uint64 {
	if p.interpreter == nil {
		return 0
	}
	return p.interpreter.LeaderEpoch()
}

// Start restores the partition's counters and pending timers from the store
// and spawns the command loop.
func (p *Processor) Start(ctx context.Context) error {
	if p.started.Load() {
		return nil
	}

	outboxNext, err := p.store.NextOutboxPosition(ctx)
	if err != nil {
		return err
	}
	timerNext, err := p.store.NextTimerSeqNumber(ctx)
	if err != nil {
		return err
	}
	inboxNext, err := p.store.NextInboxSeqNumber(ctx)
	if err != nil {
		return err
	}

	p.outbox = outbox.New(p.store, outboxNext)
	p.timers = timer.NewLog(p.store, timerNext)
	p.driver = timer.NewDriver(p.onTimerFired, timer.WithDriverLogger(p.logger))
	p.interpreter = NewInterpreter(p.store, p.outbox, p.timers, inboxNext,
		WithInterpreterLogger(p.logger),
		WithInvoker(p.invoker),
		WithArmer(p.driver),
	)
	p.guard = dedup.NewGuard(p.store)
	p.box = newMailbox(p.mailboxCapacity)
	p.done = make(chan struct{})

	p.driver.Start(ctx)
	pending, err := p.timers.Pending(ctx)
	if err != nil {
		p.driver.Stop(ctx)
		return err
	}
	for _, sequenced := range pending {
		if err := p.driver.Arm(sequenced); err != nil {
			p.driver.Stop(ctx)
			return err
		}
	}

	p.started.Store(true)
	go p.loop()
	p.logger.Infof("partition %d started over key range [%d, %d] with %d pending timers",
		p.id, p.fromKey, p.toKey, len(pending))
	return nil
}

// Stop shuts down the command loop and releases the store. Commands still
// queued in the mailbox are dropped; producers redeliver them and the dedup
// guard absorbs what was already applied.
func (p *Processor) Stop(ctx context.Context) error {
	if !p.started.Swap(false) {
		return nil
	}

	p.box.Dispose()
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.driver.Stop(ctx)
	var err error
	err = multierr.Append(err, p.store.Close())
	p.logger.Infof("partition %d stopped", p.id)
	return err
}

// Submit hands a command to the partition. It never blocks: a full mailbox
// returns ErrMailboxFull so the caller can push backpressure upstream, and a
// command whose key falls outside the partition's range returns
// ErrWrongPartition.
func (p *Processor) Submit(_ context.Context, command Command) error {
	if !p.started.Load() {
		return errors.ErrProcessorNotStarted
	}
	if key, keyed := commandPartitionKey(command); keyed && !p.Owns(key) {
		return errors.ErrWrongPartition
	}
	return p.box.Offer(command)
}

// onTimerFired feeds a fired timer back into the command loop. Blocking here
// is fine: the quartz workers carry the wait, not the loop.
func (p *Processor) onTimerFired(_ context.Context, fired timer.Sequenced) {
	if err := p.box.Put(NewTimerFiredCommand(fired)); err != nil {
		p.logger.Warnf("partition %d dropped fired timer %d: %v", p.id, fired.SeqNumber, err)
	}
}

// loop is the single consumer of the mailbox. It exits when the mailbox is
// disposed.
func (p *Processor) loop() {
	defer close(p.done)
	ctx := context.Background()
	for {
		command, ok := p.box.Get()
		if !ok {
			return
		}
		p.apply(ctx, command)
	}
}

// apply runs the dedup guard and the interpreter for one command. Apply
// errors never stop the loop: the failed command is logged and dropped, its
// producer retries through the outbox.
func (p *Processor) apply(ctx context.Context, command Command) {
	if stamp, ok := command.Dedup(); ok {
		if err := p.guard.CheckAndAdvance(ctx, stamp.Producer, stamp.SeqNumber); err != nil {
			if goerrors.Is(err, errors.ErrStaleMessage) {
				p.logger.Debugf("partition %d dropped stale command %s from %s at %s",
					p.id, command, stamp.Producer, stamp.SeqNumber)
				return
			}
			p.logger.Errorf("partition %d dedup check for %s failed: %v", p.id, command, err)
			return
		}
	}
	if err := p.interpreter.Apply(ctx, command); err != nil {
		p.logger.Errorf("partition %d failed to apply %s: %v", p.id, command, err)
	}
}

// commandPartitionKey resolves the partition key a command is addressed to.
// keyed is false for partition-local commands (timers, truncation, leader
// announcements) and for partially addressed terminations.
func commandPartitionKey(command Command) (identity.PartitionKey, bool) {
	switch command.kind {
	case CommandKindInvoke:
		return command.invocation.FID.ServiceId.PartitionKey(), true
	case CommandKindCompletion:
		return command.fid.ServiceId.PartitionKey(), true
	case CommandKindInvokerEffect:
		return command.effect.FID.ServiceId.PartitionKey(), true
	case CommandKindKill, CommandKindCancel:
		if fid, full := command.target.Full(); full {
			return fid.ServiceId.PartitionKey(), true
		}
		return 0, false
	default:
		return 0, false
	}
}
