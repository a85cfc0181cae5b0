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
	"context"
	"time"

	"github.com/flowchartsman/retry"

	"github.com/kestrelworks/kestrel/log"
)

// Transport delivers one outbox message to its destination. Delivery must
// only return nil once the destination has durably accepted the message.
type Transport interface {
	Deliver(ctx context.Context, message Sequenced) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, message Sequenced) error

// Deliver calls the underlying function.
func (f TransportFunc) Deliver(ctx context.Context, message Sequenced) error {
	return f(ctx, message)
}

// Drainer pumps the outbox tail through a Transport in position order,
// acknowledging each message only after confirmed delivery. Redelivery after
// a crash is expected; destinations deduplicate with their epoch guard.
type Drainer struct {
	outbox    *Outbox
	transport Transport

	logger       log.Logger
	pollInterval time.Duration
	retryBurst   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// DrainerOption configures a Drainer.
type DrainerOption interface {
	Apply(d *Drainer)
}

var _ DrainerOption = DrainerOptionFunc(nil)

// DrainerOptionFunc adapts a function to the DrainerOption interface.
type DrainerOptionFunc func(d *Drainer)

// Apply applies the option.
func (f DrainerOptionFunc) Apply(d *Drainer) {
	f(d)
}

// WithLogger sets the drainer logger.
func WithLogger(logger log.Logger) DrainerOption {
	return DrainerOptionFunc(func(d *Drainer) {
		d.logger = logger
	})
}

// WithPollInterval sets how long the drainer sleeps when the tail is empty.
func WithPollInterval(interval time.Duration) DrainerOption {
	return DrainerOptionFunc(func(d *Drainer) {
		d.pollInterval = interval
	})
}

// WithDeliveryRetry sets the per-message backoff policy: the number of
// attempts per backoff burst and the delay bounds within a burst. Delivery
// itself never gives up; an exhausted burst is logged and a fresh burst
// starts over at the initial delay.
func WithDeliveryRetry(retryBurst int, initialDelay, maxDelay time.Duration) DrainerOption {
	return DrainerOptionFunc(func(d *Drainer) {
		d.retryBurst = retryBurst
		d.initialDelay = initialDelay
		d.maxDelay = maxDelay
	})
}

// NewDrainer creates a Drainer that resumes from the given position.
func NewDrainer(outbox *Outbox, transport Transport, opts ...DrainerOption) *Drainer {
	d := &Drainer{
		outbox:       outbox,
		transport:    transport,
		logger:       log.DefaultLogger,
		pollInterval: 100 * time.Millisecond,
		retryBurst:   5,
		initialDelay: 50 * time.Millisecond,
		maxDelay:     5 * time.Second,
	}
	for _, opt := range opts {
		opt.Apply(d)
	}
	return d
}

// Run drains messages from the given position until the context is
// cancelled. Delivery failures are retried indefinitely; only a store error
// or shutdown stops the pump.
func (d *Drainer) Run(ctx context.Context, from uint64) error {
	cursor := d.outbox.DrainFrom(from)
	for {
		sequenced, ok, err := cursor.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pollInterval):
			}
			continue
		}
		if err := d.deliver(ctx, sequenced); err != nil {
			return err
		}
		if err := d.outbox.Ack(ctx, sequenced.Position); err != nil {
			return err
		}
	}
}

// deliver retries until the transport accepts the message or the context is
// cancelled. The outbox never drops a message, so delivery is unbounded:
// backoff runs in capped bursts and every exhausted burst starts a new one.
func (d *Drainer) deliver(ctx context.Context, sequenced Sequenced) error {
	for {
		retrier := retry.NewRetrier(d.retryBurst, d.initialDelay, d.maxDelay)
		err := retrier.RunContext(ctx, func(ctx context.Context) error {
			if err := d.transport.Deliver(ctx, sequenced); err != nil {
				d.logger.Warnf("delivery of outbox message %d (%s) failed: %v",
					sequenced.Position, sequenced.Message.Kind(), err)
				return err
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.Warnf("outbox message %d undelivered after %d attempts, starting over",
			sequenced.Position, d.retryBurst)
	}
}
