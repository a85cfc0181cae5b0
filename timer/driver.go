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

package timer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/reugn/go-quartz/job"
	quartzlogger "github.com/reugn/go-quartz/logger"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/atomic"

	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/log"
)

// FireHandler receives a timer when its wake-up time arrives. The handler
// feeds the fire command into the partition's command loop; the timer is
// only removed from the log once the command has been applied, so a crash
// between firing and applying leads to a redundant, idempotent refire.
type FireHandler func(ctx context.Context, timer Sequenced)

// Driver arms in-memory wake-ups for the durable timer log. It holds no
// state of record: everything it knows is rebuilt from Log.Pending when the
// partition starts.
type Driver struct {
	mu              sync.Mutex
	quartzScheduler quartz.Scheduler
	started         *atomic.Bool
	logger          log.Logger
	stopTimeout     time.Duration
	handler         FireHandler
}

// DriverOption configures a Driver.
type DriverOption interface {
	Apply(d *Driver)
}

var _ DriverOption = DriverOptionFunc(nil)

// DriverOptionFunc adapts a function to the DriverOption interface.
type DriverOptionFunc func(d *Driver)

// Apply applies the option.
func (f DriverOptionFunc) Apply(d *Driver) {
	f(d)
}

// WithDriverLogger sets the driver logger.
func WithDriverLogger(logger log.Logger) DriverOption {
	return DriverOptionFunc(func(d *Driver) {
		d.logger = logger
	})
}

// WithStopTimeout bounds how long Stop waits for in-flight fires.
func WithStopTimeout(timeout time.Duration) DriverOption {
	return DriverOptionFunc(func(d *Driver) {
		d.stopTimeout = timeout
	})
}

// NewDriver creates a Driver that delivers fired timers to the given handler.
func NewDriver(handler FireHandler, opts ...DriverOption) *Driver {
	quartzScheduler, _ := quartz.NewStdScheduler(
		quartz.WithLogger(quartzlogger.NewSimpleLogger(nil, quartzlogger.LevelOff)))

	driver := &Driver{
		quartzScheduler: quartzScheduler,
		started:         atomic.NewBool(false),
		logger:          log.DefaultLogger,
		stopTimeout:     time.Second,
		handler:         handler,
	}
	for _, opt := range opts {
		opt.Apply(driver)
	}
	return driver
}

// Start starts the driver.
func (x *Driver) Start(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.quartzScheduler.Start(ctx)
	x.started.Store(x.quartzScheduler.IsStarted())
}

// Stop stops the driver and waits for in-flight fires to settle.
func (x *Driver) Stop(ctx context.Context) {
	if !x.started.Load() {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	_ = x.quartzScheduler.Clear()
	x.quartzScheduler.Stop()
	x.started.Store(x.quartzScheduler.IsStarted())

	ctx, cancel := context.WithTimeout(ctx, x.stopTimeout)
	defer cancel()
	x.quartzScheduler.Wait(ctx)
}

// Arm schedules an in-memory wake-up for the given timer. Wake-up times in
// the past fire immediately.
func (x *Driver) Arm(timer Sequenced) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.started.Load() {
		return errors.ErrDriverNotStarted
	}

	fireJob := job.NewFunctionJob[bool](func(ctx context.Context) (bool, error) {
		x.handler(ctx, timer)
		return true, nil
	})

	delay := time.Until(timer.FireAt)
	if delay < 0 {
		delay = 0
	}
	detail := quartz.NewJobDetail(fireJob, quartz.NewJobKey(jobKey(timer.SeqNumber)))
	return x.quartzScheduler.ScheduleJob(detail, quartz.NewRunOnceTrigger(delay))
}

// Disarm drops the in-memory wake-up for the given sequence number. Unknown
// sequence numbers are ignored.
func (x *Driver) Disarm(seqNumber uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.started.Load() {
		return
	}
	_ = x.quartzScheduler.DeleteJob(quartz.NewJobKey(jobKey(seqNumber)))
}

func jobKey(seqNumber uint64) string {
	return "timer-" + strconv.FormatUint(seqNumber, 10)
}
