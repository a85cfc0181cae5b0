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

	"golang.org/x/sync/errgroup"

	"github.com/kestrelworks/kestrel/errors"
	"github.com/kestrelworks/kestrel/log"
)

// Manager starts, stops and routes between the processors of one node.
type Manager struct {
	processors []*Processor
	logger     log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption interface {
	Apply(m *Manager)
}

var _ ManagerOption = ManagerOptionFunc(nil)

// ManagerOptionFunc adapts a function to the ManagerOption interface.
type ManagerOptionFunc func(m *Manager)

// Apply applies the option.
func (f ManagerOptionFunc) Apply(m *Manager) {
	f(m)
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger log.Logger) ManagerOption {
	return ManagerOptionFunc(func(m *Manager) {
		m.logger = logger
	})
}

// NewManager creates a Manager over the given processors.
func NewManager(processors []*Processor, opts ...ManagerOption) *Manager {
	m := &Manager{
		processors: processors,
		logger:     log.DefaultLogger,
	}
	for _, opt := range opts {
		opt.Apply(m)
	}
	return m
}

// Start starts every processor concurrently and fails fast on the first
// error, stopping whatever already started.
func (m *Manager) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, processor := range m.processors {
		processor := processor
		eg.Go(func() error {
			return processor.Start(egCtx)
		})
	}
	if err := eg.Wait(); err != nil {
		_ = m.Stop(ctx)
		return err
	}
	m.logger.Infof("started %d partitions", len(m.processors))
	return nil
}

// Stop stops every processor concurrently, returning the first error but
// attempting all of them.
func (m *Manager) Stop(ctx context.Context) error {
	eg := new(errgroup.Group)
	for _, processor := range m.processors {
		processor := processor
		eg.Go(func() error {
			return processor.Stop(ctx)
		})
	}
	return eg.Wait()
}

// Submit routes a keyed command to the processor owning its partition key.
// Partition-local commands carry no key and must be submitted to their
// processor directly.
func (m *Manager) Submit(ctx context.Context, command Command) error {
	key, keyed := commandPartitionKey(command)
	if !keyed {
		return errors.ErrWrongPartition
	}
	for _, processor := range m.processors {
		if processor.Owns(key) {
			return processor.Submit(ctx, command)
		}
	}
	return errors.ErrWrongPartition
}

// Processor returns the processor with the given id, nil when unknown.
func (m *Manager) Processor(id uint32) *Processor {
	for _, processor := range m.processors {
		if processor.ID() == id {
			return processor
		}
	}
	return nil
}
