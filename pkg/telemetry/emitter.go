// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry periodically samples the simulated sensors and sends the
// readings through a transport.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

// Outcome is the result of one tick.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeDropped Outcome = "dropped"
)

// OutcomeHook observes every tick outcome. err is set for OutcomeFailed.
type OutcomeHook func(outcome Outcome, err error)

// Config configures the emitter.
type Config struct {
	// Interval between samples. Defaults to 200ms.
	Interval time.Duration
	// MaxInFlight bounds concurrent sends in Run. Defaults to 8.
	MaxInFlight int64
}

// Emitter turns samples into messages and hands them to a Sender. It has no
// retry logic of its own; wrap the sender for that.
type Emitter struct {
	sender  transport.Sender
	cfg     Config
	log     *zap.SugaredLogger
	sampler Sampler
	now     func() time.Time
	hooks   []OutcomeHook

	inflight *semaphore.Weighted
	wg       sync.WaitGroup
}

// Option configures an Emitter.
type Option func(*Emitter)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Emitter) { e.log = l }
}

func WithSampler(s Sampler) Option {
	return func(e *Emitter) { e.sampler = s }
}

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func WithOutcomeHook(h OutcomeHook) Option {
	return func(e *Emitter) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

// NewEmitter creates an emitter sending through sender.
func NewEmitter(sender transport.Sender, cfg Config, opts ...Option) *Emitter {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}

	e := &Emitter{
		sender:  sender,
		cfg:     cfg,
		sampler: RandomSample,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrNop(e.log)
	e.inflight = semaphore.NewWeighted(cfg.MaxInFlight)
	return e
}

// Tick samples once and sends the reading synchronously. The send error is
// logged and returned.
func (e *Emitter) Tick(ctx context.Context) error {
	sample := e.sampler()
	sample.Timestamp = e.now().UTC()

	msg, err := NewMessage(sample)
	if err != nil {
		err = fmt.Errorf("encoding telemetry: %w", err)
		e.report(OutcomeFailed, err)
		e.log.Errorw("send error", "error", err)
		return err
	}

	e.log.Debugw("Sending message", "id", msg.ID, "body", string(msg.Body), AlertProperty, msg.Properties[AlertProperty])
	if err := e.sender.Send(ctx, msg); err != nil {
		e.report(OutcomeFailed, err)
		e.log.Warnw("send error", "id", msg.ID, "error", err)
		return err
	}

	e.report(OutcomeSent, nil)
	e.log.Debugw("message sent", "id", msg.ID)
	return nil
}

// Run ticks every Interval until ctx is done. Each tick sends in its own
// goroutine; when MaxInFlight sends are outstanding the sample is dropped.
// Run waits for outstanding sends before it returns.
func (e *Emitter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	defer e.wg.Wait()

	e.log.Infow("Telemetry emitter started", "interval", e.cfg.Interval, "maxInFlight", e.cfg.MaxInFlight)
	for {
		select {
		case <-ctx.Done():
			e.log.Infow("Telemetry emitter stopped")
			return
		case <-ticker.C:
			if !e.inflight.TryAcquire(1) {
				e.report(OutcomeDropped, nil)
				e.log.Warnw("Dropping sample, too many sends in flight", "maxInFlight", e.cfg.MaxInFlight)
				continue
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				defer e.inflight.Release(1)
				_ = e.Tick(ctx)
			}()
		}
	}
}

func (e *Emitter) report(o Outcome, err error) {
	for _, h := range e.hooks {
		h(o, err)
	}
}
