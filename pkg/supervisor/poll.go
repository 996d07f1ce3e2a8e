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

package supervisor

import (
	"context"
	"sync"
	"time"
)

// Poll is a cancellable periodic check. It checks once right after Start and
// then on every tick until the check reports done or the poll is cancelled.
type Poll struct {
	interval time.Duration
	check    func(ctx context.Context, p *Poll) bool

	ctx    context.Context
	cancel context.CancelFunc

	startOnce  sync.Once
	cancelOnce sync.Once
	started    chan struct{}
	done       chan struct{}
}

func newPoll(interval time.Duration, check func(ctx context.Context, p *Poll) bool) *Poll {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poll{
		interval: interval,
		check:    check,
		ctx:      ctx,
		cancel:   cancel,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poll goroutine. Calling it again is a no-op.
func (p *Poll) Start() {
	p.startOnce.Do(func() {
		close(p.started)
		go p.run()
	})
}

// Cancel stops the poll. It is safe to call any number of times, before or
// after Start.
func (p *Poll) Cancel() {
	p.cancelOnce.Do(p.cancel)
}

// Cancelled reports whether Cancel was called.
func (p *Poll) Cancelled() bool {
	return p.ctx.Err() != nil
}

// Wait blocks until the poll goroutine has exited. It returns immediately for
// a poll that was never started.
func (p *Poll) Wait() {
	select {
	case <-p.started:
		<-p.done
	default:
	}
}

func (p *Poll) run() {
	defer close(p.done)

	if p.tick() {
		return
	}

	interval := p.interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.tick() {
				return
			}
		}
	}
}

func (p *Poll) tick() bool {
	if p.ctx.Err() != nil {
		return true
	}
	return p.check(p.ctx, p)
}
