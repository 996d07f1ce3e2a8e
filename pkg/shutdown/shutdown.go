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

// Package shutdown turns SIGINT/SIGTERM into a bounded, graceful stop.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

type Handler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
}

type Option func(*gracefulShutdown)

// WithTimeout bounds the time given to the shutdown tasks.
func WithTimeout(timeout time.Duration) Option {
	return func(gs *gracefulShutdown) {
		if timeout > 0 {
			gs.timeout = timeout
		}
	}
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(gs *gracefulShutdown) {
		gs.exit = exit
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(gs *gracefulShutdown) {
		if log != nil {
			gs.log = log
		}
	}
}

type gracefulShutdown struct {
	quit         chan os.Signal
	shuttingDown chan struct{}
	once         sync.Once
	wg           sync.WaitGroup

	timeout time.Duration
	exit    func(code int)
	log     *zap.SugaredLogger
}

// New installs the signal handler. After SIGINT/SIGTERM (or Shutdown) it
// runs onShutdown with a context bounded by the timeout and exits the
// process: 0 on success, 1 on error or when the timeout elapses.
func New(onShutdown func(ctx context.Context) error, opts ...Option) Handler {
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan struct{}),
		timeout:      DefaultTimeout,
		exit:         os.Exit,
		log:          zap.S(),
	}
	for _, opt := range opts {
		opt(gs)
	}

	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	gs.wg.Add(1)
	go gs.run(onShutdown)

	return gs
}

func (gs *gracefulShutdown) run(onShutdown func(ctx context.Context) error) {
	defer gs.wg.Done()

	sig := <-gs.quit
	signal.Stop(gs.quit)
	gs.once.Do(func() { close(gs.shuttingDown) })
	gs.log.Infow("Received signal, shutting down", "signal", sig.String())

	if onShutdown == nil {
		gs.log.Info("Shutdown tasks completed. Ready to exit.")
		gs.exit(0)

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.log.Infow("Waiting for shutdown tasks to complete", "timeout", gs.timeout)

	done := make(chan error, 1)
	go func() {
		done <- onShutdown(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			gs.log.Errorw("Error during shutdown", "error", err)
			_ = gs.log.Sync()
			gs.exit(1)

			return
		}
	case <-ctx.Done():
		gs.log.Errorw("Shutdown tasks did not complete in time", "timeout", gs.timeout)
		_ = gs.log.Sync()
		gs.exit(1)

		return
	}

	gs.log.Info("Shutdown tasks completed. Ready to exit.")
	_ = gs.log.Sync()
	gs.exit(0)
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	if gs.ShuttingDown() {
		return
	}

	select {
	case gs.quit <- syscall.SIGTERM:
	default:
	}
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}
