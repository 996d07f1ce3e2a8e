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

// Package supervisor tracks the device's belief about connectivity and
// reconciles it against the transport while a disconnect episode lasts.
package supervisor

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

// Supervisor consumes retry decisions and owns the connectivity state.
//
// Only NotConnectedError decisions drive it. Entering retrying emits
// EventDisconnected once for the episode and starts a reconciliation poll
// against the transport; the poll moves the machine to connected and emits
// EventConnected as soon as the transport reports a connected tag.
type Supervisor struct {
	cfg     Config
	querier transport.StateQuerier
	log     *zap.SugaredLogger

	// mu guards everything below. Decisions are handled one at a time.
	mu        sync.Mutex
	machine   *fsm.FSM
	poll      *Poll
	pending   []Notification
	listeners []Listener
	pollHooks []PollHook
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Supervisor) {
		s.log = l
	}
}

// WithPollHook registers a hook called after every reconciliation query.
func WithPollHook(h PollHook) Option {
	return func(s *Supervisor) {
		if h != nil {
			s.pollHooks = append(s.pollHooks, h)
		}
	}
}

// New creates a supervisor in the idle state.
func New(querier transport.StateQuerier, cfg Config, opts ...Option) *Supervisor {
	if len(cfg.ConnectedStates) == 0 {
		cfg.ConnectedStates = DefaultConfig().ConnectedStates
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	s := &Supervisor{
		cfg:     cfg,
		querier: querier,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)

	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			// idle/connected/disconnected -> retrying
			{
				Name: TransitionRetry,
				Src:  []string{StateIdle, StateConnected, StateDisconnected},
				Dst:  StateRetrying,
			},
			// retrying -> connected
			{
				Name: TransitionReconnected,
				Src:  []string{StateRetrying},
				Dst:  StateConnected,
			},
			// idle/connected -> disconnected
			{
				Name: TransitionGiveUp,
				Src:  []string{StateIdle, StateConnected},
				Dst:  StateDisconnected,
			},
			// everywhere to idle
			{
				Name: TransitionShutdown,
				Src:  []string{StateRetrying, StateConnected, StateDisconnected},
				Dst:  StateIdle,
			},
		},
		fsm.Callbacks{
			"enter_state": s.onEnterState,
		},
	)

	return s
}

// onEnterState runs with s.mu held by the goroutine that fired the event.
func (s *Supervisor) onEnterState(_ context.Context, e *fsm.Event) {
	s.log.Infow("connectivity state changed", "from", e.Src, "to", e.Dst, "transition", e.Event)

	var ev Event
	switch e.Dst {
	case StateRetrying:
		// the give-up that led to disconnected already announced it
		if e.Src == StateDisconnected {
			return
		}
		ev = EventDisconnected
	case StateDisconnected:
		ev = EventDisconnected
	case StateConnected:
		ev = EventConnected
	default:
		return
	}

	s.pending = append(s.pending, Notification{Event: ev, From: e.Src, To: e.Dst, At: time.Now()})
}

// Subscribe registers a listener for connectivity notifications.
func (s *Supervisor) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// HandleDecision is the retry policy observer.
func (s *Supervisor) HandleDecision(d backoff.Decision) {
	if d.Kind != backoff.KindNotConnected {
		return
	}

	s.mu.Lock()
	current := s.machine.Current()
	switch {
	case current == StateRetrying:
		s.log.Debugw("disconnect episode already in progress", "attempt", d.Attempt)
	case d.Retry:
		s.fireLocked(TransitionRetry)
		s.startPollLocked()
	case current != StateDisconnected:
		s.fireLocked(TransitionGiveUp)
	}
	notes, listeners := s.drainLocked()
	s.mu.Unlock()

	dispatch(notes, listeners)
}

// Shutdown returns the supervisor to idle and stops any running poll without
// notifying listeners.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	poll := s.poll
	if poll != nil {
		poll.Cancel()
		s.poll = nil
	}
	if s.machine.Can(TransitionShutdown) {
		s.fireLocked(TransitionShutdown)
	}
	s.pending = nil
	s.mu.Unlock()

	if poll != nil {
		poll.Wait()
	}
}

// State returns the current connectivity state.
func (s *Supervisor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// PollActive reports whether a reconciliation poll is live.
func (s *Supervisor) PollActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poll != nil
}

func (s *Supervisor) fireLocked(transition string) {
	if err := s.machine.Event(context.Background(), transition); err != nil {
		s.log.Errorw("connectivity transition failed", "transition", transition, "state", s.machine.Current(), "error", err)
	}
}

func (s *Supervisor) startPollLocked() {
	if s.poll != nil {
		return
	}
	s.poll = newPoll(s.cfg.PollInterval, s.reconcile)
	s.poll.Start()
	s.log.Debugw("reconciliation poll started", "interval", s.cfg.PollInterval)
}

func (s *Supervisor) drainLocked() ([]Notification, []Listener) {
	notes := s.pending
	s.pending = nil
	if len(notes) == 0 {
		return nil, nil
	}
	return notes, slices.Clone(s.listeners)
}

// reconcile is one poll tick. It returns true when the poll should stop.
func (s *Supervisor) reconcile(ctx context.Context, p *Poll) bool {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	tag, err := s.querier.CurrentState(queryCtx)
	cancel()

	s.mu.Lock()
	hooks := slices.Clone(s.pollHooks)
	s.mu.Unlock()
	for _, h := range hooks {
		h(tag, err)
	}

	if err != nil {
		s.log.Warnw("could not query transport state", "error", err)
		return false
	}
	s.log.Infow("current transport state", "state", tag)

	if !slices.Contains(s.cfg.ConnectedStates, tag) {
		return false
	}

	s.mu.Lock()
	if s.poll != p || p.Cancelled() {
		// superseded by Shutdown
		s.mu.Unlock()
		return true
	}
	p.Cancel()
	s.poll = nil
	s.fireLocked(TransitionReconnected)
	notes, listeners := s.drainLocked()
	s.mu.Unlock()

	dispatch(notes, listeners)
	return true
}

func dispatch(notes []Notification, listeners []Listener) {
	for _, n := range notes {
		for _, l := range listeners {
			l(n)
		}
	}
}
