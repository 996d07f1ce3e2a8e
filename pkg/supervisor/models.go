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
	"time"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

// Connectivity states
const (
	// StateIdle is the initial state and the state after Shutdown
	StateIdle = "idle"
	// StateRetrying is the state while a disconnect episode is being reconciled
	StateRetrying = "retrying"
	// StateConnected is the state once the transport was observed connected
	StateConnected = "connected"
	// StateDisconnected is the state after retries were given up
	StateDisconnected = "disconnected"
)

// State machine transitions
const (
	TransitionRetry       = "retry"
	TransitionReconnected = "reconnected"
	TransitionGiveUp      = "give_up"
	TransitionShutdown    = "shutdown"
)

// Event is a connectivity notification.
type Event string

const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
)

// Notification is delivered to listeners on connectivity changes.
type Notification struct {
	Event Event
	From  string
	To    string
	At    time.Time
}

// Listener receives notifications. It is called outside the supervisor lock
// and may call back into the supervisor.
type Listener func(Notification)

// PollHook observes every reconciliation query and its outcome.
type PollHook func(tag string, err error)

// Config configures the supervisor.
type Config struct {
	// PollInterval is the reconciliation period.
	PollInterval time.Duration
	// ConnectedStates are the transport tags that count as connected.
	ConnectedStates []string
}

// DefaultConfig polls at the regular-mode maximum interval of the default
// retry configuration.
func DefaultConfig() Config {
	return ConfigFor(backoff.DefaultConfig())
}

// ConfigFor derives the supervisor configuration from a retry configuration.
func ConfigFor(cfg backoff.Config) Config {
	return Config{
		PollInterval:    cfg.Regular.MaximumInterval,
		ConnectedStates: []string{transport.StateConnected, transport.StateAuthenticated},
	}
}
