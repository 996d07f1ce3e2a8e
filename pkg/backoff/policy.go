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

package backoff

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
)

// ErrInvalidParameters is returned by Config.Validate for inconsistent bounds.
var ErrInvalidParameters = errors.New("invalid backoff parameters")

// Config is the configuration surface of the retry policy.
type Config struct {
	// MaxAttempts caps the retries after the initial failure. Zero means unbounded.
	MaxAttempts int
	Regular     Parameters
	Throttled   Parameters
}

// DefaultConfig returns the stock configuration: 100ms/100ms/10s for the
// regular mode, 5s/10s/60s when throttled, and no attempt cap.
func DefaultConfig() Config {
	return Config{
		Regular: Parameters{
			InitialInterval: 100 * time.Millisecond,
			MinimumInterval: 100 * time.Millisecond,
			MaximumInterval: 10 * time.Second,
		},
		Throttled: Parameters{
			InitialInterval: 5 * time.Second,
			MinimumInterval: 10 * time.Second,
			MaximumInterval: 60 * time.Second,
		},
	}
}

// Validate reports a minimum interval above the maximum or a negative cap.
func (c Config) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: maximum attempts must not be negative, got %d", ErrInvalidParameters, c.MaxAttempts)
	}
	for mode, p := range map[Mode]Parameters{ModeNormal: c.Regular, ModeThrottled: c.Throttled} {
		if p.MinimumInterval < 0 || p.MaximumInterval <= 0 {
			return fmt.Errorf("%w: %s intervals must be positive", ErrInvalidParameters, mode)
		}
		if p.MinimumInterval > p.MaximumInterval {
			return fmt.Errorf("%w: %s minimum interval %s exceeds maximum %s",
				ErrInvalidParameters, mode, p.MinimumInterval, p.MaximumInterval)
		}
	}
	return nil
}

// Decision is the outcome of evaluating one failed attempt.
type Decision struct {
	Attempt        int
	Err            error
	Kind           Kind
	Classification Classification
	Mode           Mode
	Retry          bool
	Wait           time.Duration
}

// Observer receives every decision the policy makes.
type Observer func(Decision)

// Policy decides whether and when a failed operation is retried.
type Policy struct {
	cfg        Config
	calculator Calculator
	observers  []Observer
	log        *zap.SugaredLogger
}

// Option configures a Policy.
type Option func(*Policy)

// WithCalculator replaces the default ExponentialJitter calculator.
func WithCalculator(c Calculator) Option {
	return func(p *Policy) {
		p.calculator = c
	}
}

// WithObserver registers an observer. Observers run synchronously in the
// goroutine that evaluated the decision, in registration order.
func WithObserver(o Observer) Option {
	return func(p *Policy) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithLogger sets the logger used for decision logging.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Policy) {
		p.log = l
	}
}

// NewPolicy creates a policy. The configuration is copied and never changes
// afterwards.
func NewPolicy(cfg Config, opts ...Option) *Policy {
	p := &Policy{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.calculator == nil {
		p.calculator = NewExponentialJitter(cfg.Regular, cfg.Throttled)
	}
	p.log = logger.OrNop(p.log)
	return p
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// ShouldRetry evaluates err as the failure preceding retry number attempt
// (1 for the first retry after the initial failure).
func (p *Policy) ShouldRetry(err error, attempt int) Decision {
	return p.evaluate(err, attempt, p.cfg.MaxAttempts)
}

func (p *Policy) evaluate(err error, attempt, maxAttempts int) Decision {
	kind := KindOf(err)
	d := Decision{
		Attempt:        attempt,
		Err:            err,
		Kind:           kind,
		Classification: Classify(err),
		Mode:           ModeFor(kind),
	}

	if d.Classification == Transient {
		d.Retry = maxAttempts <= 0 || attempt <= maxAttempts
		d.Wait = p.calculator.ComputeWait(attempt, d.Mode)
	}

	p.logDecision(d)
	for _, o := range p.observers {
		o(d)
	}
	return d
}

func (p *Policy) logDecision(d Decision) {
	switch {
	case d.Retry:
		p.log.Infow("recoverable error, retrying",
			"attempt", d.Attempt, "kind", d.Kind.String(), "mode", d.Mode.String(),
			"wait", d.Wait, "error", d.Err, "timestamp", time.Now().UTC())
	case d.Classification == Transient:
		p.log.Warnw("recoverable error, giving up after maximum attempts",
			"attempt", d.Attempt, "kind", d.Kind.String(), "error", d.Err, "timestamp", time.Now().UTC())
	default:
		p.log.Errorw("unrecoverable error",
			"attempt", d.Attempt, "kind", d.Kind.String(), "error", d.Err, "timestamp", time.Now().UTC())
	}
}
