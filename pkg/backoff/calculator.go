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
	"math"
	"math/rand/v2"
	"time"
)

// Parameters bound the waits of one backoff mode.
//
// Callers must keep MinimumInterval <= InitialInterval <= MaximumInterval;
// Config.Validate reports the min > max case.
type Parameters struct {
	InitialInterval time.Duration
	MinimumInterval time.Duration
	MaximumInterval time.Duration
}

// Mode selects the parameter set used for a wait.
type Mode int

const (
	ModeNormal Mode = iota
	// ModeThrottled is used when the endpoint signals rate limiting.
	ModeThrottled
)

func (m Mode) String() string {
	if m == ModeThrottled {
		return "throttled"
	}
	return "normal"
}

// ModeFor returns the mode a wait after an error of the given kind uses.
func ModeFor(kind Kind) Mode {
	if kind == KindThrottling {
		return ModeThrottled
	}
	return ModeNormal
}

// Calculator computes the wait before the next attempt.
type Calculator interface {
	ComputeWait(attempt int, mode Mode) time.Duration
}

// ExponentialJitter is the default Calculator: exponential growth capped at
// MaximumInterval with full jitter down to MinimumInterval.
type ExponentialJitter struct {
	regular   Parameters
	throttled Parameters
	// int63n returns a value in [0, n).
	int63n func(n int64) int64
}

// NewExponentialJitter creates a calculator for the two parameter sets.
func NewExponentialJitter(regular, throttled Parameters) *ExponentialJitter {
	return &ExponentialJitter{
		regular:   regular,
		throttled: throttled,
		int63n:    rand.Int64N,
	}
}

// WithRandSource replaces the jitter source. Mostly useful in tests.
func (c *ExponentialJitter) WithRandSource(int63n func(n int64) int64) *ExponentialJitter {
	cp := *c
	cp.int63n = int63n
	return &cp
}

func (c *ExponentialJitter) params(mode Mode) Parameters {
	if mode == ModeThrottled {
		return c.throttled
	}
	return c.regular
}

// Ceiling returns min(max, initial * 2^(attempt-1)), the upper bound of the
// jittered wait. Attempts below 1 count as 1.
func (c *ExponentialJitter) Ceiling(attempt int, mode Mode) time.Duration {
	return ceiling(c.params(mode), attempt)
}

func ceiling(p Parameters, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.InitialInterval <= 0 {
		return 0
	}

	shift := attempt - 1
	if shift >= 62 || p.InitialInterval > time.Duration(math.MaxInt64>>shift) {
		return p.MaximumInterval
	}

	base := p.InitialInterval << shift
	if base > p.MaximumInterval {
		return p.MaximumInterval
	}
	return base
}

// ComputeWait returns a uniformly random wait in [min, ceiling], clamped to
// [min, max].
func (c *ExponentialJitter) ComputeWait(attempt int, mode Mode) time.Duration {
	p := c.params(mode)

	base := ceiling(p, attempt)
	if base < p.MinimumInterval {
		base = p.MinimumInterval
	}

	wait := p.MinimumInterval
	if span := int64(base - p.MinimumInterval); span > 0 && span < math.MaxInt64 {
		wait += time.Duration(c.int63n(span + 1))
	}

	if wait > p.MaximumInterval {
		wait = p.MaximumInterval
	}
	if wait < p.MinimumInterval {
		wait = p.MinimumInterval
	}
	return wait
}
