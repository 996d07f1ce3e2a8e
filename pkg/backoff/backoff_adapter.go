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
	"time"

	cbackoff "github.com/cenkalti/backoff"
)

// BackOff adapts the policy to github.com/cenkalti/backoff so connection
// loops can be driven by backoff.RetryNotify.
//
// Feed each failure through Observe before returning it from the operation:
// the decision's wait becomes the next backoff and a terminal decision turns
// into backoff.Permanent. Without Observe the adapter falls back to the
// calculator in its fixed mode.
type BackOff struct {
	policy  *Policy
	mode    Mode
	attempt int
	pending *Decision
}

var _ cbackoff.BackOff = (*BackOff)(nil)

// BackOff returns a fresh adapter in the given mode.
func (p *Policy) BackOff(mode Mode) *BackOff {
	return &BackOff{policy: p, mode: mode}
}

// Observe evaluates err as the next failed attempt and returns the error the
// operation should hand back to the retry loop.
func (b *BackOff) Observe(err error) error {
	if err == nil {
		return nil
	}
	b.attempt++
	d := b.policy.ShouldRetry(err, b.attempt)
	if !d.Retry {
		return cbackoff.Permanent(err)
	}
	b.pending = &d
	return err
}

// NextBackOff implements backoff.BackOff.
func (b *BackOff) NextBackOff() time.Duration {
	if d := b.pending; d != nil {
		b.pending = nil
		return d.Wait
	}

	b.attempt++
	if limit := b.policy.cfg.MaxAttempts; limit > 0 && b.attempt > limit {
		return cbackoff.Stop
	}
	return b.policy.calculator.ComputeWait(b.attempt, b.mode)
}

// Reset implements backoff.BackOff.
func (b *BackOff) Reset() {
	b.attempt = 0
	b.pending = nil
}

// Attempt returns the number of failures seen since the last Reset.
func (b *BackOff) Attempt() int {
	return b.attempt
}
