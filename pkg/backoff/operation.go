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
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// Attempt is one pull of an attempt sequence. A successful attempt has a nil
// Err and a zero Decision.
type Attempt struct {
	Number   int
	Err      error
	Decision Decision
}

// Operation is a unit of work wrapped in managed retries.
type Operation func(ctx context.Context) error

// Attempts returns a lazy sequence of attempts of fn. Each pull runs fn once;
// a failure is evaluated against maxAttempts (0 uses the policy cap) and the
// sequence sleeps for the decided wait before the next pull. It ends on
// success, on a decision not to retry, or when ctx is done.
func (p *Policy) Attempts(ctx context.Context, maxAttempts int, fn Operation) iter.Seq[Attempt] {
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}

	return func(yield func(Attempt) bool) {
		for n := 1; ; n++ {
			if ctx.Err() != nil {
				return
			}

			err := fn(ctx)
			if err == nil {
				yield(Attempt{Number: n})
				return
			}

			d := p.evaluate(err, n, maxAttempts)
			if !yield(Attempt{Number: n, Err: err, Decision: d}) || !d.Retry {
				return
			}

			if !sleep(ctx, d.Wait) {
				return
			}
		}
	}
}

// Run drives Attempts to completion. It returns nil on success, otherwise the
// last error wrapped with the number of attempts made. When ctx ends the run,
// ctx.Err() is joined to the result.
func (p *Policy) Run(ctx context.Context, maxAttempts int, fn Operation) error {
	var last Attempt
	ran := false
	for a := range p.Attempts(ctx, maxAttempts, fn) {
		last = a
		ran = true
	}

	switch {
	case !ran:
		return ctx.Err()
	case last.Err == nil:
		return nil
	}

	err := fmt.Errorf("operation failed after %d attempt(s): %w", last.Number, last.Err)
	if last.Decision.Retry && ctx.Err() != nil {
		return errors.Join(err, ctx.Err())
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
