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

package transport

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
)

// RetryingSender retries failed sends according to a policy.
type RetryingSender struct {
	next        Sender
	policy      *backoff.Policy
	maxAttempts int
}

var _ Sender = (*RetryingSender)(nil)

// NewRetryingSender wraps next. maxAttempts caps the retries per message;
// zero uses the policy cap.
func NewRetryingSender(next Sender, policy *backoff.Policy, maxAttempts int) *RetryingSender {
	return &RetryingSender{next: next, policy: policy, maxAttempts: maxAttempts}
}

// Send delivers msg, retrying transient failures.
func (r *RetryingSender) Send(ctx context.Context, msg Message) error {
	return r.policy.Run(ctx, r.maxAttempts, func(ctx context.Context) error {
		return r.next.Send(ctx, msg)
	})
}

// ConnectWithRetry connects t, retrying transient failures with waits taken
// from the policy. It returns the last error once the policy gives up or ctx
// is done.
func ConnectWithRetry(ctx context.Context, t Transport, policy *backoff.Policy, log *zap.SugaredLogger) error {
	log = logger.OrNop(log)
	b := policy.BackOff(backoff.ModeNormal)

	return cbackoff.RetryNotify(func() error {
		return b.Observe(t.Connect(ctx))
	}, cbackoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warnw("Connecting failed, retrying", "error", err, "wait", wait, "attempt", b.Attempt())
	})
}
