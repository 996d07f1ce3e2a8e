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
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
)

// scriptedTransport fails with the queued errors before succeeding.
type scriptedTransport struct {
	mu       sync.Mutex
	errs     []error
	sends    int
	connects int
}

func (s *scriptedTransport) next() error {
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedTransport) Send(context.Context, Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	return s.next()
}

func (s *scriptedTransport) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.next()
}

func (s *scriptedTransport) CurrentState(context.Context) (string, error) {
	return StateConnected, nil
}

func (s *scriptedTransport) Close(context.Context) error {
	return nil
}

var notConnectedErr = backoff.NewError(backoff.KindNotConnected, errors.New("offline"))

var _ = Describe("RetryingSender", func() {
	It("retries transient failures until the send succeeds", func() {
		var decisions []backoff.Decision
		policy := fastPolicy(0, backoff.WithObserver(func(d backoff.Decision) {
			decisions = append(decisions, d)
		}))
		inner := &scriptedTransport{errs: []error{notConnectedErr, notConnectedErr}}

		Expect(NewRetryingSender(inner, policy, 5).Send(context.Background(), Message{})).To(Succeed())
		Expect(inner.sends).To(Equal(3))
		Expect(decisions).To(HaveLen(2))
		Expect(decisions[0].Kind).To(Equal(backoff.KindNotConnected))
	})

	It("returns the last error once the cap is reached", func() {
		inner := &scriptedTransport{errs: []error{notConnectedErr, notConnectedErr, notConnectedErr, notConnectedErr}}

		err := NewRetryingSender(inner, fastPolicy(0), 2).Send(context.Background(), Message{})
		Expect(err).To(MatchError(notConnectedErr))
		Expect(inner.sends).To(Equal(3))
	})

	It("does not retry terminal failures", func() {
		tooLarge := backoff.NewError(backoff.KindMessageTooLarge, errors.New("too large"))
		inner := &scriptedTransport{errs: []error{tooLarge}}

		err := NewRetryingSender(inner, fastPolicy(0), 5).Send(context.Background(), Message{})
		Expect(err).To(MatchError(tooLarge))
		Expect(inner.sends).To(Equal(1))
	})
})

var _ = Describe("ConnectWithRetry", func() {
	It("connects after transient failures", func() {
		refused := backoff.NewCodeError(backoff.CodeConnRefused, errors.New("refused"))
		tr := &scriptedTransport{errs: []error{refused, refused}}

		Expect(ConnectWithRetry(context.Background(), tr, fastPolicy(0), nil)).To(Succeed())
		Expect(tr.connects).To(Equal(3))
	})

	It("stops on a terminal failure", func() {
		denied := backoff.NewError(backoff.KindUnauthorized, errors.New("denied"))
		tr := &scriptedTransport{errs: []error{denied}}

		Expect(ConnectWithRetry(context.Background(), tr, fastPolicy(0), nil)).To(MatchError(denied))
		Expect(tr.connects).To(Equal(1))
	})

	It("stops when the policy cap is exhausted", func() {
		refused := backoff.NewCodeError(backoff.CodeConnRefused, errors.New("refused"))
		tr := &scriptedTransport{errs: []error{refused, refused, refused, refused}}

		Expect(ConnectWithRetry(context.Background(), tr, fastPolicy(1), nil)).To(MatchError(refused))
		Expect(tr.connects).To(Equal(2))
	})
})
