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

package supervisor_test

import (
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/supervisor"
	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

func notConnected(retry bool) backoff.Decision {
	return backoff.Decision{
		Attempt:        1,
		Err:            backoff.NewError(backoff.KindNotConnected, nil),
		Kind:           backoff.KindNotConnected,
		Classification: backoff.Transient,
		Retry:          retry,
	}
}

var _ = Describe("Supervisor", func() {
	var (
		querier *mockQuerier
		rec     *recorder
		sup     *supervisor.Supervisor
	)

	BeforeEach(func() {
		querier = &mockQuerier{tag: transport.StateDisconnected}
		rec = &recorder{}
		sup = supervisor.New(querier, supervisor.Config{PollInterval: 10 * time.Millisecond})
		sup.Subscribe(rec.Listen)
	})

	AfterEach(func() {
		sup.Shutdown()
	})

	It("starts idle without a poll", func() {
		Expect(sup.State()).To(Equal(supervisor.StateIdle))
		Expect(sup.PollActive()).To(BeFalse())
	})

	It("ignores decisions of other kinds", func() {
		sup.HandleDecision(backoff.Decision{Kind: backoff.KindThrottling, Retry: true})
		sup.HandleDecision(backoff.Decision{Kind: backoff.KindUnknown, Retry: true})
		sup.HandleDecision(backoff.Decision{Kind: backoff.KindUnauthorized})

		Expect(sup.State()).To(Equal(supervisor.StateIdle))
		Expect(sup.PollActive()).To(BeFalse())
		Expect(rec.Len()).To(BeZero())
	})

	Context("when the transport is not connected", func() {
		It("enters retrying once for repeated not-connected decisions", func() {
			sup.HandleDecision(notConnected(true))
			sup.HandleDecision(notConnected(true))

			Expect(sup.State()).To(Equal(supervisor.StateRetrying))
			Expect(sup.PollActive()).To(BeTrue())
			Expect(rec.Count(supervisor.EventDisconnected)).To(Equal(1))
			Consistently(rec.Len, 50*time.Millisecond, 5*time.Millisecond).Should(Equal(1))
			Expect(querier.Calls()).To(BeNumerically(">=", 2))
		})

		It("keeps polling through query errors", func() {
			querier.Set("", errors.New("broker unreachable"))
			sup.HandleDecision(notConnected(true))

			Eventually(querier.Calls, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 3))
			Expect(sup.State()).To(Equal(supervisor.StateRetrying))
			Expect(sup.PollActive()).To(BeTrue())
		})

		It("goes to disconnected when retries are given up", func() {
			sup.HandleDecision(notConnected(false))
			sup.HandleDecision(notConnected(false))

			Expect(sup.State()).To(Equal(supervisor.StateDisconnected))
			Expect(sup.PollActive()).To(BeFalse())
			Expect(rec.Count(supervisor.EventDisconnected)).To(Equal(1))
		})

		It("does not announce the disconnect twice when retrying after giving up", func() {
			sup.HandleDecision(notConnected(false))
			sup.HandleDecision(notConnected(true))

			Expect(sup.State()).To(Equal(supervisor.StateRetrying))
			Expect(sup.PollActive()).To(BeTrue())
			Expect(rec.Count(supervisor.EventDisconnected)).To(Equal(1))
		})
	})

	Context("when the poll observes a connected transport", func() {
		It("transitions to connected exactly once and stops polling", func() {
			sup.HandleDecision(notConnected(true))
			Expect(sup.PollActive()).To(BeTrue())

			querier.Set(transport.StateConnected, nil)

			Eventually(sup.State, time.Second, 5*time.Millisecond).Should(Equal(supervisor.StateConnected))
			Expect(sup.PollActive()).To(BeFalse())
			Expect(rec.Count(supervisor.EventConnected)).To(Equal(1))

			calls := querier.Calls()
			Consistently(querier.Calls, 60*time.Millisecond, 10*time.Millisecond).Should(Equal(calls))
			Expect(rec.Count(supervisor.EventConnected)).To(Equal(1))
		})

		It("finishes the episode at once when the transport is already connected", func() {
			querier.Set(transport.StateAuthenticated, nil)
			slow := supervisor.New(querier, supervisor.Config{PollInterval: time.Hour})
			slow.Subscribe(rec.Listen)
			defer slow.Shutdown()

			slow.HandleDecision(notConnected(true))

			Eventually(slow.State, time.Second, 5*time.Millisecond).Should(Equal(supervisor.StateConnected))
			Expect(rec.Count(supervisor.EventDisconnected)).To(Equal(1))
			Expect(rec.Count(supervisor.EventConnected)).To(Equal(1))
		})

		It("starts a new episode after a reconnect", func() {
			querier.Set(transport.StateConnected, nil)
			sup.HandleDecision(notConnected(true))
			Eventually(sup.State, time.Second, 5*time.Millisecond).Should(Equal(supervisor.StateConnected))

			querier.Set(transport.StateReconnecting, nil)
			sup.HandleDecision(notConnected(true))

			Expect(sup.State()).To(Equal(supervisor.StateRetrying))
			Expect(rec.Count(supervisor.EventDisconnected)).To(Equal(2))
		})

		It("only accepts the configured connected tags", func() {
			custom := supervisor.New(querier, supervisor.Config{
				PollInterval:    5 * time.Millisecond,
				ConnectedStates: []string{"session-established"},
			})
			defer custom.Shutdown()

			querier.Set(transport.StateConnected, nil)
			custom.HandleDecision(notConnected(true))
			Consistently(custom.State, 40*time.Millisecond, 5*time.Millisecond).Should(Equal(supervisor.StateRetrying))

			querier.Set("session-established", nil)
			Eventually(custom.State, time.Second, 5*time.Millisecond).Should(Equal(supervisor.StateConnected))
		})
	})

	Context("on shutdown", func() {
		It("returns to idle, cancels the poll and stays silent", func() {
			sup.HandleDecision(notConnected(true))
			Expect(rec.Len()).To(Equal(1))

			sup.Shutdown()
			Expect(sup.State()).To(Equal(supervisor.StateIdle))
			Expect(sup.PollActive()).To(BeFalse())

			calls := querier.Calls()
			querier.Set(transport.StateConnected, nil)
			Consistently(querier.Calls, 50*time.Millisecond, 10*time.Millisecond).Should(Equal(calls))
			Expect(rec.Len()).To(Equal(1))
		})

		It("is a no-op when idle", func() {
			sup.Shutdown()
			sup.Shutdown()
			Expect(sup.State()).To(Equal(supervisor.StateIdle))
		})
	})

	It("reports every query to the poll hooks", func() {
		var polls atomic.Int32
		hooked := supervisor.New(querier, supervisor.Config{PollInterval: 5 * time.Millisecond},
			supervisor.WithPollHook(func(string, error) { polls.Add(1) }))
		defer hooked.Shutdown()

		hooked.HandleDecision(notConnected(true))
		Eventually(polls.Load, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 2))
	})

	It("lets listeners call back into the supervisor", func() {
		states := make(chan string, 4)
		sup.Subscribe(func(supervisor.Notification) {
			states <- sup.State()
		})

		sup.HandleDecision(notConnected(true))
		Eventually(states).Should(Receive(Equal(supervisor.StateRetrying)))

		querier.Set(transport.StateConnected, nil)
		Eventually(states).Should(Receive(Equal(supervisor.StateConnected)))
	})
})
