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
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Poll", func() {
	It("checks immediately and then on every tick until done", func() {
		var checks atomic.Int32
		p := newPoll(5*time.Millisecond, func(context.Context, *Poll) bool {
			return checks.Add(1) == 3
		})
		p.Start()
		p.Start()
		p.Wait()

		Expect(checks.Load()).To(Equal(int32(3)))
	})

	It("never checks again after Cancel", func() {
		var checks atomic.Int32
		p := newPoll(5*time.Millisecond, func(context.Context, *Poll) bool {
			checks.Add(1)
			return false
		})
		p.Start()
		Eventually(checks.Load).Should(BeNumerically(">=", 2))

		p.Cancel()
		p.Cancel()
		p.Wait()
		Expect(p.Cancelled()).To(BeTrue())

		seen := checks.Load()
		Consistently(checks.Load, 30*time.Millisecond, 5*time.Millisecond).Should(Equal(seen))
	})

	It("tolerates Cancel before Start and Wait without Start", func() {
		var checks atomic.Int32
		p := newPoll(time.Millisecond, func(context.Context, *Poll) bool {
			checks.Add(1)
			return false
		})
		p.Wait()
		p.Cancel()
		p.Start()
		p.Wait()

		Expect(checks.Load()).To(BeZero())
	})
})
