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

package backoff_test

import (
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
)

var _ = Describe("ExponentialJitter", func() {
	var (
		cfg  backoff.Config
		calc *backoff.ExponentialJitter
	)

	BeforeEach(func() {
		cfg = backoff.DefaultConfig()
		calc = backoff.NewExponentialJitter(cfg.Regular, cfg.Throttled)
	})

	It("doubles the ceiling per attempt until it saturates", func() {
		Expect(calc.Ceiling(1, backoff.ModeNormal)).To(Equal(100 * time.Millisecond))
		Expect(calc.Ceiling(2, backoff.ModeNormal)).To(Equal(200 * time.Millisecond))
		Expect(calc.Ceiling(3, backoff.ModeNormal)).To(Equal(400 * time.Millisecond))
		Expect(calc.Ceiling(8, backoff.ModeNormal)).To(Equal(10 * time.Second))

		prev := time.Duration(0)
		for attempt := 1; attempt <= 200; attempt++ {
			c := calc.Ceiling(attempt, backoff.ModeNormal)
			Expect(c).To(BeNumerically(">=", prev))
			Expect(c).To(BeNumerically("<=", cfg.Regular.MaximumInterval))
			prev = c
		}
		Expect(prev).To(Equal(cfg.Regular.MaximumInterval))
	})

	It("treats attempts below one as the first attempt", func() {
		Expect(calc.Ceiling(0, backoff.ModeNormal)).To(Equal(calc.Ceiling(1, backoff.ModeNormal)))
		Expect(calc.Ceiling(-7, backoff.ModeThrottled)).To(Equal(calc.Ceiling(1, backoff.ModeThrottled)))
	})

	It("does not overflow on huge attempt numbers", func() {
		Expect(calc.Ceiling(math.MaxInt, backoff.ModeNormal)).To(Equal(10 * time.Second))
		Expect(calc.ComputeWait(math.MaxInt, backoff.ModeThrottled)).To(BeNumerically("<=", 60*time.Second))
	})

	It("keeps every sample inside [min, max]", func() {
		for attempt := 1; attempt <= 40; attempt++ {
			for range 50 {
				w := calc.ComputeWait(attempt, backoff.ModeNormal)
				Expect(w).To(BeNumerically(">=", cfg.Regular.MinimumInterval))
				Expect(w).To(BeNumerically("<=", calc.Ceiling(attempt, backoff.ModeNormal)))

				t := calc.ComputeWait(attempt, backoff.ModeThrottled)
				Expect(t).To(BeNumerically(">=", cfg.Throttled.MinimumInterval))
				Expect(t).To(BeNumerically("<=", cfg.Throttled.MaximumInterval))
			}
		}
	})

	It("spans the whole jitter range", func() {
		low := calc.WithRandSource(func(int64) int64 { return 0 })
		high := calc.WithRandSource(func(n int64) int64 { return n - 1 })

		Expect(low.ComputeWait(3, backoff.ModeNormal)).To(Equal(100 * time.Millisecond))
		Expect(high.ComputeWait(3, backoff.ModeNormal)).To(Equal(400 * time.Millisecond))
	})

	It("lifts a ceiling below the minimum up to the minimum", func() {
		// throttled initial (5s) is below its minimum (10s)
		high := calc.WithRandSource(func(n int64) int64 { return n - 1 })
		Expect(high.ComputeWait(1, backoff.ModeThrottled)).To(Equal(10 * time.Second))
		Expect(high.ComputeWait(2, backoff.ModeThrottled)).To(Equal(10 * time.Second))
		Expect(high.ComputeWait(3, backoff.ModeThrottled)).To(Equal(20 * time.Second))
	})

	It("never panics on degenerate parameters", func() {
		zero := backoff.NewExponentialJitter(backoff.Parameters{}, backoff.Parameters{})
		Expect(zero.ComputeWait(5, backoff.ModeNormal)).To(Equal(time.Duration(0)))
	})
})

var _ = Describe("ModeFor", func() {
	It("selects the throttled mode only for throttling errors", func() {
		for _, k := range backoff.AllKinds() {
			if k == backoff.KindThrottling {
				Expect(backoff.ModeFor(k)).To(Equal(backoff.ModeThrottled))
				continue
			}
			Expect(backoff.ModeFor(k)).To(Equal(backoff.ModeNormal))
		}
		Expect(backoff.ModeFor(backoff.KindUnknown)).To(Equal(backoff.ModeNormal))
	})
})
