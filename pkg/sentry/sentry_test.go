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

package sentry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
)

var _ = Describe("Sentry", func() {
	var (
		logs *observer.ObservedLogs
		log  *zap.SugaredLogger
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		log = zap.New(core).Sugar()
		EnableTestMode()
	})

	AfterEach(func() {
		DebounceWindow = 2 * time.Hour
	})

	DescribeTable("picks the environment from the release version",
		func(version, expected string) {
			Expect(EnvironmentFor(version, nil)).To(Equal(expected))
		},
		Entry("stable release", "1.4.0", DefaultProductionEnvironment),
		Entry("prerelease", "1.4.0-rc.1", DefaultDevelopmentEnvironment),
		Entry("not semver", "nightly", DefaultDevelopmentEnvironment),
	)

	It("stays disabled without a DSN or for local builds", func() {
		Expect(Init("", "1.0.0", log)).To(BeFalse())
		Expect(Init("https://key@example.invalid/1", DefaultAppVersion, log)).To(BeFalse())
		Expect(Enabled()).To(BeFalse())
		Expect(Flush(time.Millisecond)).To(BeTrue())
	})

	It("shortens titles to the first phrase", func() {
		Expect(meaningfulTitle(errors.New("send failed: broker refused"))).To(Equal("send failed"))
		Expect(meaningfulTitle(errors.New(strings.Repeat("x", 150)))).To(HaveLen(100))
	})

	It("builds events with tags and fingerprint hints", func() {
		event := newEvent(sentry.LevelError, errors.New("boom"), map[string]string{
			"operation":  "send",
			"message_id": "m-1",
		})

		Expect(event.Level).To(Equal(sentry.LevelError))
		Expect(event.Exception).To(HaveLen(1))
		Expect(event.Tags).To(HaveKeyWithValue("message_id", "m-1"))
		Expect(event.Fingerprint).To(ContainElement("operation: send"))
		Expect(event.Fingerprint).To(ContainElement(fmt.Sprintf("level: %s", sentry.LevelError)))
	})

	It("logs reported issues even when Sentry is disabled", func() {
		Expect(ReportIssueWithContext(errors.New("disk full"), IssueTypeWarning, log, nil)).To(BeTrue())
		Expect(logs.FilterMessage("Reporting warning").Len()).To(Equal(1))
	})

	It("debounces repeated errors", func() {
		DebounceWindow = time.Hour

		Expect(ReportIssueWithContext(errors.New("first"), IssueTypeError, log, nil)).To(BeTrue())
		Expect(ReportIssueWithContext(errors.New("second"), IssueTypeError, log, nil)).To(BeFalse())
		Expect(logs.FilterMessage("Reporting error").Len()).To(Equal(1))
	})

	It("reports only terminal send failures", func() {
		transient := fmt.Errorf("operation failed after 3 attempt(s): %w", backoff.NewError(backoff.KindNotConnected, errors.New("offline")))
		terminal := fmt.Errorf("operation failed after 1 attempt(s): %w", backoff.NewError(backoff.KindUnauthorized, errors.New("bad token")))

		Expect(ReportSendFailure(log, nil)).To(BeFalse())
		Expect(ReportSendFailure(log, transient)).To(BeFalse())
		Expect(ReportSendFailure(log, terminal)).To(BeTrue())
		Expect(logs.FilterMessage("Reporting error").Len()).To(Equal(1))
	})
})
