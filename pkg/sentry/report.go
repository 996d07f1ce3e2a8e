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
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// DebounceWindow is the minimum gap between two forwarded warnings or errors.
// Fatal issues are never debounced.
var DebounceWindow = 2 * time.Hour

var (
	debounceMu sync.Mutex
	lastSent   = map[IssueType]time.Time{}
)

// EnableTestMode disables debouncing.
func EnableTestMode() {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	DebounceWindow = 0
	lastSent = map[IssueType]time.Time{}
}

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext logs err and forwards it to Sentry with tags attached.
// It returns false when the issue was suppressed by debouncing.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, tags map[string]string) bool {
	if err == nil {
		return false
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		log.Errorw("The simulated device has encountered a fatal error and will now terminate", "error", err)
		send(newEvent(sentry.LevelFatal, err, tags))
		Flush(5 * time.Second)

		return true
	case IssueTypeError:
		if !allow(issueType) {
			return false
		}

		log.Errorw("Reporting error", "error", err)
		send(newEvent(sentry.LevelError, err, tags))
	case IssueTypeWarning:
		if !allow(issueType) {
			return false
		}

		log.Warnw("Reporting warning", "error", err)
		send(newEvent(sentry.LevelWarning, err, tags))
	default:
		return false
	}

	return true
}

// ReportSendFailure reports a telemetry send that ended without delivery.
// Only terminal errors are reported; exhausted retries of transient errors
// are expected while the device is offline.
func ReportSendFailure(log *zap.SugaredLogger, err error) bool {
	if err == nil {
		return false
	}

	if backoff.Classify(err) != backoff.Terminal {
		return false
	}

	return ReportIssueWithContext(err, IssueTypeError, log, map[string]string{
		"operation": "send",
		"kind":      backoff.KindOf(err).String(),
	})
}

func allow(issueType IssueType) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	now := time.Now()
	if last, ok := lastSent[issueType]; ok && now.Sub(last) < DebounceWindow {
		return false
	}

	lastSent[issueType] = now

	return true
}
