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

// Package sentry reports unrecoverable device errors to Sentry. Reporting is
// a no-op until Init has been called with a DSN and a release version.
package sentry

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	DefaultAppVersion             = "0.0.0-dev"
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"

	releasePrefix = "simulated-device@"
)

var enabled atomic.Bool

// Init configures the global Sentry hub. It returns false and leaves
// reporting disabled for local builds or when no DSN is configured.
func Init(dsn, appVersion string, log *zap.SugaredLogger) bool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if dsn == "" || appVersion == "" || appVersion == DefaultAppVersion {
		log.Debugw("Sentry disabled", "version", appVersion, "dsnSet", dsn != "")
		enabled.Store(false)

		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   EnvironmentFor(appVersion, log),
		Release:       releasePrefix + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		log.Errorw("Failed to initialize Sentry", "error", err)
		enabled.Store(false)

		return false
	}

	enabled.Store(true)

	return true
}

// Enabled reports whether events are forwarded to Sentry.
func Enabled() bool {
	return enabled.Load()
}

// Flush waits up to timeout for buffered events to be delivered.
func Flush(timeout time.Duration) bool {
	if !Enabled() {
		return true
	}

	return sentry.Flush(timeout)
}

// EnvironmentFor maps a release version to a Sentry environment. Only
// versions without a prerelease suffix count as production.
func EnvironmentFor(appVersion string, log *zap.SugaredLogger) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil {
		if log != nil {
			log.Warnw("Failed to parse app version, using development environment", "version", appVersion, "error", err)
		}

		return DefaultDevelopmentEnvironment
	}

	if version.Prerelease() != "" {
		return DefaultDevelopmentEnvironment
	}

	return DefaultProductionEnvironment
}

func meaningfulTitle(err error) string {
	message := err.Error()

	// first phrase, up to a period, comma or colon
	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func newEvent(level sentry.Level, err error, tags map[string]string) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       meaningfulTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{
		"{{ default }}",
		fmt.Sprintf("level: %s", level),
	}

	if len(tags) > 0 {
		event.Tags = make(map[string]string, len(tags))
		for key, value := range tags {
			event.Tags[key] = value
		}

		for _, key := range []string{"operation", "kind"} {
			if value, ok := tags[key]; ok {
				event.Fingerprint = append(event.Fingerprint, key+": "+value)
			}
		}
	}

	return event
}

func send(event *sentry.Event) {
	if !Enabled() {
		return
	}

	sentry.CurrentHub().Clone().CaptureEvent(event)
}
