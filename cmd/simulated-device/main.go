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

package main

import (
	"context"
	"os"
	"time"

	"github.com/united-manufacturing-hub/simulated-device/pkg/config"
	"github.com/united-manufacturing-hub/simulated-device/pkg/device"
	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
	"github.com/united-manufacturing-hub/simulated-device/pkg/sentry"
	"github.com/united-manufacturing-hub/simulated-device/pkg/shutdown"
)

// appVersion is set via ldflags.
var appVersion = sentry.DefaultAppVersion

const shutdownTimeout = 10 * time.Second

func main() {
	logger.Initialize()
	log := logger.For(logger.ComponentDevice)
	defer func() {
		_ = logger.Sync()
	}()

	log.Debugw("Loading configuration")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}
	if cfg.AppVersion == sentry.DefaultAppVersion {
		cfg.AppVersion = appVersion
	}

	sentry.Init(cfg.SentryDSN, cfg.AppVersion, logger.For(logger.ComponentConfig))

	if err := cfg.Validate(); err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeFatal, log)
		log.Fatalf("Invalid configuration: %s", err)
	}

	var rt *device.Runtime
	fatal := func(err error) {
		// the runtime waits for the goroutine reporting this, so stop elsewhere
		go func() {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, log)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := rt.Stop(ctx); stopErr != nil {
				log.Errorw("Error while stopping device", "error", stopErr)
			}
			_ = logger.Sync()
			os.Exit(1)
		}()
	}

	rt, err = device.New(cfg, device.WithFatalHandler(fatal))
	if err != nil {
		log.Fatalf("Failed to create device: %s", err)
	}

	gs := shutdown.New(rt.Stop, shutdown.WithTimeout(shutdownTimeout), shutdown.WithLogger(log))

	if err := rt.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start device: %s", err)
	}

	gs.Wait()
}
