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

// Package config loads the device configuration from the environment and an
// optional YAML file holding the retry options. LOGGING_LEVEL and
// LOGGING_FORMAT are read by the logger package.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/sentry"
	"github.com/united-manufacturing-hub/simulated-device/pkg/telemetry"
	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

const (
	TransportMQTT      = "mqtt"
	TransportWebSocket = "websocket"

	DefaultDeviceID        = "simulated-device"
	DefaultMetricsPort     = 8080
	DefaultMetricsInterval = time.Second
	DefaultSendMaxAttempts = 5
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Transport string
	DeviceID  string

	MQTT      transport.MQTTConfig
	WebSocket transport.WebSocketConfig

	Retry backoff.Config
	// SendMaxAttempts caps the retries of one telemetry message. Zero uses
	// Retry.MaxAttempts.
	SendMaxAttempts int
	// ConnectedStates are the transport tags the supervisor accepts as
	// connected. Empty keeps the supervisor default.
	ConnectedStates []string

	Telemetry       telemetry.Config
	MetricsInterval time.Duration
	// MetricsPort of the observability server. Zero disables it.
	MetricsPort int

	SentryDSN  string
	AppVersion string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Transport:       TransportMQTT,
		DeviceID:        DefaultDeviceID,
		Retry:           backoff.DefaultConfig(),
		SendMaxAttempts: DefaultSendMaxAttempts,
		Telemetry: telemetry.Config{
			Interval:    200 * time.Millisecond,
			MaxInFlight: 8,
		},
		MetricsInterval: DefaultMetricsInterval,
		MetricsPort:     DefaultMetricsPort,
		AppVersion:      sentry.DefaultAppVersion,
	}
}

// Load builds the configuration. Values from the environment override the
// retry file named by CONFIG_FILE, which overrides the defaults.
func Load() (Config, error) {
	cfg := Default()

	path, err := env.GetAsString("CONFIG_FILE", false, "")
	if err != nil {
		return cfg, err
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	var errs []error
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}

	c.Transport, err = env.GetAsString("TRANSPORT", false, c.Transport)
	collect(err)
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))

	c.DeviceID, err = env.GetAsString("DEVICE_ID", false, c.DeviceID)
	collect(err)

	c.MQTT.BrokerURL, err = env.GetAsString("BROKER_URL", false, c.MQTT.BrokerURL)
	collect(err)
	c.MQTT.Topic, err = env.GetAsString("MQTT_TOPIC", false, c.MQTT.Topic)
	collect(err)
	c.MQTT.Username, err = env.GetAsString("MQTT_USERNAME", false, c.MQTT.Username)
	collect(err)
	c.MQTT.Password, err = env.GetAsString("MQTT_PASSWORD", false, c.MQTT.Password)
	collect(err)

	c.WebSocket.URL, err = env.GetAsString("WEBSOCKET_URL", false, c.WebSocket.URL)
	collect(err)
	c.WebSocket.Token, err = env.GetAsString("WEBSOCKET_TOKEN", false, c.WebSocket.Token)
	collect(err)

	c.Telemetry.Interval, err = getAsMillis("TELEMETRY_INTERVAL_MS", c.Telemetry.Interval)
	collect(err)
	c.MetricsInterval, err = getAsMillis("METRICS_INTERVAL_MS", c.MetricsInterval)
	collect(err)

	maxInFlight, err := env.GetAsInt("MAX_INFLIGHT_SENDS", false, int(c.Telemetry.MaxInFlight))
	collect(err)
	c.Telemetry.MaxInFlight = int64(maxInFlight)

	c.SendMaxAttempts, err = env.GetAsInt("SEND_MAX_ATTEMPTS", false, c.SendMaxAttempts)
	collect(err)
	c.Retry.MaxAttempts, err = env.GetAsInt("RETRY_MAXIMUM", false, c.Retry.MaxAttempts)
	collect(err)
	collect(applyParametersEnv("RETRY_REGULAR", &c.Retry.Regular))
	collect(applyParametersEnv("RETRY_THROTTLED", &c.Retry.Throttled))

	states, err := env.GetAsString("CONNECTED_STATES", false, strings.Join(c.ConnectedStates, ","))
	collect(err)
	c.ConnectedStates = splitList(states)

	c.MetricsPort, err = env.GetAsInt("METRICS_PORT", false, c.MetricsPort)
	collect(err)

	c.SentryDSN, err = env.GetAsString("SENTRY_DSN", false, c.SentryDSN)
	collect(err)
	c.AppVersion, err = env.GetAsString("APP_VERSION", false, c.AppVersion)
	collect(err)

	return errors.Join(errs...)
}

func applyParametersEnv(prefix string, p *backoff.Parameters) error {
	var err error
	var errs []error

	p.InitialInterval, err = getAsMillis(prefix+"_INITIAL_INTERVAL_MS", p.InitialInterval)
	errs = append(errs, err)
	p.MinimumInterval, err = getAsMillis(prefix+"_MINIMUM_INTERVAL_MS", p.MinimumInterval)
	errs = append(errs, err)
	p.MaximumInterval, err = getAsMillis(prefix+"_MAXIMUM_INTERVAL_MS", p.MaximumInterval)
	errs = append(errs, err)

	return errors.Join(errs...)
}

func getAsMillis(key string, fallback time.Duration) (time.Duration, error) {
	ms, err := env.GetAsInt(key, false, int(fallback/time.Millisecond))
	if err != nil {
		return fallback, err
	}

	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Validate reports inconsistent retry parameters and missing endpoints.
func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.DeviceID == "" {
		return fmt.Errorf("%w: DEVICE_ID must not be empty", ErrInvalidConfig)
	}

	switch c.Transport {
	case TransportMQTT:
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("%w: BROKER_URL is required for the mqtt transport", ErrInvalidConfig)
		}
	case TransportWebSocket:
		if c.WebSocket.URL == "" {
			return fmt.Errorf("%w: WEBSOCKET_URL is required for the websocket transport", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}

	if c.SendMaxAttempts < 0 {
		return fmt.Errorf("%w: SEND_MAX_ATTEMPTS must not be negative, got %d", ErrInvalidConfig, c.SendMaxAttempts)
	}
	if c.Telemetry.Interval <= 0 || c.MetricsInterval <= 0 {
		return fmt.Errorf("%w: telemetry and metrics intervals must be positive", ErrInvalidConfig)
	}
	if c.Telemetry.MaxInFlight <= 0 {
		return fmt.Errorf("%w: MAX_INFLIGHT_SENDS must be positive, got %d", ErrInvalidConfig, c.Telemetry.MaxInFlight)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("%w: METRICS_PORT out of range: %d", ErrInvalidConfig, c.MetricsPort)
	}

	return nil
}
