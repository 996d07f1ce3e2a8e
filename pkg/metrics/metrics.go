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

// Package metrics exposes the device's Prometheus metrics and the HTTP
// observability endpoints.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/supervisor"
	"github.com/united-manufacturing-hub/simulated-device/pkg/telemetry"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umh"
	subsystem = "simulated_device"

	retryDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_decisions_total",
			Help:      "Retry decisions by classification, outcome and error kind",
		},
		[]string{"classification", "retry", "kind"},
	)
	retryWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_wait_seconds",
			Help:      "Scheduled wait before a retry, by backoff mode",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"mode"},
	)
	connectivityState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connectivity_state",
			Help:      "Connectivity state (0=idle, 1=retrying, 2=connected, 3=disconnected, -1=unknown)",
		},
	)
	connectivityNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connectivity_notifications_total",
			Help:      "Connected and disconnected notifications emitted",
		},
		[]string{"event"},
	)
	reconciliationPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconciliation_polls_total",
			Help:      "Transport state queries made while reconciling, by reported state",
		},
		[]string{"state"},
	)
	telemetryMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "telemetry_messages_total",
			Help:      "Telemetry ticks by outcome",
		},
		[]string{"outcome"},
	)
	freeMemory = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "free_memory_bytes",
			Help:      "Free system memory",
		},
	)
)

// ObserveDecision records a retry policy decision. It is meant to be
// registered as a policy observer.
func ObserveDecision(d backoff.Decision) {
	retryDecisions.WithLabelValues(d.Classification.String(), strconv.FormatBool(d.Retry), d.Kind.String()).Inc()
	if d.Retry {
		retryWait.WithLabelValues(d.Mode.String()).Observe(d.Wait.Seconds())
	}
}

// ObserveNotification records a connectivity notification and the state it
// led to.
func ObserveNotification(n supervisor.Notification) {
	connectivityNotifications.WithLabelValues(string(n.Event)).Inc()
	SetConnectivityState(n.To)
}

// SetConnectivityState updates the connectivity gauge.
func SetConnectivityState(state string) {
	connectivityState.Set(stateValue(state))
}

// ObservePoll records one reconciliation query.
func ObservePoll(tag string, err error) {
	if err != nil {
		tag = "error"
	}
	reconciliationPolls.WithLabelValues(tag).Inc()
}

// ObserveTelemetry records one emitter tick.
func ObserveTelemetry(outcome telemetry.Outcome, _ error) {
	telemetryMessages.WithLabelValues(string(outcome)).Inc()
}

// SetFreeMemory updates the free memory gauge.
func SetFreeMemory(bytes uint64) {
	freeMemory.Set(float64(bytes))
}

func stateValue(state string) float64 {
	switch state {
	case supervisor.StateIdle:
		return 0
	case supervisor.StateRetrying:
		return 1
	case supervisor.StateConnected:
		return 2
	case supervisor.StateDisconnected:
		return 3
	default:
		return -1
	}
}
