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

// Package device wires the simulated device together: transport, retry
// policy, connection supervisor, telemetry emitter and the observability
// surface.
package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/config"
	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
	"github.com/united-manufacturing-hub/simulated-device/pkg/metrics"
	"github.com/united-manufacturing-hub/simulated-device/pkg/sentry"
	"github.com/united-manufacturing-hub/simulated-device/pkg/supervisor"
	"github.com/united-manufacturing-hub/simulated-device/pkg/telemetry"
	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

var (
	ErrAlreadyStarted = errors.New("device already started")
	ErrNotStarted     = errors.New("device not started")
)

type Option func(*Runtime)

// WithTransport replaces the transport selected by the configuration.
func WithTransport(t transport.Transport) Option {
	return func(r *Runtime) { r.transport = t }
}

// WithMemorySource replaces the free-memory source of the metric exporter.
func WithMemorySource(src metrics.MemorySource) Option {
	return func(r *Runtime) { r.memory = src }
}

// WithFatalHandler is called when the device cannot continue, e.g. after the
// initial connect failed with an unrecoverable error.
func WithFatalHandler(fatal func(error)) Option {
	return func(r *Runtime) { r.fatal = fatal }
}

func WithSampler(s telemetry.Sampler) Option {
	return func(r *Runtime) { r.sampler = s }
}

// Runtime owns every long-running part of the device.
type Runtime struct {
	cfg config.Config
	log *zap.SugaredLogger

	transport  transport.Transport
	policy     *backoff.Policy
	supervisor *supervisor.Supervisor
	emitter    *telemetry.Emitter
	exporter   *metrics.Exporter
	server     *metrics.Server

	memory  metrics.MemorySource
	sampler telemetry.Sampler
	fatal   func(error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New builds the runtime from a validated configuration.
func New(cfg config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:    cfg,
		log:    logger.For(logger.ComponentDevice),
		memory: metrics.VirtualMemoryFree,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.policy = backoff.NewPolicy(cfg.Retry,
		backoff.WithLogger(logger.For(logger.ComponentRetryPolicy)),
		backoff.WithObserver(metrics.ObserveDecision),
		backoff.WithObserver(r.observeDecision),
	)

	if r.transport == nil {
		t, err := r.newTransport()
		if err != nil {
			return nil, err
		}
		r.transport = t
	}

	supCfg := supervisor.ConfigFor(cfg.Retry)
	if len(cfg.ConnectedStates) > 0 {
		supCfg.ConnectedStates = cfg.ConnectedStates
	}
	r.supervisor = supervisor.New(r.transport, supCfg,
		supervisor.WithLogger(logger.For(logger.ComponentSupervisor)),
		supervisor.WithPollHook(metrics.ObservePoll),
	)
	r.supervisor.Subscribe(metrics.ObserveNotification)
	r.supervisor.Subscribe(r.logNotification)
	metrics.SetConnectivityState(r.supervisor.State())

	emitterOpts := []telemetry.Option{
		telemetry.WithLogger(logger.For(logger.ComponentTelemetry)),
		telemetry.WithOutcomeHook(metrics.ObserveTelemetry),
		telemetry.WithOutcomeHook(r.reportOutcome),
	}
	if r.sampler != nil {
		emitterOpts = append(emitterOpts, telemetry.WithSampler(r.sampler))
	}
	sender := transport.NewRetryingSender(r.transport, r.policy, cfg.SendMaxAttempts)
	r.emitter = telemetry.NewEmitter(sender, cfg.Telemetry, emitterOpts...)

	r.exporter = metrics.NewExporter(cfg.MetricsInterval, r.memory, logger.For(logger.ComponentMetrics))

	if cfg.MetricsPort > 0 {
		addr := ":" + strconv.Itoa(cfg.MetricsPort)
		r.server = metrics.NewServer(addr, r.ready, logger.For(logger.ComponentHTTP))
	}

	return r, nil
}

func (r *Runtime) newTransport() (transport.Transport, error) {
	switch r.cfg.Transport {
	case config.TransportMQTT:
		mqttCfg := r.cfg.MQTT
		mqttCfg.ClientID = r.cfg.DeviceID
		return transport.NewMQTT(mqttCfg, logger.For(logger.ComponentMQTT)), nil
	case config.TransportWebSocket:
		wsCfg := r.cfg.WebSocket
		wsCfg.DeviceID = r.cfg.DeviceID
		return transport.NewWebSocket(wsCfg, r.policy, logger.For(logger.ComponentWebSocket)), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, r.cfg.Transport)
	}
}

// Start launches the background loops and returns immediately. The initial
// connect is retried in the background; samples taken before it succeeds
// fail with a not-connected error and drive the supervisor.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil || r.stopped {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.log.Infow("Starting simulated device",
		"deviceId", r.cfg.DeviceID,
		"transport", r.cfg.Transport,
		"interval", r.cfg.Telemetry.Interval,
		"maxAttempts", r.cfg.Retry.MaxAttempts,
	)

	r.goRun(func() { r.connect(runCtx) })
	r.goRun(func() { r.exporter.Run(runCtx) })
	r.goRun(func() { r.emitter.Run(runCtx) })

	if r.server != nil {
		r.server.Start(r.onFatal)
	}

	return nil
}

// Stop cancels the loops, waits for them within ctx and releases the
// transport.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return ErrNotStarted
	}
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	cancel := r.cancel
	r.mu.Unlock()

	r.log.Info("Stopping simulated device")
	cancel()

	var errs []error

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for device loops: %w", ctx.Err()))
	}

	r.supervisor.Shutdown()

	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping observability server: %w", err))
		}
	}

	if err := r.transport.Close(ctx); err != nil && !errors.Is(err, transport.ErrClosed) {
		errs = append(errs, fmt.Errorf("closing transport: %w", err))
	}

	sentry.Flush(2 * time.Second)

	return errors.Join(errs...)
}

// State is the supervisor's connectivity state.
func (r *Runtime) State() string {
	return r.supervisor.State()
}

// Server is the observability server; nil when METRICS_PORT is zero.
func (r *Runtime) Server() *metrics.Server {
	return r.server
}

func (r *Runtime) goRun(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Runtime) connect(ctx context.Context) {
	err := transport.ConnectWithRetry(ctx, r.transport, r.policy, r.log)
	switch {
	case err == nil:
		r.log.Infow("Transport connected", "transport", r.cfg.Transport)
	case ctx.Err() != nil:
		r.log.Debugw("Connect abandoned, device stopping", "error", err)
	default:
		r.log.Errorw("Could not connect transport", "error", err)
		if backoff.Classify(err) == backoff.Terminal {
			r.onFatal(fmt.Errorf("connecting %s transport: %w", r.cfg.Transport, err))
		}
	}
}

func (r *Runtime) onFatal(err error) {
	sentry.ReportIssueWithContext(err, sentry.IssueTypeError, r.log, map[string]string{
		"operation": "connect",
		"kind":      backoff.KindOf(err).String(),
	})
	if r.fatal != nil {
		r.fatal(err)
	}
}

func (r *Runtime) observeDecision(d backoff.Decision) {
	if r.supervisor != nil {
		r.supervisor.HandleDecision(d)
	}
}

func (r *Runtime) logNotification(n supervisor.Notification) {
	r.log.Infow("Connectivity changed", "event", n.Event, "from", n.From, "to", n.To, "at", n.At)
}

func (r *Runtime) reportOutcome(outcome telemetry.Outcome, err error) {
	if outcome == telemetry.OutcomeFailed {
		sentry.ReportSendFailure(r.log, err)
	}
}

// ready succeeds while the transport reports a connected state.
func (r *Runtime) ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	state, err := r.transport.CurrentState(ctx)
	if err != nil {
		return fmt.Errorf("querying transport state: %w", err)
	}

	connected := r.cfg.ConnectedStates
	if len(connected) == 0 {
		connected = supervisor.DefaultConfig().ConnectedStates
	}
	if !slices.Contains(connected, state) {
		return fmt.Errorf("transport is %s, supervisor is %s", state, r.supervisor.State())
	}

	return nil
}
