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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
)

// pahoClient is the part of mqtt.Client the transport uses.
type pahoClient interface {
	IsConnected() bool
	IsConnectionOpen() bool
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	// Topic is the events topic; message properties are appended to it as a
	// URL-encoded segment.
	Topic    string
	Username string
	Password string

	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = 10 * time.Second
	}
	if c.Topic == "" {
		c.Topic = "devices/" + c.ClientID + "/messages/events"
	}
	return c
}

// MQTT publishes telemetry to an MQTT broker with QoS 1. Reconnection after
// a lost connection is left to paho's auto-reconnect.
type MQTT struct {
	cfg    MQTTConfig
	client pahoClient
	log    *zap.SugaredLogger
	closed atomic.Bool
}

var _ Transport = (*MQTT)(nil)

// NewMQTT creates an MQTT transport. It does not connect.
func NewMQTT(cfg MQTTConfig, log *zap.SugaredLogger) *MQTT {
	cfg = cfg.withDefaults()
	log = logger.OrNop(log)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Infow("Connected to MQTT broker", "broker", cfg.BrokerURL, "clientId", cfg.ClientID)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warnw("Connection to MQTT broker lost", "error", err)
	})
	opts.SetReconnectingHandler(func(c mqtt.Client, _ *mqtt.ClientOptions) {
		log.Infow("Reconnecting to MQTT broker", "broker", cfg.BrokerURL)
	})

	return newMQTT(cfg, mqtt.NewClient(opts), log)
}

func newMQTT(cfg MQTTConfig, client pahoClient, log *zap.SugaredLogger) *MQTT {
	return &MQTT{
		cfg:    cfg.withDefaults(),
		client: client,
		log:    logger.OrNop(log),
	}
}

// Connect opens the broker connection.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return backoff.NewError(backoff.KindNotConnected, ErrClosed).WithOp("connect")
	}
	m.log.Infow("Connecting to MQTT broker", "broker", m.cfg.BrokerURL)
	return m.await(ctx, m.client.Connect(), m.cfg.ConnectTimeout, "connect")
}

// Send publishes msg with QoS 1 and waits for the broker's PUBACK.
func (m *MQTT) Send(ctx context.Context, msg Message) error {
	if m.closed.Load() {
		return backoff.NewError(backoff.KindNotConnected, ErrClosed).WithOp("send")
	}
	if !m.client.IsConnectionOpen() {
		return backoff.NewError(backoff.KindNotConnected, mqtt.ErrNotConnected).WithOp("send")
	}

	token := m.client.Publish(m.topicFor(msg), 1, false, msg.Body)
	return m.await(ctx, token, m.cfg.PublishTimeout, "send")
}

// CurrentState maps paho's connection status to a state tag.
func (m *MQTT) CurrentState(context.Context) (string, error) {
	switch {
	case m.closed.Load():
		return StateDisconnected, nil
	case m.client.IsConnectionOpen():
		return StateConnected, nil
	case m.client.IsConnected():
		// auto-reconnect in progress
		return StateReconnecting, nil
	default:
		return StateDisconnected, nil
	}
}

// Close disconnects from the broker, allowing in-flight work 250ms to finish.
func (m *MQTT) Close(context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	m.client.Disconnect(250)
	m.log.Infow("Disconnected from MQTT broker")
	return nil
}

func (m *MQTT) await(ctx context.Context, token mqtt.Token, timeout time.Duration, op string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-timer.C:
		return backoff.NewError(backoff.KindTimeout, fmt.Errorf("no response from broker within %s", timeout)).WithOp(op)
	}

	if err := token.Error(); err != nil {
		return classifyMQTTError(err).WithOp(op)
	}
	return nil
}

// topicFor appends the message id, content metadata and application
// properties to the events topic, in the devices/{id}/messages/events/{props}
// convention.
func (m *MQTT) topicFor(msg Message) string {
	values := url.Values{}
	for k, v := range msg.Properties {
		values.Set(k, v)
	}
	if msg.ID != "" {
		values.Set("$.mid", msg.ID)
	}
	if msg.ContentType != "" {
		values.Set("$.ct", msg.ContentType)
	}
	if msg.ContentEncoding != "" {
		values.Set("$.ce", msg.ContentEncoding)
	}

	topic := strings.TrimSuffix(m.cfg.Topic, "/")
	if len(values) == 0 {
		return topic + "/"
	}
	return topic + "/" + values.Encode()
}

// classifyMQTTError maps paho and CONNACK errors onto the error taxonomy.
func classifyMQTTError(err error) *backoff.Error {
	switch {
	case errors.Is(err, mqtt.ErrNotConnected):
		return backoff.NewError(backoff.KindNotConnected, err)
	case errors.Is(err, packets.ErrorRefusedNotAuthorised),
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return backoff.NewError(backoff.KindUnauthorized, err)
	case errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return backoff.NewError(backoff.KindServiceUnavailable, err)
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion):
		return backoff.NewError(backoff.KindNotImplemented, err)
	case errors.Is(err, packets.ErrorRefusedIDRejected):
		return backoff.NewError(backoff.KindValidation, err)
	case errors.Is(err, packets.ErrorNetworkError):
		return backoff.NewError(backoff.KindMqttClientDisconnected, err)
	}

	if code, ok := backoff.CodeOf(err); ok {
		return backoff.NewCodeError(code, err)
	}
	return &backoff.Error{Err: err}
}
