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
	"net"
	"net/http"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
)

// Frame types exchanged with the ingestion endpoint.
const (
	FrameConnectionAck = "connection.ack"
	FrameTelemetry     = "telemetry"
	FrameAck           = "ack"
	FrameError         = "error"
)

var errNotAuthenticated = errors.New("websocket session not authenticated")

// Frame is the JSON envelope of every websocket message.
type Frame struct {
	Type         string            `json:"type"`
	ID           string            `json:"id,omitempty"`
	ConnectionID string            `json:"connectionId,omitempty"`
	DeviceID     string            `json:"deviceId,omitempty"`
	ContentType  string            `json:"contentType,omitempty"`
	Encoding     string            `json:"contentEncoding,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	// Error carries the wire name of the error kind on error frames.
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	URL      string
	Token    string
	DeviceID string

	HandshakeTimeout time.Duration
	AckTimeout       time.Duration
	WriteTimeout     time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// WebSocket sends telemetry frames over a websocket session. A session is
// usable once the endpoint acknowledged it with a connection.ack frame; a
// lost session is re-established in the background, paced by the retry
// policy.
type WebSocket struct {
	cfg    WebSocketConfig
	policy *backoff.Policy
	log    *zap.SugaredLogger
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	state        string
	conn         *websocket.Conn
	connectionID string
	serving      bool
	pending      map[string]chan error

	writeMu sync.Mutex
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket creates a WebSocket transport. It does not connect.
func NewWebSocket(cfg WebSocketConfig, policy *backoff.Policy, log *zap.SugaredLogger) *WebSocket {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{
		cfg:    cfg,
		policy: policy,
		log:    logger.OrNop(log),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		pending: make(map[string]chan error),
	}
}

// Connect establishes a session and starts the background reader.
func (w *WebSocket) Connect(ctx context.Context) error {
	if w.ctx.Err() != nil {
		return backoff.NewError(backoff.KindNotConnected, ErrClosed).WithOp("connect")
	}

	w.mu.RLock()
	serving := w.serving
	w.mu.RUnlock()
	if serving {
		return nil
	}

	conn, err := w.dial(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.serving = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.serve(conn)
	return nil
}

// Send writes a telemetry frame and waits for the endpoint's ack.
func (w *WebSocket) Send(ctx context.Context, msg Message) error {
	w.mu.Lock()
	conn := w.conn
	if w.state != StateAuthenticated || conn == nil {
		state := w.state
		w.mu.Unlock()
		return backoff.NewError(backoff.KindNotConnected, fmt.Errorf("%w (state %s)", errNotAuthenticated, state)).WithOp("send")
	}
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	result := make(chan error, 1)
	w.pending[id] = result
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	if err := w.write(conn, Frame{
		Type:        FrameTelemetry,
		ID:          id,
		DeviceID:    w.cfg.DeviceID,
		ContentType: msg.ContentType,
		Encoding:    msg.ContentEncoding,
		Properties:  msg.Properties,
		Body:        msg.Body,
	}); err != nil {
		return classifyNetError(err).WithOp("send")
	}

	timer := time.NewTimer(w.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send: %w", ctx.Err())
	case <-timer.C:
		return backoff.NewError(backoff.KindTimeout, fmt.Errorf("no ack for message %s within %s", id, w.cfg.AckTimeout)).WithOp("send")
	}
}

// CurrentState returns disconnected, connecting, connected, reconnecting or
// authenticated.
func (w *WebSocket) CurrentState(context.Context) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state, nil
}

// ConnectionID returns the id the endpoint assigned to the current session.
func (w *WebSocket) ConnectionID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connectionID
}

// Close ends the session and stops reconnecting.
func (w *WebSocket) Close(ctx context.Context) error {
	w.cancel()

	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.state = StateDisconnected
	w.mu.Unlock()

	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "device shutting down"),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		_ = conn.Close()
	}
	w.failPending(backoff.NewError(backoff.KindNotConnected, ErrClosed))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing websocket transport: %w", ctx.Err())
	}
}

// setState records the session state. A closed transport stays disconnected.
func (w *WebSocket) setState(state string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		state = StateDisconnected
	}
	w.state = state
}

// dial opens a connection and waits for connection.ack.
func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	w.setState(StateConnecting)
	w.log.Infow("Connecting to ingestion endpoint", "url", w.cfg.URL)

	headers := http.Header{}
	if w.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	if w.cfg.DeviceID != "" {
		headers.Set("X-Device-Id", w.cfg.DeviceID)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		w.setState(StateDisconnected)
		return nil, classifyDialError(err, resp).WithOp("connect")
	}
	w.setState(StateConnected)

	ack, err := w.awaitAck(conn)
	if err != nil {
		_ = conn.Close()
		w.setState(StateDisconnected)
		return nil, err
	}

	w.mu.Lock()
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		_ = conn.Close()
		return nil, backoff.NewError(backoff.KindNotConnected, ErrClosed).WithOp("connect")
	}
	w.conn = conn
	w.connectionID = ack.ConnectionID
	w.state = StateAuthenticated
	w.mu.Unlock()

	w.log.Infow("Ingestion session established", "connectionId", ack.ConnectionID)
	return conn, nil
}

func (w *WebSocket) awaitAck(conn *websocket.Conn) (Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(w.cfg.HandshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, classifyNetError(fmt.Errorf("failed to read %s: %w", FrameConnectionAck, err)).WithOp("connect")
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, backoff.NewError(backoff.KindFormat, fmt.Errorf("failed to parse %s: %w", FrameConnectionAck, err)).WithOp("connect")
	}
	switch f.Type {
	case FrameConnectionAck:
		return f, nil
	case FrameError:
		return Frame{}, frameError(f).WithOp("connect")
	default:
		return Frame{}, backoff.NewError(backoff.KindBadDeviceResponse, fmt.Errorf("expected %s, got %q", FrameConnectionAck, f.Type)).WithOp("connect")
	}
}

// serve reads from conn until it fails, then reconnects, until Close.
func (w *WebSocket) serve(conn *websocket.Conn) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.serving = false
		w.mu.Unlock()
	}()

	for {
		err := w.readLoop(conn)
		if w.ctx.Err() != nil {
			return
		}

		w.log.Warnw("Connection to ingestion endpoint lost", "error", err)
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.state = StateReconnecting
		w.mu.Unlock()
		_ = conn.Close()
		w.failPending(backoff.NewError(backoff.KindNotConnected, err))

		conn, err = w.reconnect()
		if err != nil {
			if w.ctx.Err() == nil {
				w.log.Errorw("Giving up reconnecting to ingestion endpoint", "error", err)
				w.setState(StateDisconnected)
			}
			return
		}
	}
}

func (w *WebSocket) reconnect() (*websocket.Conn, error) {
	b := w.policy.BackOff(backoff.ModeNormal)

	var conn *websocket.Conn
	err := cbackoff.RetryNotify(func() error {
		c, err := w.dial(w.ctx)
		if err != nil {
			w.setState(StateReconnecting)
			return b.Observe(err)
		}
		conn = c
		return nil
	}, cbackoff.WithContext(b, w.ctx), func(err error, wait time.Duration) {
		w.log.Warnw("Reconnect failed, retrying", "error", err, "wait", wait, "attempt", b.Attempt())
	})
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, w.ctx.Err()
	}
	return conn, nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			w.log.Warnw("Discarding malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case FrameAck:
			w.resolve(f.ID, nil)
		case FrameError:
			w.resolve(f.ID, frameError(f).WithOp("send"))
		default:
			w.log.Debugw("Ignoring frame", "type", f.Type)
		}
	}
}

func (w *WebSocket) write(conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return backoff.NewError(backoff.KindFormat, err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) resolve(id string, err error) {
	w.mu.Lock()
	ch, ok := w.pending[id]
	if ok {
		delete(w.pending, id)
	}
	w.mu.Unlock()

	if !ok {
		w.log.Debugw("Ack for unknown message", "id", id)
		return
	}
	ch <- err
}

func (w *WebSocket) failPending(err error) {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]chan error)
	w.mu.Unlock()

	for _, ch := range pending {
		ch <- err
	}
}

// frameError turns an error frame into a classified error. Unknown kind
// names are kept as KindUnknown and fall through to the code.
func frameError(f Frame) *backoff.Error {
	msg := f.Message
	if msg == "" {
		msg = "endpoint rejected the request"
	}
	return &backoff.Error{
		Kind: backoff.ParseKind(f.Error),
		Code: backoff.Code(f.Code),
		Err:  errors.New(msg),
	}
}

func classifyDialError(err error, resp *http.Response) *backoff.Error {
	if resp != nil {
		var kind backoff.Kind
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = backoff.KindUnauthorized
		case http.StatusNotFound:
			kind = backoff.KindDeviceNotFound
		case http.StatusTooManyRequests:
			kind = backoff.KindThrottling
		case http.StatusInternalServerError:
			kind = backoff.KindInternalServer
		case http.StatusServiceUnavailable, http.StatusBadGateway:
			kind = backoff.KindServiceUnavailable
		case http.StatusGatewayTimeout:
			kind = backoff.KindGatewayTimeout
		}
		if kind != backoff.KindUnknown {
			return backoff.NewError(kind, fmt.Errorf("%w (status %d)", err, resp.StatusCode))
		}
	}
	return classifyNetError(err)
}

func classifyNetError(err error) *backoff.Error {
	var classified *backoff.Error
	if errors.As(err, &classified) {
		return classified
	}
	if code, ok := backoff.CodeOf(err); ok {
		return backoff.NewCodeError(code, err)
	}
	if websocket.IsUnexpectedCloseError(err) || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return backoff.NewError(backoff.KindNotConnected, err)
	}
	return &backoff.Error{Err: err}
}
