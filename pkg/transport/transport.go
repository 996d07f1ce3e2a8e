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

// Package transport contains the device-to-endpoint transports and the
// narrow interfaces the retry core consumes from them.
package transport

import (
	"context"
	"errors"
)

// Transport state tags reported by CurrentState. Which of them count as
// operationally connected is decided by the consumer.
const (
	StateDisconnected  = "disconnected"
	StateConnecting    = "connecting"
	StateReconnecting  = "reconnecting"
	StateConnected     = "connected"
	StateAuthenticated = "authenticated"
)

// ErrClosed is returned by operations on a transport after Close.
var ErrClosed = errors.New("transport closed")

// Message is a single telemetry message.
type Message struct {
	ID              string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Properties      map[string]string
}

// Sender sends messages. Returned errors should be *backoff.Error values
// carrying a kind or a code so the retry policy can classify them.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// StateQuerier reports the transport's own view of its connection as an
// opaque tag.
type StateQuerier interface {
	CurrentState(ctx context.Context) (string, error)
}

// Transport is a connection-oriented Sender.
type Transport interface {
	Sender
	StateQuerier
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}
