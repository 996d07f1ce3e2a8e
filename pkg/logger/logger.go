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

// Package logger configures the process-wide zap logger and hands out
// component-scoped sugared loggers.
package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a textual log level as accepted by LOGGING_LEVEL.
type Level string

// Format is a textual log format as accepted by LOGGING_FORMAT.
type Format string

const (
	DebugLevel Level = "DEBUG"
	InfoLevel  Level = "INFO"
	WarnLevel  Level = "WARN"
	ErrorLevel Level = "ERROR"
	// ProductionLevel is an alias for InfoLevel.
	ProductionLevel Level = "PRODUCTION"

	// FormatConsole is the human-readable, pipe-separated format.
	FormatConsole Format = "CONSOLE"
	// FormatJSON is the structured format for log shippers.
	FormatJSON Format = "JSON"
)

var (
	initOnce    sync.Once
	initialized bool
	mu          sync.RWMutex
)

func zapLevel(level Level) zapcore.Level {
	switch Level(strings.ToUpper(string(level))) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func parseFormat(raw string, fallback Format) Format {
	switch f := Format(strings.ToUpper(raw)); f {
	case FormatConsole, FormatJSON:
		return f
	default:
		return fallback
	}
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000 MST"))
}

// New builds a logger writing to stdout with the given level and format.
func New(level Level, format Format) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if format == FormatConsole {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = timeEncoder
		encoderConfig.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(zapLevel(level)))

	return zap.New(core, zap.AddCaller())
}

// Initialize reads LOGGING_LEVEL and LOGGING_FORMAT and installs the result
// as the zap global logger. Subsequent calls are no-ops.
func Initialize() {
	initOnce.Do(func() {
		rawLevel, _ := env.GetAsString("LOGGING_LEVEL", false, string(ProductionLevel))
		rawFormat, _ := env.GetAsString("LOGGING_FORMAT", false, string(FormatConsole))
		format := parseFormat(rawFormat, FormatConsole)

		l := New(Level(rawLevel), format)
		l.Info("Logger initialized", zap.String("level", rawLevel), zap.String("format", string(format)))
		zap.ReplaceGlobals(l)

		mu.Lock()
		initialized = true
		mu.Unlock()
	})
}

func ensureInitialized() {
	mu.RLock()
	ok := initialized
	mu.RUnlock()
	if !ok {
		Initialize()
	}
}

// For returns a sugared logger named after the component.
func For(component string) *zap.SugaredLogger {
	ensureInitialized()
	return zap.S().Named(component)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}

// Sync flushes any buffered log entries.
func Sync() error {
	return zap.L().Sync()
}
