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

package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
)

// MemorySource returns the currently free system memory in bytes.
type MemorySource func(ctx context.Context) (uint64, error)

// VirtualMemoryFree reads free memory through gopsutil.
func VirtualMemoryFree(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Free, nil
}

// Exporter periodically samples free memory into the free_memory_bytes gauge.
type Exporter struct {
	interval time.Duration
	source   MemorySource
	log      *zap.SugaredLogger
}

// NewExporter creates an exporter. A zero interval defaults to one second and
// a nil source to VirtualMemoryFree.
func NewExporter(interval time.Duration, source MemorySource, log *zap.SugaredLogger) *Exporter {
	if interval <= 0 {
		interval = time.Second
	}
	if source == nil {
		source = VirtualMemoryFree
	}
	return &Exporter{interval: interval, source: source, log: logger.OrNop(log)}
}

// Export samples once.
func (e *Exporter) Export(ctx context.Context) error {
	free, err := e.source(ctx)
	if err != nil {
		e.log.Warnw("Could not read free memory", "error", err)
		return err
	}
	SetFreeMemory(free)
	e.log.Debugw("free memory", "bytes", free)
	return nil
}

// Run exports on every interval until ctx is done.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.Export(ctx)
		}
	}
}
