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

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/simulated-device/pkg/backoff"
)

// RetryFile is the YAML form of the retry options. Intervals are in
// milliseconds; omitted fields keep their current value.
//
//	maximum: 5
//	regular:
//	  initialInterval: 100
//	  minimumInterval: 100
//	  maximumInterval: 10000
//	throttled:
//	  initialInterval: 5000
//	  minimumInterval: 10000
//	  maximumInterval: 60000
type RetryFile struct {
	Maximum   *int            `yaml:"maximum"`
	Regular   *ParametersFile `yaml:"regular"`
	Throttled *ParametersFile `yaml:"throttled"`
}

type ParametersFile struct {
	InitialInterval *int64 `yaml:"initialInterval"`
	MinimumInterval *int64 `yaml:"minimumInterval"`
	MaximumInterval *int64 `yaml:"maximumInterval"`
}

// ParseRetryFile decodes data and applies it on top of base.
func ParseRetryFile(data []byte, base backoff.Config) (backoff.Config, error) {
	var f RetryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("%w: parsing retry options: %w", ErrInvalidConfig, err)
	}

	if f.Maximum != nil {
		base.MaxAttempts = *f.Maximum
	}
	f.Regular.apply(&base.Regular)
	f.Throttled.apply(&base.Throttled)

	return base, nil
}

func (p *ParametersFile) apply(to *backoff.Parameters) {
	if p == nil {
		return
	}
	if p.InitialInterval != nil {
		to.InitialInterval = time.Duration(*p.InitialInterval) * time.Millisecond
	}
	if p.MinimumInterval != nil {
		to.MinimumInterval = time.Duration(*p.MinimumInterval) * time.Millisecond
	}
	if p.MaximumInterval != nil {
		to.MaximumInterval = time.Duration(*p.MaximumInterval) * time.Millisecond
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	c.Retry, err = ParseRetryFile(data, c.Retry)
	return err
}
