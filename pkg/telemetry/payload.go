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

package telemetry

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/simulated-device/pkg/transport"
)

const (
	// AlertProperty is the application property set on every message. It lets
	// the endpoint route on the alert without parsing the body.
	AlertProperty = "temperatureAlert"
	// AlertThreshold is the temperature above which AlertProperty is "true".
	AlertThreshold = 30.0

	ContentType     = "application/json"
	ContentEncoding = "utf-8"
)

// Sample is one simulated sensor reading.
type Sample struct {
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timeStamp"`
	Humidity    float64   `json:"humidity"`
}

// Sampler produces a reading without a timestamp.
type Sampler func() Sample

// RandomSample draws a temperature in [20, 35) and a humidity in [60, 80).
func RandomSample() Sample {
	return Sample{
		Temperature: 20 + rand.Float64()*15,
		Humidity:    60 + rand.Float64()*20,
	}
}

// Alert reports whether the sample should be flagged.
func (s Sample) Alert() bool {
	return s.Temperature > AlertThreshold
}

// NewMessage encodes s as a JSON telemetry message with a fresh id.
func NewMessage(s Sample) (transport.Message, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return transport.Message{}, err
	}

	return transport.Message{
		ID:              uuid.NewString(),
		Body:            body,
		ContentType:     ContentType,
		ContentEncoding: ContentEncoding,
		Properties: map[string]string{
			AlertProperty: strconv.FormatBool(s.Alert()),
		},
	}, nil
}
