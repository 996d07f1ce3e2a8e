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
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/simulated-device/pkg/logger"
)

// Server serves /metrics, /live and /ready.
type Server struct {
	srv *http.Server
	log *zap.SugaredLogger
}

// NewServer builds the observability server. ready decides readiness; it may
// be nil.
func NewServer(addr string, ready healthcheck.Check, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(200))
	if ready != nil {
		health.AddReadinessCheck("connectivity", ready)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/live", gin.WrapF(health.LiveEndpoint))
	router.GET("/ready", gin.WrapF(health.ReadyEndpoint))

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger.OrNop(log),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves in the background. fatal is called when the listener fails.
func (s *Server) Start(fatal func(error)) {
	go func() {
		s.log.Infow("Serving metrics and health checks", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("Observability server failed", "error", err)
			if fatal != nil {
				fatal(err)
			}
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
