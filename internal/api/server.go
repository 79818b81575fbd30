// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package api carries the HTTP surface: the websocket endpoint, health,
// and metrics. The notification query and mutation surface lives in an
// external façade; this process only exposes carrier plumbing.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/config"
	"github.com/calyxhealth/calyx/internal/logging"
)

// NewRouter assembles the chi router: request id, panic recovery, CORS,
// per-IP rate limiting, then the endpoints.
func NewRouter(cfg config.ServerConfig, wsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	if cfg.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", wsHandler)
	return r
}

// Server is the suture-run HTTP listener.
type Server struct {
	cfg     config.ServerConfig
	handler http.Handler
	logger  zerolog.Logger
}

// NewServer wraps the handler for supervision.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logging.With().Str("component", "http-server").Logger(),
	}
}

// String identifies the server in supervisor logs.
func (s *Server) String() string { return "http-server" }

// Serve runs the listener until the context is canceled, then shuts
// down gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("http server shutdown failed")
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
