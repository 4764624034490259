// Copyright 2025 Antfly, Inc.
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

package weaver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServerConfig holds the HTTP serving knobs.
type ServerConfig struct {
	Addr  string
	Queue DecodeQueueConfig

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the serving defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr: ":7311",
		Queue: DecodeQueueConfig{
			MaxConcurrent:  1,
			MaxQueueSize:   256,
			RequestTimeout: 30 * time.Second,
		},
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server exposes a translator over HTTP.
type Server struct {
	config     ServerConfig
	translator *Translator
	queue      *DecodeQueue
	logger     *zap.Logger
}

// NewServer creates a server around an existing translator.
func NewServer(config ServerConfig, translator *Translator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Addr == "" {
		config.Addr = DefaultServerConfig().Addr
	}
	return &Server{
		config:     config,
		translator: translator,
		queue:      NewDecodeQueue(config.Queue, logger),
		logger:     logger,
	}
}

// TranslateRequest is the POST /translate body.
type TranslateRequest struct {
	Text string `json:"text"`
}

// TranslateResponse is the POST /translate reply.
type TranslateResponse struct {
	Translation string  `json:"translation"`
	DurationMS  float64 `json:"duration_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /translate", s.handleTranslate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Translation server listening", zap.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down translation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}

	release, err := s.queue.Acquire(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			writeQueueFullResponse(w, time.Second)
		case errors.Is(err, ErrRequestTimeout):
			writeTimeoutResponse(w)
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}
	defer release()

	start := time.Now()
	out, err := s.translator.TranslateLine(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, ErrDecodeInput) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("Translate request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "translation failed"})
		return
	}

	writeJSON(w, http.StatusOK, TranslateResponse{
		Translation: out,
		DurationMS:  float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
