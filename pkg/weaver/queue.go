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
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the decode queue is at capacity.
	ErrQueueFull = errors.New("decode queue is full")

	// ErrRequestTimeout is returned when a decode request waits longer
	// than the configured timeout.
	ErrRequestTimeout = errors.New("decode request timeout exceeded")
)

// DecodeQueue funnels concurrent translate requests through a bounded
// number of model slots. The model owns one mutable parameter state, so
// the slot count defaults to one; raising it is only safe for models
// that are internally synchronized.
type DecodeQueue struct {
	maxQueueSize int64
	timeout      time.Duration

	sem chan struct{}

	currentQueued  atomic.Int64
	totalProcessed atomic.Int64
	totalRejected  atomic.Int64
	totalTimedOut  atomic.Int64

	logger *zap.Logger
}

// DecodeQueueConfig holds the queue limits.
type DecodeQueueConfig struct {
	// MaxConcurrent model slots; values below 1 become 1.
	MaxConcurrent int
	// MaxQueueSize caps waiting requests; 0 = unlimited.
	MaxQueueSize int
	// RequestTimeout bounds the wait for a slot; 0 = no timeout.
	RequestTimeout time.Duration
}

// NewDecodeQueue creates a decode queue.
func NewDecodeQueue(config DecodeQueueConfig, logger *zap.Logger) *DecodeQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	logger.Info("Decode queue initialized",
		zap.Int("max_concurrent", config.MaxConcurrent),
		zap.Int("max_queue_size", config.MaxQueueSize),
		zap.Duration("timeout", config.RequestTimeout))

	return &DecodeQueue{
		maxQueueSize: int64(config.MaxQueueSize),
		timeout:      config.RequestTimeout,
		sem:          make(chan struct{}, config.MaxConcurrent),
		logger:       logger,
	}
}

// Acquire claims a model slot, waiting in the queue if necessary. The
// returned release function must be called when the request is done.
func (q *DecodeQueue) Acquire(ctx context.Context) (release func(), err error) {
	// The deadline only governs the wait for a slot, not the request
	// itself, so the timeout context can be released on return.
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	// Fast path: a slot is free right now.
	select {
	case q.sem <- struct{}{}:
		return q.makeRelease(), nil
	default:
	}

	// Reserve a queue slot. The CAS loop keeps concurrent arrivals from
	// all passing the capacity check before any of them increments.
	if q.maxQueueSize > 0 {
		for {
			queued := q.currentQueued.Load()
			if queued >= q.maxQueueSize {
				q.totalRejected.Add(1)
				q.logger.Warn("Decode request rejected: queue full",
					zap.Int64("queued", queued))
				return nil, ErrQueueFull
			}
			if q.currentQueued.CompareAndSwap(queued, queued+1) {
				break
			}
		}
	} else {
		q.currentQueued.Add(1)
	}
	queueStart := time.Now()

	select {
	case q.sem <- struct{}{}:
		q.currentQueued.Add(-1)
		q.logger.Debug("Decode request dequeued",
			zap.Duration("wait_time", time.Since(queueStart)))
		return q.makeRelease(), nil

	case <-ctx.Done():
		q.currentQueued.Add(-1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			q.totalTimedOut.Add(1)
			q.logger.Warn("Decode request timed out in queue",
				zap.Duration("wait_time", time.Since(queueStart)))
			return nil, ErrRequestTimeout
		}
		return nil, ctx.Err()
	}
}

func (q *DecodeQueue) makeRelease() func() {
	return func() {
		q.totalProcessed.Add(1)
		<-q.sem
	}
}

// Stats returns the queue counters.
func (q *DecodeQueue) Stats() DecodeQueueStats {
	return DecodeQueueStats{
		CurrentQueued:  q.currentQueued.Load(),
		TotalProcessed: q.totalProcessed.Load(),
		TotalRejected:  q.totalRejected.Load(),
		TotalTimedOut:  q.totalTimedOut.Load(),
	}
}

// DecodeQueueStats holds queue counters.
type DecodeQueueStats struct {
	CurrentQueued  int64 `json:"current_queued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalRejected  int64 `json:"total_rejected"`
	TotalTimedOut  int64 `json:"total_timed_out"`
}

// writeQueueFullResponse writes a 503 with a Retry-After hint.
func writeQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(`{"error":"decoder overloaded, please retry later"}`))
}

// writeTimeoutResponse writes a 504.
func writeTimeoutResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = w.Write([]byte(`{"error":"decode request timeout exceeded"}`))
}
