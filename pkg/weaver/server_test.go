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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	m := &scriptedModel{logits: [][]float32{
		{0, 0, 0, 0, 1, 0},
		{0, 0, 1, 0, 0, 0},
	}}
	tr, err := NewTranslator(testTranslatorConfig(t, m))
	require.NoError(t, err)
	return NewServer(DefaultServerConfig(), tr, zaptest.NewLogger(t))
}

func TestServerTranslate(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/translate",
		strings.NewReader(`{"text":"hello world"}`))
	rec := httptest.NewRecorder()
	s.handleTranslate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TranslateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hello", resp.Translation)
}

func TestServerTranslateBadRequest(t *testing.T) {
	s := newTestServer(t)

	for name, body := range map[string]string{
		"malformed": `{"text":`,
		"empty":     `{"text":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/translate", strings.NewReader(body))
			rec := httptest.NewRecorder()
			s.handleTranslate(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServerTranslateOversize(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/translate",
		strings.NewReader(`{"text":"a a a a a a a a a"}`))
	rec := httptest.NewRecorder()
	s.handleTranslate(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServerQueueFull(t *testing.T) {
	s := newTestServer(t)
	s.queue.maxQueueSize = 1
	// Park the only slot and fill the single queue position.
	release, err := s.queue.Acquire(context.Background())
	require.NoError(t, err)
	defer release()
	s.queue.currentQueued.Add(1)
	defer s.queue.currentQueued.Add(-1)

	req := httptest.NewRequest(http.MethodPost, "/translate",
		strings.NewReader(`{"text":"hello"}`))
	rec := httptest.NewRecorder()
	s.handleTranslate(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestServerStats(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats DecodeQueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Zero(t, stats.TotalProcessed)
}
