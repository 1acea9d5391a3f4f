// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
	"github.com/MetaPowerMatrix/streamproxy/internal/proxy"
	"github.com/MetaPowerMatrix/streamproxy/internal/registry"
)

func testServer(t *testing.T) *Server {
	logger, err := commons.NewLogger("error", "")
	require.NoError(t, err)

	interactiveEP := &proxy.Interactive{
		Registry:       registry.NewInteractive(),
		Backend:        proxy.NewBackendSlot(),
		Touch:          &proxy.TouchPlayer{Dir: t.TempDir(), FrameSize: 1024, Pace: time.Millisecond, Logger: logger},
		ChunkThreshold: 16000,
		ReceiveTimeout: time.Second,
		Logger:         logger,
	}
	telephonyEP := &proxy.Telephony{
		Registry:             registry.NewTelephony(),
		Backend:              proxy.NewBackendSlot(),
		ChunkThreshold:       16384,
		AggregateThreshold:   12800,
		ReceiveTimeout:       time.Second,
		WelcomeContainerPath: "",
		Logger:               logger,
	}
	return New(interactiveEP, telephonyEP, logger, nil)
}

func TestHealthzReportsNoBackendsRegistered(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"proxy_backend_registered":false`)
	assert.Contains(t, rec.Body.String(), `"call_backend_registered":false`)
}

func TestProxyStatusRoute(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/proxy/status", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_count":0`)
}

func TestCallCleanupRoute(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/call/cleanup", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":0`)
}

func TestMetricsRouteAbsentWhenHandlerNil(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
