// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderExposesGauges(t *testing.T) {
	backendUp := true
	p, err := NewProvider(Gauges{
		InteractiveSessions:          func() int64 { return 3 },
		InteractiveBackendRegistered: func() bool { return backendUp },
		TelephonyCalls:               func() int64 { return 7 },
		TelephonyBackendRegistered:   func() bool { return false },
	})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "streamproxy_proxy_sessions"))
	assert.True(t, strings.Contains(body, "streamproxy_proxy_backend_registered"))
	assert.True(t, strings.Contains(body, "streamproxy_call_calls"))
	assert.True(t, strings.Contains(body, "streamproxy_call_backend_registered"))
}

func TestBoolToInt64(t *testing.T) {
	assert.Equal(t, int64(1), boolToInt64(true))
	assert.Equal(t, int64(0), boolToInt64(false))
}
