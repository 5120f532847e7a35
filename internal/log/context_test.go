// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithTenant(ctx, "acme")
	ctx = ContextWithJobID(ctx, "job-9")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "acme", TenantFromContext(ctx))
	assert.Equal(t, "job-9", JobIDFromContext(ctx))
}

func TestContextEmpty(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	assert.Empty(t, TenantFromContext(nil)) //nolint:staticcheck // nil ctx tolerated
	assert.Empty(t, JobIDFromContext(context.Background()))
}

func TestWithContextEnrichment(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := ContextWithTenant(context.Background(), "acme")
	ctx = ContextWithJobID(ctx, "job-9")

	enriched := WithContext(ctx, logger)
	enriched.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "acme", entry["tenant"])
	assert.Equal(t, "job-9", entry["job_id"])
}

func TestWithContextNoFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	plain := WithContext(context.Background(), logger)
	plain.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, hasTenant := entry["tenant"]
	assert.False(t, hasTenant)
}
