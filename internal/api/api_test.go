// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/config"
	"github.com/cubhouse/mom/internal/deriver"
	"github.com/cubhouse/mom/internal/jobs"
	"github.com/cubhouse/mom/internal/storage"
)

func testServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()

	cat, err := catalog.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store := storage.NewMemory(0)
	reg := jobs.NewRegistry()
	exec := deriver.New(deriver.Config{Env: cfg.Env, EncodeSlots: cfg.EncodeSlots}, cat, store, reg)

	ts := httptest.NewServer(NewServer(cfg, exec, reg, cat, store).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func defaultTestConfig() config.Config {
	cfg := config.Default()
	cfg.RateLimit.Requests = 0 // disabled unless the test turns it on
	return cfg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRegisterInputThenDerive(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	// Upload a source file.
	resp, err := http.Post(ts.URL+"/v1/tenants/acme/inputs?path=docs/readme.md",
		"text/markdown", strings.NewReader("# hello"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var reg struct {
		Path        string `json:"path"`
		ContentHash string `json:"content_hash"`
		Size        int64  `json:"size"`
	}
	decodeBody(t, resp, &reg)
	assert.Equal(t, "docs/readme.md", reg.Path)
	assert.Len(t, reg.ContentHash, 16)
	assert.Equal(t, int64(len("# hello")), reg.Size)

	// Derive passthrough against the registered input.
	resp = postJSON(t, ts.URL+"/v1/tenants/acme/derive", map[string]any{
		"path":       "docs/readme.md",
		"derivation": map[string]any{"kind": "passthrough"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var done struct {
		Status     string `json:"status"`
		OutputSize int64  `json:"output_size"`
		Key        string `json:"destination_key"`
	}
	decodeBody(t, resp, &done)
	assert.Equal(t, "done", done.Status)
	assert.Equal(t, int64(len("# hello")), done.OutputSize)
	assert.Equal(t, fmt.Sprintf("dev/derived/%s.md", reg.ContentHash), done.Key)
}

func TestDeriveUnknownInput(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	resp := postJSON(t, ts.URL+"/v1/tenants/acme/derive", map[string]any{
		"path":       "never/registered.png",
		"derivation": map[string]any{"kind": "passthrough"},
	})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeriveBadRequests(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	// Unknown derivation kind.
	resp := postJSON(t, ts.URL+"/v1/tenants/acme/derive", map[string]any{
		"path":       "a.png",
		"derivation": map[string]any{"kind": "hologram"},
	})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unsupported codec/container combination.
	resp = postJSON(t, ts.URL+"/v1/tenants/acme/derive", map[string]any{
		"path": "v/clip.mp4",
		"derivation": map[string]any{
			"kind": "video", "container": "mp4", "video_codec": "vp9",
		},
	})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Missing path.
	resp = postJSON(t, ts.URL+"/v1/tenants/acme/derive", map[string]any{
		"derivation": map[string]any{"kind": "passthrough"},
	})
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTranscodeRejectsNonVideoAsErrorEvent(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	resp, err := http.Post(ts.URL+"/v1/tenants/acme/inputs?path=img/a.png",
		"image/png", strings.NewReader("not really a png"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/tenants/acme/transcode", map[string]any{
		"path":       "img/a.png",
		"derivation": map[string]any{"kind": "bitmap", "codec": "webp"},
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var ev struct {
		Event   string `json:"event"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &ev))
	assert.Equal(t, "error", ev.Event)
	assert.Contains(t, ev.Message, "video derivations only")
}

func TestListJobsEmpty(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	resp, err := http.Get(ts.URL + "/v1/tenants/acme/jobs")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Jobs []jobs.Snapshot `json:"jobs"`
	}
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Jobs)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "mom_")
}

func TestRequestIDPropagation(t *testing.T) {
	ts := testServer(t, defaultTestConfig())

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))

	// Generated when the client sends none.
	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRateLimiting(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.RateLimit.Requests = 2
	ts := testServer(t, cfg)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		_ = resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)
}
