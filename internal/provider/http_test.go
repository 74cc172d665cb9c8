package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muse/internal/agents"
	museerrors "muse/internal/errors"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *HTTPGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gen, err := NewHTTPGenerator(HTTPConfig{
		Name:        "primary",
		Endpoint:    server.URL,
		APIKey:      "secret",
		CallTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return gen
}

func TestGenerateSuccess(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generations", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req["job_id"])
		assert.Equal(t, "image-generation", req["agent_type"])

		json.NewEncoder(w).Encode(map[string]any{
			"result_url":   "https://ephemeral.example.com/tmp/abc.png",
			"content_type": "image/png",
			"title":        "Ein Löwe",
			"metadata":     map[string]any{"type": "image", "url": "x", "title": "Ein Löwe"},
		})
	})

	result, err := gen.Generate(context.Background(), Request{
		JobID:     "job-1",
		AgentType: agents.TypeImageGeneration,
		Params:    map[string]any{"prompt": "ein löwe"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://ephemeral.example.com/tmp/abc.png", result.ResultRef)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Contains(t, result.RawMetadata, `"type":"image"`)
}

func TestGenerateMapsStatusCodesToKinds(t *testing.T) {
	cases := []struct {
		status int
		kind   museerrors.ProviderErrorKind
	}{
		{http.StatusGatewayTimeout, museerrors.ProviderErrTimeout},
		{http.StatusTooManyRequests, museerrors.ProviderErrQuota},
		{http.StatusBadRequest, museerrors.ProviderErrInvalidRequest},
		{http.StatusInternalServerError, museerrors.ProviderErrServer},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := gen.Generate(context.Background(), Request{JobID: "job-1"})
			var provErr *museerrors.ProviderError
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tc.kind, provErr.Kind)
			assert.Equal(t, "primary", provErr.Provider)
		})
	}
}

func TestGenerateTimesOutPerCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	gen, err := NewHTTPGenerator(HTTPConfig{
		Name:        "slow",
		Endpoint:    server.URL,
		CallTimeout: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), Request{JobID: "job-1"})
	var provErr *museerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, museerrors.ProviderErrTimeout, provErr.Kind)
	assert.True(t, museerrors.IsTransient(err))
}

func TestGenerateRejectsMissingResultURL(t *testing.T) {
	gen := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content_type": "image/png"})
	})

	_, err := gen.Generate(context.Background(), Request{JobID: "job-1"})
	var provErr *museerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, museerrors.ProviderErrServer, provErr.Kind)
}
