package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	museerrors "muse/internal/errors"
	"muse/internal/httpclient"
	"muse/internal/logging"
)

const maxResponseBytes = 1 << 20 // generation responses are descriptors, not payloads

// HTTPConfig configures one provider endpoint.
type HTTPConfig struct {
	Name        string
	Endpoint    string
	APIKey      string
	CallTimeout time.Duration // explicit per-call timeout, not per-pipeline
}

// HTTPGenerator submits generations over HTTP.
type HTTPGenerator struct {
	config HTTPConfig
	client *http.Client
	logger logging.Logger
}

// NewHTTPGenerator builds a provider client guarded by a circuit breaker.
func NewHTTPGenerator(config HTTPConfig, logger logging.Logger) (*HTTPGenerator, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("provider %s: endpoint is required", config.Name)
	}
	if config.Name == "" {
		config.Name = "provider"
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 60 * time.Second
	}
	return &HTTPGenerator{
		config: config,
		client: httpclient.NewWithCircuitBreaker(config.CallTimeout, logger, config.Name),
		logger: logging.OrNop(logger),
	}, nil
}

// Name implements Generator.
func (g *HTTPGenerator) Name() string {
	return g.config.Name
}

type generateRequest struct {
	JobID     string         `json:"job_id"`
	AgentType string         `json:"agent_type"`
	Params    map[string]any `json:"params"`
}

type generateResponse struct {
	ResultURL   string          `json:"result_url"`
	ContentType string          `json:"content_type"`
	Title       string          `json:"title"`
	Metadata    json.RawMessage `json:"metadata"`
	Error       string          `json:"error"`
}

// Generate implements Generator. The per-call timeout is applied here so a
// slow provider cannot stall the state machine indefinitely.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.config.CallTimeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{
		JobID:     req.JobID,
		AgentType: string(req.AgentType),
		Params:    req.Params,
	})
	if err != nil {
		return nil, g.wrap(museerrors.ProviderErrInvalidRequest, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.config.Endpoint+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return nil, g.wrap(museerrors.ProviderErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, g.wrap(museerrors.ProviderErrTimeout, err)
		}
		return nil, g.wrap(museerrors.ProviderErrServer, err)
	}
	defer resp.Body.Close()

	payload, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, g.wrap(museerrors.ProviderErrServer, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, g.statusError(resp.StatusCode, payload)
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, g.wrap(museerrors.ProviderErrServer, fmt.Errorf("decode response: %w", err))
	}
	if decoded.ResultURL == "" {
		return nil, g.wrap(museerrors.ProviderErrServer, fmt.Errorf("response missing result_url"))
	}

	return &Result{
		ResultRef:   decoded.ResultURL,
		ContentType: decoded.ContentType,
		Title:       decoded.Title,
		RawMetadata: string(decoded.Metadata),
	}, nil
}

func (g *HTTPGenerator) statusError(status int, payload []byte) error {
	detail := fmt.Errorf("status %d: %s", status, truncate(payload, 256))
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return g.wrap(museerrors.ProviderErrTimeout, detail)
	case status == http.StatusTooManyRequests:
		return g.wrap(museerrors.ProviderErrQuota, detail)
	case status >= 400 && status < 500:
		return g.wrap(museerrors.ProviderErrInvalidRequest, detail)
	default:
		return g.wrap(museerrors.ProviderErrServer, detail)
	}
}

func (g *HTTPGenerator) wrap(kind museerrors.ProviderErrorKind, err error) error {
	return &museerrors.ProviderError{Provider: g.config.Name, Kind: kind, Err: err}
}

func truncate(payload []byte, limit int) string {
	if len(payload) <= limit {
		return string(payload)
	}
	return string(payload[:limit]) + "..."
}

var _ Generator = (*HTTPGenerator)(nil)
