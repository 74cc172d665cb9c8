// Package provider defines the generation provider contract. A provider
// accepts generation parameters and returns an ephemeral result reference;
// it never touches durable storage or the document store.
package provider

import (
	"context"

	"muse/internal/agents"
)

// Request carries one generation submission.
type Request struct {
	JobID     string
	AgentType agents.Type
	Params    map[string]any
}

// Result describes a completed generation. ResultRef is an ephemeral URL
// with a short validity window; callers must re-upload the payload to
// durable storage before persisting anything.
type Result struct {
	ResultRef   string
	ContentType string
	Title       string
	RawMetadata string // provider metadata as JSON text, unvalidated
}

// Generator is the submit contract of one provider endpoint. Failures are
// reported as *errors.ProviderError with the provider's error taxonomy
// (timeout, quota, invalid_request, server_error).
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
}
