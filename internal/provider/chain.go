package provider

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	museerrors "muse/internal/errors"
	"muse/internal/logging"
)

// Chain tries an ordered list of generators. Each generator gets the full
// retry policy for transient failures before the chain moves on. A provider
// rejecting the request as invalid stops the chain immediately: a second
// provider would reject the same input.
type Chain struct {
	generators []Generator
	retry      museerrors.RetryConfig
	logger     logging.Logger
}

// NewChain builds a fallback chain over one or more generators.
func NewChain(generators []Generator, retry museerrors.RetryConfig, logger logging.Logger) (*Chain, error) {
	if len(generators) == 0 {
		return nil, fmt.Errorf("fallback chain needs at least one generator")
	}
	return &Chain{generators: generators, retry: retry, logger: logging.OrNop(logger)}, nil
}

// Name joins the member names for log lines.
func (c *Chain) Name() string {
	names := make([]string, len(c.generators))
	for i, g := range c.generators {
		names[i] = g.Name()
	}
	return strings.Join(names, ">")
}

// Generate submits to each member in order until one succeeds.
func (c *Chain) Generate(ctx context.Context, req Request) (*Result, error) {
	var lastErr error
	for i, gen := range c.generators {
		result, err := museerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*Result, error) {
			return gen.Generate(ctx, req)
		}, c.logger)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var provErr *museerrors.ProviderError
		if goerrors.As(err, &provErr) && provErr.Kind == museerrors.ProviderErrInvalidRequest {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if i < len(c.generators)-1 {
			c.logger.Warn("provider %s failed for job %s, falling back to %s: %v",
				gen.Name(), req.JobID, c.generators[i+1].Name(), err)
		}
	}
	return nil, lastErr
}

var _ Generator = (*Chain)(nil)
