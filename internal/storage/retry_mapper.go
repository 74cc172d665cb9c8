package storage

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryingMapper wraps a mapper and retries best-effort cleanup operations.
// Uploads are not retried here; the executor owns upload failure semantics.
type RetryingMapper struct {
	delegate     Mapper
	buildBackoff func() backoff.BackOff
}

// NewRetryingMapper creates a mapper that retries Delete.
func NewRetryingMapper(delegate Mapper, factory func() backoff.BackOff) *RetryingMapper {
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 3 * time.Second
			return b
		}
	}
	return &RetryingMapper{delegate: delegate, buildBackoff: factory}
}

func (m *RetryingMapper) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	return m.delegate.Upload(ctx, req)
}

func (m *RetryingMapper) Delete(ctx context.Context, key string) error {
	b := backoff.WithContext(m.buildBackoff(), ctx)
	return backoff.Retry(func() error { return m.delegate.Delete(ctx, key) }, b)
}

var _ Mapper = (*RetryingMapper)(nil)
