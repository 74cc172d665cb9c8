// Package storage abstracts durable object storage for generated artifacts.
// Provider result URLs expire after a short window; everything persisted by
// the pipeline must first pass through a Mapper so only durable URLs ever
// reach the document store.
package storage

import "context"

// UploadRequest captures the payload the executor re-uploads after a
// successful generation.
type UploadRequest struct {
	Name        string
	ContentType string
	Data        []byte
	SourceJobID string
}

// UploadResult contains the normalized durable metadata.
type UploadResult struct {
	StorageKey  string
	DurableURL  string
	ContentHash string
	SizeBytes   uint64
}

// Mapper abstracts the underlying object store so executor logic stays unit
// testable.
type Mapper interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	Delete(ctx context.Context, storageKey string) error
}

// Fetcher downloads the payload behind an ephemeral provider URL.
type Fetcher interface {
	Fetch(ctx context.Context, ephemeralURL string) (data []byte, contentType string, err error)
}
