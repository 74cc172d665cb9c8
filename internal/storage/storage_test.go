package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muse/internal/logging"
)

func TestInMemoryMapperUpload(t *testing.T) {
	mapper := NewInMemoryMapper("https://cdn.example.com")
	data := []byte("lion artwork bytes")

	result, err := mapper.Upload(context.Background(), UploadRequest{
		Name:        "lion.png",
		ContentType: "image/png",
		Data:        data,
		SourceJobID: "job-1",
	})
	require.NoError(t, err)

	wantHash := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(wantHash[:]), result.ContentHash)
	assert.Equal(t, "artifacts/"+result.ContentHash, result.StorageKey)
	assert.Equal(t, "https://cdn.example.com/artifacts/"+result.ContentHash, result.DurableURL)
	assert.Equal(t, uint64(len(data)), result.SizeBytes)

	stored, ok := mapper.Bytes(result.StorageKey)
	require.True(t, ok)
	assert.Equal(t, data, stored)
}

func TestInMemoryMapperDelete(t *testing.T) {
	mapper := NewInMemoryMapper("")
	result, err := mapper.Upload(context.Background(), UploadRequest{Name: "a.png", ContentType: "image/png", Data: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, mapper.Delete(context.Background(), result.StorageKey))
	_, ok := mapper.Bytes(result.StorageKey)
	assert.False(t, ok)
}

func TestFilesystemMapperUpload(t *testing.T) {
	dir := t.TempDir()
	mapper, err := NewFilesystemMapper(dir, "https://files.example.com")
	require.NoError(t, err)

	data := []byte("png payload")
	result, err := mapper.Upload(context.Background(), UploadRequest{
		Name:        "scene.png",
		ContentType: "image/png",
		Data:        data,
		SourceJobID: "job-7",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.StorageKey, "artifacts/"))
	assert.True(t, strings.HasSuffix(result.StorageKey, ".png"))
	assert.True(t, strings.HasPrefix(result.DurableURL, "https://files.example.com/"))

	onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(result.StorageKey)))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestFilesystemMapperUploadIdempotentByContent(t *testing.T) {
	mapper, err := NewFilesystemMapper(t.TempDir(), "")
	require.NoError(t, err)

	req := UploadRequest{Name: "a.png", ContentType: "image/png", Data: []byte("same bytes")}
	first, err := mapper.Upload(context.Background(), req)
	require.NoError(t, err)
	second, err := mapper.Upload(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.StorageKey, second.StorageKey)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestFilesystemMapperDelete(t *testing.T) {
	dir := t.TempDir()
	mapper, err := NewFilesystemMapper(dir, "")
	require.NoError(t, err)

	result, err := mapper.Upload(context.Background(), UploadRequest{Name: "a.mp3", ContentType: "audio/mpeg", Data: []byte("audio")})
	require.NoError(t, err)

	require.NoError(t, mapper.Delete(context.Background(), result.StorageKey))
	_, statErr := os.Stat(filepath.Join(dir, filepath.FromSlash(result.StorageKey)))
	assert.True(t, os.IsNotExist(statErr))

	// Deleting a missing key is not an error.
	assert.NoError(t, mapper.Delete(context.Background(), result.StorageKey))
}

type flakyMapper struct {
	failures int
	uploads  int
	deletes  int
}

func (m *flakyMapper) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	m.uploads++
	return UploadResult{StorageKey: "artifacts/ok"}, nil
}

func (m *flakyMapper) Delete(ctx context.Context, key string) error {
	m.deletes++
	if m.deletes <= m.failures {
		return fmt.Errorf("transient delete failure %d", m.deletes)
	}
	return nil
}

func TestRetryingMapperRetriesDelete(t *testing.T) {
	delegate := &flakyMapper{failures: 2}
	mapper := NewRetryingMapper(delegate, func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 4)
	})

	require.NoError(t, mapper.Delete(context.Background(), "artifacts/x"))
	assert.Equal(t, 3, delegate.deletes)
}

func TestRetryingMapperDoesNotRetryUpload(t *testing.T) {
	delegate := &flakyMapper{}
	mapper := NewRetryingMapper(delegate, nil)

	_, err := mapper.Upload(context.Background(), UploadRequest{Name: "a", ContentType: "image/png", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, delegate.uploads)
}

func TestHTTPFetcherFetch(t *testing.T) {
	payload := []byte("downloaded artifact")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5*time.Second, logging.Nop())
	data, contentType, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/png", contentType)
}

func TestHTTPFetcherRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5*time.Second, logging.Nop())
	_, _, err := fetcher.Fetch(context.Background(), server.URL)
	assert.Error(t, err)
}

type recordingObserver struct {
	uploads int
	deletes int
	fetches int
	failed  int
	bytes   uint64
}

func (o *recordingObserver) RecordUpload(_ time.Duration, size uint64, err error) {
	o.uploads++
	o.bytes += size
	if err != nil {
		o.failed++
	}
}

func (o *recordingObserver) RecordDelete(_ time.Duration, err error) {
	o.deletes++
	if err != nil {
		o.failed++
	}
}

func (o *recordingObserver) RecordFetch(_ time.Duration, size uint64, err error) {
	o.fetches++
	o.bytes += size
	if err != nil {
		o.failed++
	}
}

func TestObservedMapperRecordsOperations(t *testing.T) {
	observer := &recordingObserver{}
	mapper := NewObservedMapper(NewInMemoryMapper(""), observer)

	result, err := mapper.Upload(context.Background(), UploadRequest{Name: "a.png", ContentType: "image/png", Data: []byte("abc")})
	require.NoError(t, err)
	require.NoError(t, mapper.Delete(context.Background(), result.StorageKey))

	assert.Equal(t, 1, observer.uploads)
	assert.Equal(t, 1, observer.deletes)
	assert.Equal(t, uint64(3), observer.bytes)
	assert.Equal(t, 0, observer.failed)
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return nil, "", errors.New("upstream unreachable")
}

func TestObservedFetcherRecordsFailure(t *testing.T) {
	observer := &recordingObserver{}
	fetcher := NewObservedFetcher(failingFetcher{}, observer)

	_, _, err := fetcher.Fetch(context.Background(), "https://ephemeral.example.com/a")
	assert.Error(t, err)
	assert.Equal(t, 1, observer.fetches)
	assert.Equal(t, 1, observer.failed)
}

func TestPrometheusObserverRegisters(t *testing.T) {
	observer, err := NewPrometheusObserver("test_storage", prometheus.NewRegistry())
	require.NoError(t, err)
	observer.RecordUpload(time.Millisecond, 10, nil)
	observer.RecordUpload(time.Millisecond, 0, errors.New("boom"))
	observer.RecordDelete(time.Millisecond, nil)
	observer.RecordFetch(time.Millisecond, 20, nil)
}
