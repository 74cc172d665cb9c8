package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muse/internal/agents"
	museerrors "muse/internal/errors"
	"muse/internal/logging"
	"muse/internal/provider"
	"muse/internal/storage"
	"muse/internal/usage"
)

type fakeLedger struct {
	mu       sync.Mutex
	cap      int
	count    int
	releases int
	reserves int
}

func (l *fakeLedger) Reserve(ctx context.Context, userID string, cost float64) (usage.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserves++
	if l.count >= l.cap {
		return usage.Reservation{Granted: false, ResetAt: time.Now().Add(time.Hour)}, nil
	}
	l.count++
	return usage.Reservation{Granted: true}, nil
}

func (l *fakeLedger) Release(ctx context.Context, userID string, cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	l.count--
	return nil
}

func (l *fakeLedger) Usage(ctx context.Context, userID string, day time.Time) (usage.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return usage.Record{UserID: userID, Day: usage.DayKey(day), Count: l.count}, nil
}

type fakeGenerator struct {
	calls  int
	result *provider.Result
	err    error
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "image/png", nil
}

type failingMapper struct{}

func (failingMapper) Upload(context.Context, storage.UploadRequest) (storage.UploadResult, error) {
	return storage.UploadResult{}, errors.New("bucket unreachable")
}

func (failingMapper) Delete(context.Context, string) error { return nil }

func imageJob() Job {
	return Job{
		JobID:          "job-1",
		ConversationID: "conv-1",
		UserID:         "user-1",
		AgentType:      agents.TypeImageGeneration,
		Params:         map[string]any{"prompt": "a lion in the savanna"},
		StartedAt:      time.Now(),
	}
}

func newExecutor(ledger usage.Ledger, gen provider.Generator, fetcher storage.Fetcher, mapper storage.Mapper) *Executor {
	return New(agents.DefaultCatalog(), ledger, gen, fetcher, mapper, nil, logging.Nop())
}

func TestExecuteHappyPath(t *testing.T) {
	ledger := &fakeLedger{cap: 5}
	gen := &fakeGenerator{result: &provider.Result{
		ResultRef:   "https://provider.example.com/tmp/abc?expires=60",
		ContentType: "image/png",
		Title:       "Lion",
		RawMetadata: `{"type":"image","url":"x","title":"Lion"}`,
	}}
	mapper := storage.NewInMemoryMapper("https://cdn.example.com")

	artifact, err := newExecutor(ledger, gen, &fakeFetcher{data: []byte("png bytes")}, mapper).Execute(context.Background(), imageJob())
	require.NoError(t, err)

	assert.NotEmpty(t, artifact.ArtifactID)
	assert.Equal(t, "job-1", artifact.SourceJobID)
	assert.Equal(t, "Lion", artifact.Title)
	assert.Contains(t, artifact.DurableURL, "https://cdn.example.com/artifacts/")
	assert.NotContains(t, artifact.DurableURL, "provider.example.com", "ephemeral URL must never leak into the artifact")
	assert.Equal(t, 1, ledger.count)
	assert.Zero(t, ledger.releases)
}

func TestExecuteRejectsInvalidParamsBeforeReserving(t *testing.T) {
	ledger := &fakeLedger{cap: 5}
	gen := &fakeGenerator{}
	job := imageJob()
	job.Params = map[string]any{"prompt": ""}

	_, err := newExecutor(ledger, gen, &fakeFetcher{}, storage.NewInMemoryMapper("")).Execute(context.Background(), job)
	var validationErr *museerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Zero(t, ledger.reserves, "invalid params must not consume quota")
	assert.Zero(t, gen.calls)
}

func TestExecuteQuotaExhaustedSkipsProvider(t *testing.T) {
	ledger := &fakeLedger{cap: 0}
	gen := &fakeGenerator{}

	_, err := newExecutor(ledger, gen, &fakeFetcher{}, storage.NewInMemoryMapper("")).Execute(context.Background(), imageJob())
	var quotaErr *museerrors.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "user-1", quotaErr.UserID)
	assert.False(t, quotaErr.ResetAt.IsZero())
	assert.Zero(t, gen.calls, "provider must not be contacted when quota is exhausted")
	assert.Zero(t, ledger.count, "denied reservation leaves the record unchanged")
}

func TestExecuteProviderFailureReleasesReservation(t *testing.T) {
	ledger := &fakeLedger{cap: 5}
	gen := &fakeGenerator{err: &museerrors.ProviderError{Provider: "fake", Kind: museerrors.ProviderErrServer}}

	_, err := newExecutor(ledger, gen, &fakeFetcher{}, storage.NewInMemoryMapper("")).Execute(context.Background(), imageJob())
	var provErr *museerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 1, ledger.releases)
	assert.Zero(t, ledger.count)
}

func TestExecuteFetchFailureIsStorageError(t *testing.T) {
	ledger := &fakeLedger{cap: 5}
	gen := &fakeGenerator{result: &provider.Result{ResultRef: "https://provider.example.com/tmp/abc"}}

	_, err := newExecutor(ledger, gen, &fakeFetcher{err: errors.New("link expired")}, storage.NewInMemoryMapper("")).Execute(context.Background(), imageJob())
	var uploadErr *museerrors.StorageUploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "job-1", uploadErr.JobID)
	assert.Equal(t, 1, ledger.releases)
}

func TestExecuteUploadFailureIsJobFailure(t *testing.T) {
	ledger := &fakeLedger{cap: 5}
	gen := &fakeGenerator{result: &provider.Result{ResultRef: "https://provider.example.com/tmp/abc"}}

	_, err := newExecutor(ledger, gen, &fakeFetcher{data: []byte("png")}, failingMapper{}).Execute(context.Background(), imageJob())
	var uploadErr *museerrors.StorageUploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, 1, gen.calls, "generation itself succeeded")
	assert.Equal(t, 1, ledger.releases, "unpersistable artifact releases the reservation")
}

func TestExecuteUnknownAgentType(t *testing.T) {
	job := imageJob()
	job.AgentType = agents.Type("video-generation")

	_, err := newExecutor(&fakeLedger{cap: 5}, &fakeGenerator{}, &fakeFetcher{}, storage.NewInMemoryMapper("")).Execute(context.Background(), job)
	var validationErr *museerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "agentType", validationErr.Field)
}
