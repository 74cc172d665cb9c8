package confirm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muse/internal/agents"
	"muse/internal/executor"
	"muse/internal/intent"
	"muse/internal/logging"
	"muse/internal/metadata"
	"muse/internal/persist"
	"muse/internal/provider"
	"muse/internal/storage"
	"muse/internal/usage"
)

type stubGenerator struct {
	metadata string
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Generate(ctx context.Context, req provider.Request) (*provider.Result, error) {
	return &provider.Result{
		ResultRef:   "https://provider.example.com/tmp/" + req.JobID,
		ContentType: "image/png",
		Title:       "Lion",
		RawMetadata: g.metadata,
	}, nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return []byte("png bytes"), "image/png", nil
}

func newTestPipeline(store persist.DocumentStore, rawMetadata string) *Pipeline {
	pipeline, _ := newTestPipelineWithMapper(store, rawMetadata)
	return pipeline
}

func newTestPipelineWithMapper(store persist.DocumentStore, rawMetadata string) (*Pipeline, *storage.InMemoryMapper) {
	mapper := storage.NewInMemoryMapper("https://cdn.example.com")
	exec := executor.New(agents.DefaultCatalog(), usage.NewMemoryLedger(10),
		&stubGenerator{metadata: rawMetadata}, stubFetcher{}, mapper, nil, logging.Nop())
	pipeline := NewPipeline(exec, metadata.NewValidator(logging.Nop()),
		persist.NewCoordinator(store, logging.Nop()), mapper, logging.Nop())
	return pipeline, mapper
}

func TestPipelineEndToEnd(t *testing.T) {
	store := persist.NewMemoryStore()
	rawMetadata := `{"type":"image","url":"https://cdn.example.com/a.png","title":"Lion"}`
	controller, err := NewController(newTestPipeline(store, rawMetadata), nil, logging.Nop(), Options{})
	require.NoError(t, err)

	detector := intent.NewDetector(agents.DefaultCatalog())
	suggestion := detector.Detect("Erstelle ein Bild von einem Löwen")
	require.NotNil(t, suggestion)
	assert.Equal(t, agents.TypeImageGeneration, suggestion.AgentType)
	assert.GreaterOrEqual(t, suggestion.Confidence, 0.6)

	state := controller.Suggest("conv-1", "message-1", "user-1", *suggestion)
	jobID, err := controller.Confirm(context.Background(), state.SuggestionID)
	require.NoError(t, err)
	controller.Wait()

	final, ok := controller.Get(state.SuggestionID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, final.Status)
	assert.Contains(t, final.DurableURL, "https://cdn.example.com/artifacts/")

	message, err := store.MessageByJobID(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, message)
	require.NotNil(t, message.Metadata)

	// The stored metadata string must re-validate on read.
	parsed, err := metadata.Reparse(*message.Metadata)
	require.NoError(t, err)
	result := metadata.NewValidator(logging.Nop()).Validate(parsed, "image")
	assert.True(t, result.OK)

	material, err := store.MaterialByJobID(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, material)
	assert.Equal(t, message.SourceJobID, material.SourceJobID)
	assert.Equal(t, 1, store.MessageCount())
	assert.Equal(t, 1, store.MaterialCount())
}

// brokenStore fails every message insert with a non-conflict error, so the
// commit fails terminally.
type brokenStore struct {
	*persist.MemoryStore
}

func (s *brokenStore) InsertMessage(ctx context.Context, record persist.ChatMessageRecord) error {
	return fmt.Errorf("disk full")
}

func TestPipelineDeletesBlobWhenCommitFails(t *testing.T) {
	store := &brokenStore{MemoryStore: persist.NewMemoryStore()}
	rawMetadata := `{"type":"image","url":"https://cdn.example.com/a.png","title":"Lion"}`
	pipeline, mapper := newTestPipelineWithMapper(store, rawMetadata)
	controller, err := NewController(pipeline, nil, logging.Nop(), Options{})
	require.NoError(t, err)

	state := controller.Suggest("conv-1", "message-1", "user-1", imageSuggestion())
	_, err = controller.Confirm(context.Background(), state.SuggestionID)
	require.NoError(t, err)
	controller.Wait()

	final, ok := controller.Get(state.SuggestionID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, final.Status)

	// The upload is content-addressed, so the key is derivable from the
	// fetched payload. The blob must be reclaimed once nothing can ever
	// reference it.
	sum := sha256.Sum256([]byte("png bytes"))
	key := fmt.Sprintf("artifacts/%s", hex.EncodeToString(sum[:]))
	_, stillThere := mapper.Bytes(key)
	assert.False(t, stillThere, "orphaned blob must be deleted after a failed commit")
}

// halfBrokenStore lets the message through and fails the material insert,
// leaving a persisted row that references the artifact.
type halfBrokenStore struct {
	*persist.MemoryStore
}

func (s *halfBrokenStore) InsertMaterial(ctx context.Context, record persist.LibraryMaterialRecord) error {
	return fmt.Errorf("disk full")
}

func TestPipelineKeepsBlobWhenHalfCommitted(t *testing.T) {
	store := &halfBrokenStore{MemoryStore: persist.NewMemoryStore()}
	rawMetadata := `{"type":"image","url":"https://cdn.example.com/a.png","title":"Lion"}`
	pipeline, mapper := newTestPipelineWithMapper(store, rawMetadata)
	controller, err := NewController(pipeline, nil, logging.Nop(), Options{})
	require.NoError(t, err)

	state := controller.Suggest("conv-1", "message-1", "user-1", imageSuggestion())
	_, err = controller.Confirm(context.Background(), state.SuggestionID)
	require.NoError(t, err)
	controller.Wait()

	final, ok := controller.Get(state.SuggestionID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, final.Status)

	// The chat message half was written and points at the durable URL, so
	// the blob must survive.
	sum := sha256.Sum256([]byte("png bytes"))
	key := fmt.Sprintf("artifacts/%s", hex.EncodeToString(sum[:]))
	_, stillThere := mapper.Bytes(key)
	assert.True(t, stillThere, "a referenced blob must not be deleted")
}

func TestPipelinePersistsWithoutMetadataOnRejection(t *testing.T) {
	store := persist.NewMemoryStore()
	// Missing required title: the validator rejects it, the write proceeds.
	controller, err := NewController(newTestPipeline(store, `{"type":"image","url":"https://x"}`), nil, logging.Nop(), Options{})
	require.NoError(t, err)

	state := controller.Suggest("conv-1", "message-1", "user-1", imageSuggestion())
	jobID, err := controller.Confirm(context.Background(), state.SuggestionID)
	require.NoError(t, err)
	controller.Wait()

	final, ok := controller.Get(state.SuggestionID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, final.Status, "metadata rejection must not fail the job")

	message, err := store.MessageByJobID(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, message)
	assert.Nil(t, message.Metadata)
}
