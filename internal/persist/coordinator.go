package persist

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	museerrors "muse/internal/errors"
	"muse/internal/executor"
	"muse/internal/logging"
)

// CommitRequest carries everything needed to persist one completed job.
type CommitRequest struct {
	JobID          string
	ConversationID string
	UserID         string
	Artifact       *executor.Artifact
	// Metadata is the sanitized, validated JSON string, or nil when
	// metadata validation failed. The artifact persists either way.
	Metadata *string
}

// CommitResult holds the ids of the two rows belonging to the job.
type CommitResult struct {
	ChatMessageID     string
	LibraryMaterialID string
}

// Coordinator performs the dual write. Commit is idempotent on JobID: the
// second call finds the existing rows and returns their ids; a crash
// between the two writes is healed by retrying only the missing half.
type Coordinator struct {
	store  DocumentStore
	logger logging.Logger
	now    func() time.Time
}

// NewCoordinator wires a Coordinator over a document store.
func NewCoordinator(store DocumentStore, logger logging.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logging.OrNop(logger), now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Commit writes the chat message and the library material for a job,
// skipping any half that already exists.
func (c *Coordinator) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.JobID == "" {
		return CommitResult{}, fmt.Errorf("persist: job id is required")
	}
	if req.Artifact == nil {
		return CommitResult{}, fmt.Errorf("persist: artifact is required")
	}

	existingMsg, existingMat, err := c.lookup(ctx, req.JobID)
	if err != nil {
		return CommitResult{}, err
	}

	result := CommitResult{}
	if existingMsg != nil {
		result.ChatMessageID = existingMsg.ID
	} else {
		result.ChatMessageID, err = c.writeMessage(ctx, req)
		if err != nil {
			return CommitResult{}, err
		}
	}

	if existingMat != nil {
		result.LibraryMaterialID = existingMat.ID
	} else {
		result.LibraryMaterialID, err = c.writeMaterial(ctx, req)
		if err != nil {
			// The message half may have just been written; the next
			// Commit for this job will retry only the material.
			return CommitResult{}, err
		}
	}

	if existingMsg != nil && existingMat != nil {
		c.logger.Debug("commit replay for job %s resolved to existing rows", req.JobID)
	}
	return result, nil
}

// Referenced reports whether any persisted row points at the job's
// artifact. Callers cleaning up storage after a failed commit must keep the
// blob while a row references it; when the lookup itself fails, the blob is
// assumed referenced.
func (c *Coordinator) Referenced(ctx context.Context, jobID string) bool {
	message, material, err := c.lookup(ctx, jobID)
	if err != nil {
		return true
	}
	return message != nil || material != nil
}

func (c *Coordinator) lookup(ctx context.Context, jobID string) (*ChatMessageRecord, *LibraryMaterialRecord, error) {
	var (
		message  *ChatMessageRecord
		material *LibraryMaterialRecord
	)
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		message, err = c.store.MessageByJobID(ctx, jobID)
		return err
	})
	group.Go(func() error {
		var err error
		material, err = c.store.MaterialByJobID(ctx, jobID)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, nil, fmt.Errorf("persist: lookup job %s: %w", jobID, err)
	}
	return message, material, nil
}

func (c *Coordinator) writeMessage(ctx context.Context, req CommitRequest) (string, error) {
	record := ChatMessageRecord{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           "assistant",
		Content:        req.Artifact.DurableURL,
		Type:           MessageTypeArtifact,
		Metadata:       req.Metadata,
		SourceJobID:    req.JobID,
		CreatedAt:      c.now(),
	}
	if err := c.store.InsertMessage(ctx, record); err != nil {
		if existing := c.resolveMessageConflict(ctx, req.JobID, err); existing != "" {
			return existing, nil
		}
		return "", fmt.Errorf("persist: write message for job %s: %w", req.JobID, err)
	}
	return record.ID, nil
}

func (c *Coordinator) writeMaterial(ctx context.Context, req CommitRequest) (string, error) {
	record := LibraryMaterialRecord{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Artifact.Title,
		Type:        string(req.Artifact.AgentType),
		DurableURL:  req.Artifact.DurableURL,
		Metadata:    req.Metadata,
		SourceJobID: req.JobID,
		CreatedAt:   c.now(),
	}
	if err := c.store.InsertMaterial(ctx, record); err != nil {
		if existing := c.resolveMaterialConflict(ctx, req.JobID, err); existing != "" {
			return existing, nil
		}
		return "", fmt.Errorf("persist: write material for job %s: %w", req.JobID, err)
	}
	return record.ID, nil
}

// resolveMessageConflict handles the race where another commit for the
// same job inserted between our lookup and our write.
func (c *Coordinator) resolveMessageConflict(ctx context.Context, jobID string, err error) string {
	if !isConflict(err) {
		return ""
	}
	existing, lookupErr := c.store.MessageByJobID(ctx, jobID)
	if lookupErr != nil || existing == nil {
		return ""
	}
	return existing.ID
}

func (c *Coordinator) resolveMaterialConflict(ctx context.Context, jobID string, err error) string {
	if !isConflict(err) {
		return ""
	}
	existing, lookupErr := c.store.MaterialByJobID(ctx, jobID)
	if lookupErr != nil || existing == nil {
		return ""
	}
	return existing.ID
}

func isConflict(err error) bool {
	var conflict *museerrors.ConflictError
	return goerrors.As(err, &conflict)
}
