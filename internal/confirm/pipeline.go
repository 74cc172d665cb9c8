package confirm

import (
	"context"
	"fmt"

	"muse/internal/executor"
	"muse/internal/logging"
	"muse/internal/metadata"
	"muse/internal/persist"
	"muse/internal/storage"
)

// Pipeline is the production Runner: execute the job, validate the
// provider's metadata, then commit both persistence halves. Metadata
// rejection degrades to a metadata-less write, it never blocks the commit.
type Pipeline struct {
	executor    *executor.Executor
	validator   *metadata.Validator
	coordinator *persist.Coordinator
	mapper      storage.Mapper
	logger      logging.Logger
}

// NewPipeline wires the standard runner. The mapper is used to clean up the
// uploaded blob when the commit fails; pass the same mapper the executor
// uploads through.
func NewPipeline(exec *executor.Executor, validator *metadata.Validator, coordinator *persist.Coordinator, mapper storage.Mapper, logger logging.Logger) *Pipeline {
	return &Pipeline{
		executor:    exec,
		validator:   validator,
		coordinator: coordinator,
		mapper:      mapper,
		logger:      logging.OrNop(logger),
	}
}

// Run implements Runner.
func (p *Pipeline) Run(ctx context.Context, job executor.Job) (Outcome, error) {
	artifact, err := p.executor.Execute(ctx, job)
	if err != nil {
		return Outcome{}, err
	}

	var stored *string
	result := p.validator.ValidateRaw(artifact.RawMetadata, job.AgentType.ArtifactKind())
	if result.OK {
		serialized, err := metadata.Serialize(result.Sanitized)
		if err != nil {
			p.logger.Warn("job %s: metadata serialization failed, persisting without metadata: %v", job.JobID, err)
		} else {
			stored = &serialized
		}
	} else {
		p.logger.Info("job %s: metadata rejected (%s), persisting without metadata", job.JobID, result.Reason)
	}

	committed, err := p.coordinator.Commit(ctx, persist.CommitRequest{
		JobID:          job.JobID,
		ConversationID: job.ConversationID,
		UserID:         job.UserID,
		Artifact:       artifact,
		Metadata:       stored,
	})
	if err != nil {
		// Reclaim the blob unless a persisted half already references it.
		// Best effort: a failed delete leaves an orphan, not a broken
		// record.
		if !p.coordinator.Referenced(ctx, job.JobID) {
			p.cleanupBlob(ctx, job.JobID, artifact.StorageKey)
		}
		return Outcome{}, fmt.Errorf("persist job %s: %w", job.JobID, err)
	}

	return Outcome{
		Artifact:          artifact,
		ChatMessageID:     committed.ChatMessageID,
		LibraryMaterialID: committed.LibraryMaterialID,
	}, nil
}

func (p *Pipeline) cleanupBlob(ctx context.Context, jobID, key string) {
	if p.mapper == nil || key == "" {
		return
	}
	if err := p.mapper.Delete(ctx, key); err != nil {
		p.logger.Warn("job %s: could not delete orphaned blob %s: %v", jobID, key, err)
	}
}

var _ Runner = (*Pipeline)(nil)
