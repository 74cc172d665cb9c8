// Package executor runs confirmed generation jobs: parameter validation,
// quota reservation, provider submission with retry and fallback, and the
// ephemeral-to-durable re-upload. It never writes to the document store;
// the caller persists the returned artifact.
package executor

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"muse/internal/agents"
	museerrors "muse/internal/errors"
	"muse/internal/events"
	"muse/internal/logging"
	"muse/internal/provider"
	"muse/internal/storage"
	"muse/internal/usage"
)

const (
	traceScopeExecutor = "muse.executor"

	traceSpanExecute = "muse.job.execute"
	traceSpanFetch   = "muse.artifact.fetch"
	traceSpanUpload  = "muse.artifact.upload"

	traceAttrJobID     = "muse.job_id"
	traceAttrAgentType = "muse.agent_type"
	traceAttrUserID    = "muse.user_id"
	traceAttrProvider  = "muse.provider"
	traceAttrStatus    = "muse.status"
)

// Job is one confirmed execution request.
type Job struct {
	JobID          string
	ConversationID string
	UserID         string
	AgentType      agents.Type
	Params         map[string]any
	StartedAt      time.Time
}

// Artifact is the durable result of a completed job. DurableURL points at
// re-uploaded storage and has no expiry; the provider's ephemeral URL is
// never exposed.
type Artifact struct {
	ArtifactID  string
	AgentType   agents.Type
	Title       string
	DurableURL  string
	StorageKey  string
	ContentType string
	ContentHash string
	SizeBytes   uint64
	SourceJobID string
	RawMetadata string
}

// Executor orchestrates one job end to end.
type Executor struct {
	catalog   *agents.Catalog
	ledger    usage.Ledger
	generator provider.Generator
	fetcher   storage.Fetcher
	mapper    storage.Mapper
	events    events.Logger
	logger    logging.Logger
}

// New wires an Executor. generator is usually a provider.Chain.
func New(catalog *agents.Catalog, ledger usage.Ledger, generator provider.Generator, fetcher storage.Fetcher, mapper storage.Mapper, eventLogger events.Logger, logger logging.Logger) *Executor {
	return &Executor{
		catalog:   catalog,
		ledger:    ledger,
		generator: generator,
		fetcher:   fetcher,
		mapper:    mapper,
		events:    events.OrNop(eventLogger),
		logger:    logging.OrNop(logger),
	}
}

// Execute runs the job and returns its artifact descriptor. Failure
// classes: *errors.ValidationError (bad params, quota untouched),
// *errors.QuotaExceededError (cap reached, provider never contacted),
// *errors.ProviderError (after bounded retry and fallback),
// *errors.StorageUploadError (generation succeeded but the result could
// not be made durable). Any failure after a granted reservation releases
// the reserved cost.
func (e *Executor) Execute(ctx context.Context, job Job) (*Artifact, error) {
	ctx, span := otel.Tracer(traceScopeExecutor).Start(ctx, traceSpanExecute, trace.WithAttributes(
		attribute.String(traceAttrJobID, job.JobID),
		attribute.String(traceAttrAgentType, string(job.AgentType)),
		attribute.String(traceAttrUserID, job.UserID),
	))
	defer span.End()

	artifact, err := e.execute(ctx, job)
	markSpanResult(span, err)
	return artifact, err
}

func (e *Executor) execute(ctx context.Context, job Job) (*Artifact, error) {
	def, ok := e.catalog.Lookup(job.AgentType)
	if !ok {
		return nil, &museerrors.ValidationError{Field: "agentType", Message: fmt.Sprintf("unknown agent type %q", job.AgentType)}
	}
	if err := e.catalog.ValidateParams(job.AgentType, job.Params); err != nil {
		return nil, err
	}

	reservation, err := e.ledger.Reserve(ctx, job.UserID, def.UnitCost)
	if err != nil {
		return nil, fmt.Errorf("reserve quota for job %s: %w", job.JobID, err)
	}
	if !reservation.Granted {
		return nil, &museerrors.QuotaExceededError{UserID: job.UserID, ResetAt: reservation.ResetAt}
	}

	artifact, err := e.generateAndStore(ctx, job, def)
	if err != nil {
		if releaseErr := e.ledger.Release(ctx, job.UserID, def.UnitCost); releaseErr != nil {
			e.logger.Error("release reservation for failed job %s: %v", job.JobID, releaseErr)
		}
		e.events.LogError(events.ErrorEvent{
			ConversationID: job.ConversationID,
			JobID:          job.JobID,
			Stage:          stageOf(err),
			Message:        err.Error(),
			At:             time.Now(),
		})
		return nil, err
	}
	return artifact, nil
}

func (e *Executor) generateAndStore(ctx context.Context, job Job, def agents.Definition) (*Artifact, error) {
	result, err := e.generator.Generate(ctx, provider.Request{
		JobID:     job.JobID,
		AgentType: job.AgentType,
		Params:    job.Params,
	})
	if err != nil {
		return nil, err
	}

	data, contentType, err := e.fetchResult(ctx, job, result)
	if err != nil {
		return nil, &museerrors.StorageUploadError{JobID: job.JobID, Err: fmt.Errorf("fetch ephemeral result: %w", err)}
	}
	if result.ContentType != "" {
		contentType = result.ContentType
	}

	uploaded, err := e.uploadResult(ctx, job, result, contentType, data)
	if err != nil {
		return nil, &museerrors.StorageUploadError{JobID: job.JobID, Err: err}
	}

	e.logger.Info("job %s completed via %s: %s (%d bytes)", job.JobID, e.generator.Name(), uploaded.DurableURL, uploaded.SizeBytes)
	return &Artifact{
		ArtifactID:  uuid.NewString(),
		AgentType:   job.AgentType,
		Title:       titleFor(result, def),
		DurableURL:  uploaded.DurableURL,
		StorageKey:  uploaded.StorageKey,
		ContentType: contentType,
		ContentHash: uploaded.ContentHash,
		SizeBytes:   uploaded.SizeBytes,
		SourceJobID: job.JobID,
		RawMetadata: result.RawMetadata,
	}, nil
}

func (e *Executor) fetchResult(ctx context.Context, job Job, result *provider.Result) ([]byte, string, error) {
	ctx, span := otel.Tracer(traceScopeExecutor).Start(ctx, traceSpanFetch, trace.WithAttributes(
		attribute.String(traceAttrJobID, job.JobID),
		attribute.String(traceAttrProvider, e.generator.Name()),
	))
	defer span.End()

	data, contentType, err := e.fetcher.Fetch(ctx, result.ResultRef)
	markSpanResult(span, err)
	return data, contentType, err
}

func (e *Executor) uploadResult(ctx context.Context, job Job, result *provider.Result, contentType string, data []byte) (storage.UploadResult, error) {
	ctx, span := otel.Tracer(traceScopeExecutor).Start(ctx, traceSpanUpload, trace.WithAttributes(
		attribute.String(traceAttrJobID, job.JobID),
	))
	defer span.End()

	uploaded, err := e.mapper.Upload(ctx, storage.UploadRequest{
		Name:        fileNameFor(job, result),
		ContentType: contentType,
		Data:        data,
		SourceJobID: job.JobID,
	})
	markSpanResult(span, err)
	return uploaded, err
}

func titleFor(result *provider.Result, def agents.Definition) string {
	if result.Title != "" {
		return result.Title
	}
	return def.Title
}

func fileNameFor(job Job, result *provider.Result) string {
	if result.Title != "" {
		return result.Title
	}
	return job.JobID
}

func stageOf(err error) string {
	var uploadErr *museerrors.StorageUploadError
	if goerrors.As(err, &uploadErr) {
		return "upload"
	}
	var provErr *museerrors.ProviderError
	if goerrors.As(err, &provErr) {
		return "provider"
	}
	return "execute"
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, "success"))
}
