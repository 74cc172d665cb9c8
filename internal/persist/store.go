// Package persist writes completed jobs to the document store: one chat
// message plus one library material per job, keyed by sourceJobId so that
// replayed commits never create siblings.
package persist

import (
	"context"
	"time"
)

// MessageType tags chat message rows.
const (
	MessageTypeText     = "text"
	MessageTypeArtifact = "artifact"
)

// ChatMessageRecord is one row of the messages collection. Metadata, when
// present, is a validated JSON string, never a live object.
type ChatMessageRecord struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Type           string
	Metadata       *string
	SourceJobID    string
	CreatedAt      time.Time
}

// LibraryMaterialRecord is one row of the library_materials collection.
type LibraryMaterialRecord struct {
	ID          string
	UserID      string
	Title       string
	Type        string
	DurableURL  string
	Metadata    *string
	SourceJobID string
	CreatedAt   time.Time
}

// DocumentStore is the persistence contract. InsertMessage and
// InsertMaterial must fail with *errors.ConflictError when a row with the
// same non-empty SourceJobID already exists; lookups by job id are what
// makes commits idempotent.
type DocumentStore interface {
	InsertMessage(ctx context.Context, record ChatMessageRecord) error
	InsertMaterial(ctx context.Context, record LibraryMaterialRecord) error
	MessageByJobID(ctx context.Context, jobID string) (*ChatMessageRecord, error)
	MaterialByJobID(ctx context.Context, jobID string) (*LibraryMaterialRecord, error)
	MessagesByConversation(ctx context.Context, conversationID string) ([]ChatMessageRecord, error)
	SearchMaterials(ctx context.Context, userID, query string) ([]LibraryMaterialRecord, error)
}
