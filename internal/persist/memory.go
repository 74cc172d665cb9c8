package persist

import (
	"context"
	"sort"
	"strings"
	"sync"

	museerrors "muse/internal/errors"
)

// MemoryStore is the map-backed DocumentStore used by tests and the
// offline CLI commands.
type MemoryStore struct {
	mu        sync.Mutex
	messages  map[string]ChatMessageRecord     // by id
	materials map[string]LibraryMaterialRecord // by id
	msgByJob  map[string]string
	matByJob  map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string]ChatMessageRecord),
		materials: make(map[string]LibraryMaterialRecord),
		msgByJob:  make(map[string]string),
		matByJob:  make(map[string]string),
	}
}

func (s *MemoryStore) InsertMessage(ctx context.Context, record ChatMessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.SourceJobID != "" {
		if _, exists := s.msgByJob[record.SourceJobID]; exists {
			return &museerrors.ConflictError{JobID: record.SourceJobID, Store: "messages"}
		}
		s.msgByJob[record.SourceJobID] = record.ID
	}
	s.messages[record.ID] = record
	return nil
}

func (s *MemoryStore) InsertMaterial(ctx context.Context, record LibraryMaterialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.SourceJobID != "" {
		if _, exists := s.matByJob[record.SourceJobID]; exists {
			return &museerrors.ConflictError{JobID: record.SourceJobID, Store: "library_materials"}
		}
		s.matByJob[record.SourceJobID] = record.ID
	}
	s.materials[record.ID] = record
	return nil
}

func (s *MemoryStore) MessageByJobID(ctx context.Context, jobID string) (*ChatMessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.msgByJob[jobID]
	if !ok {
		return nil, nil
	}
	record := s.messages[id]
	return &record, nil
}

func (s *MemoryStore) MaterialByJobID(ctx context.Context, jobID string) (*LibraryMaterialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.matByJob[jobID]
	if !ok {
		return nil, nil
	}
	record := s.materials[id]
	return &record, nil
}

func (s *MemoryStore) MessagesByConversation(ctx context.Context, conversationID string) ([]ChatMessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []ChatMessageRecord
	for _, record := range s.messages {
		if record.ConversationID == conversationID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (s *MemoryStore) SearchMaterials(ctx context.Context, userID, query string) ([]LibraryMaterialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := strings.ToLower(query)
	var records []LibraryMaterialRecord
	for _, record := range s.materials {
		if record.UserID != userID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(record.Title), needle) {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records, nil
}

// MessageCount reports the total row count. Used by tests.
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// MaterialCount reports the total row count. Used by tests.
func (s *MemoryStore) MaterialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.materials)
}

var _ DocumentStore = (*MemoryStore)(nil)
