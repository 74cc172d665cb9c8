package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	museerrors "muse/internal/errors"
)

// SQLiteStore keeps both collections in one SQLite database. The UNIQUE
// index on source_job_id is the last line of defense against duplicate
// writes racing past the coordinator's lookup.
type SQLiteStore struct {
	db      *sql.DB
	ownedDB bool
}

// NewSQLiteStore opens (or creates) the document database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownedDB = true
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing connection, creating the schema.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		type            TEXT NOT NULL,
		metadata        TEXT,
		source_job_id   TEXT,
		created_at      TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_source_job
		ON messages (source_job_id) WHERE source_job_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS library_materials (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		title         TEXT NOT NULL,
		type          TEXT NOT NULL,
		durable_url   TEXT NOT NULL,
		metadata      TEXT,
		source_job_id TEXT,
		created_at    TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_materials_source_job
		ON library_materials (source_job_id) WHERE source_job_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_materials_user
		ON library_materials (user_id, created_at);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create document schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// InsertMessage implements DocumentStore.
func (s *SQLiteStore) InsertMessage(ctx context.Context, record ChatMessageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, type, metadata, source_job_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ConversationID, record.Role, record.Content, record.Type,
		record.Metadata, nullableJobID(record.SourceJobID), record.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return &museerrors.ConflictError{JobID: record.SourceJobID, Store: "messages"}
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertMaterial implements DocumentStore.
func (s *SQLiteStore) InsertMaterial(ctx context.Context, record LibraryMaterialRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO library_materials (id, user_id, title, type, durable_url, metadata, source_job_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.Title, record.Type, record.DurableURL,
		record.Metadata, nullableJobID(record.SourceJobID), record.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return &museerrors.ConflictError{JobID: record.SourceJobID, Store: "library_materials"}
		}
		return fmt.Errorf("insert material: %w", err)
	}
	return nil
}

// MessageByJobID implements DocumentStore. A nil record means no row.
func (s *SQLiteStore) MessageByJobID(ctx context.Context, jobID string) (*ChatMessageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, type, metadata, source_job_id, created_at
		 FROM messages WHERE source_job_id = ?`, jobID)
	record, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("message by job id: %w", err)
	}
	return record, nil
}

// MaterialByJobID implements DocumentStore. A nil record means no row.
func (s *SQLiteStore) MaterialByJobID(ctx context.Context, jobID string) (*LibraryMaterialRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, type, durable_url, metadata, source_job_id, created_at
		 FROM library_materials WHERE source_job_id = ?`, jobID)
	record, err := scanMaterial(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("material by job id: %w", err)
	}
	return record, nil
}

// MessagesByConversation implements DocumentStore, oldest first.
func (s *SQLiteStore) MessagesByConversation(ctx context.Context, conversationID string) ([]ChatMessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, type, metadata, source_job_id, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("messages by conversation: %w", err)
	}
	defer rows.Close()

	var records []ChatMessageRecord
	for rows.Next() {
		record, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// SearchMaterials implements DocumentStore with a case-insensitive title
// substring match; an empty query lists everything, newest first.
func (s *SQLiteStore) SearchMaterials(ctx context.Context, userID, query string) ([]LibraryMaterialRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, type, durable_url, metadata, source_job_id, created_at
		 FROM library_materials
		 WHERE user_id = ? AND lower(title) LIKE ?
		 ORDER BY created_at DESC`,
		userID, "%"+strings.ToLower(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("search materials: %w", err)
	}
	defer rows.Close()

	var records []LibraryMaterialRecord
	for rows.Next() {
		record, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Close releases the database handle when this store owns it.
func (s *SQLiteStore) Close() error {
	if s.ownedDB {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*ChatMessageRecord, error) {
	var record ChatMessageRecord
	var jobID sql.NullString
	var createdAt string
	if err := row.Scan(&record.ID, &record.ConversationID, &record.Role, &record.Content,
		&record.Type, &record.Metadata, &jobID, &createdAt); err != nil {
		return nil, err
	}
	record.SourceJobID = jobID.String
	record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &record, nil
}

func scanMaterial(row rowScanner) (*LibraryMaterialRecord, error) {
	var record LibraryMaterialRecord
	var jobID sql.NullString
	var createdAt string
	if err := row.Scan(&record.ID, &record.UserID, &record.Title, &record.Type,
		&record.DurableURL, &record.Metadata, &jobID, &createdAt); err != nil {
		return nil, err
	}
	record.SourceJobID = jobID.String
	record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &record, nil
}

func nullableJobID(jobID string) any {
	if jobID == "" {
		return nil
	}
	return jobID
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ DocumentStore = (*SQLiteStore)(nil)
