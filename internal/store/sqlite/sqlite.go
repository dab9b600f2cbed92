package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/themis-pm/collab-relay/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Run setup function (e.g., apply schema)
	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewMemory opens an in-memory database with the schema applied.
func NewMemory() (*SQLiteStore, error) {
	return NewWithSetup(":memory:", ApplySchema)
}

// ApplySchema creates missing tables and indexes. It is idempotent.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Migrate applies the schema to the open database.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== DocumentStore implementation ====

// CreateDocument inserts a new document at version 0.
func (s *SQLiteStore) CreateDocument(ctx context.Context, id, title, content string) (*store.Document, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO documents (id, title, content, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, title, content, now, now); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return s.LoadDocument(ctx, id)
}

// LoadDocument retrieves a document by ID.
func (s *SQLiteStore) LoadDocument(ctx context.Context, id string) (*store.Document, error) {
	query := `
		SELECT id, title, content, version, created_at, updated_at
		FROM documents
		WHERE id = ?
	`
	var doc store.Document
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.Title,
		&doc.Content,
		&doc.Version,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query document: %w", err)
	}

	return &doc, nil
}

// SaveDocument overwrites content and version of an existing document.
func (s *SQLiteStore) SaveDocument(ctx context.Context, id, content string, version int64) error {
	query := `
		UPDATE documents
		SET content = ?, version = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, content, version, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// ==== ChatStore implementation ====

// InsertChatMessage persists a message to storage.
func (s *SQLiteStore) InsertChatMessage(ctx context.Context, msg *store.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, room_id, user_id, content, file_url, file_type, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.RoomID,
		msg.UserID,
		msg.Content,
		nullString(msg.FileURL),
		nullString(msg.FileType),
		nullInt64(msg.FileSize),
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// ListChatMessages retrieves the latest messages of a room, oldest first.
func (s *SQLiteStore) ListChatMessages(ctx context.Context, roomID string, limit int) ([]*store.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, room_id, user_id, content, file_url, file_type, file_size, created_at
		FROM chat_messages
		WHERE room_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.ChatMessage
	for rows.Next() {
		var (
			msg      store.ChatMessage
			fileURL  sql.NullString
			fileType sql.NullString
			fileSize sql.NullInt64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.UserID,
			&msg.Content,
			&fileURL,
			&fileType,
			&fileSize,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		if fileURL.Valid {
			msg.FileURL = &fileURL.String
		}
		if fileType.Valid {
			msg.FileType = &fileType.String
		}
		if fileSize.Valid {
			msg.FileSize = &fileSize.Int64
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	// newest-first from the query; callers want chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// ==== CallLogStore implementation ====

// RecordCallEvent appends an event to the call log.
func (s *SQLiteStore) RecordCallEvent(ctx context.Context, ev *store.CallEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO call_events (room_id, user_id, peer_id, action, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, ev.RoomID, ev.UserID, ev.PeerID, string(ev.Action), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	ev.ID = id
	return nil
}

// ListCallEvents returns the call log of a room in insertion order.
func (s *SQLiteStore) ListCallEvents(ctx context.Context, roomID string) ([]*store.CallEvent, error) {
	query := `
		SELECT id, room_id, user_id, peer_id, action, created_at
		FROM call_events
		WHERE room_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query call events: %w", err)
	}
	defer rows.Close()

	var events []*store.CallEvent
	for rows.Next() {
		var (
			ev     store.CallEvent
			action string
		)
		if err := rows.Scan(&ev.ID, &ev.RoomID, &ev.UserID, &ev.PeerID, &action, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		ev.Action = store.CallAction(action)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call events: %w", err)
	}
	return events, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
