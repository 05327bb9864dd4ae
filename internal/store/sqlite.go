package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/phucgpt/ragchat/internal/core"
	"github.com/phucgpt/ragchat/internal/utils"
)

// SQLiteStore keeps chunks, conversations and messages in a single SQLite file. Chunk
// similarity is computed in process over an in-memory cache of the embeddings.
type SQLiteStore struct {
	db        *sql.DB
	dimension int

	mu     sync.RWMutex
	cache  []Chunk
	loaded bool
}

// NewSQLiteStore opens the database at path. dimension is the expected embedding length;
// zero skips the check, which is what a history-only store uses.
func NewSQLiteStore(path string, dimension int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err = db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	store := &SQLiteStore{db: db, dimension: dimension}
	if err = store.initSchema(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return store, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL DEFAULT '',
        title TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        conversation_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS data_chunks (
        id TEXT PRIMARY KEY,
        content TEXT NOT NULL,
        source TEXT NOT NULL DEFAULT '',
        embedding_json TEXT NOT NULL -- JSON array of float32
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	var conv core.Conversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at FROM conversations WHERE id = ?", id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, errors.Wrap(err, "failed to get conversation")
	}
	return &conv, nil
}

// AppendExchange stores a user message and the assistant reply, creating the conversation
// on first use. Both messages are written in one transaction.
func (s *SQLiteStore) AppendExchange(ctx context.Context, conv core.Conversation, user, assistant core.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO conversations (id, user_id, title, created_at) VALUES (?, ?, ?, ?)",
		conv.ID, conv.UserID, conv.Title, createdAt,
	); err != nil {
		return errors.Wrap(err, "failed to insert conversation")
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "failed to prepare message insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, msg := range []core.ChatMessage{user, assistant} {
		ts := now.Add(time.Duration(i) * time.Microsecond)
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), conv.ID, string(msg.Role), msg.Content, ts); err != nil {
			return errors.Wrap(err, "failed to execute message insert")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit exchange")
	}
	return nil
}

// ListMessages returns the latest limit messages of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]core.StoredMessage, error) {
	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM (
            SELECT id, conversation_id, role, content, created_at, rowid AS seq
            FROM messages
            WHERE conversation_id = ?
            ORDER BY created_at DESC, rowid DESC
            LIMIT ?
        )
        ORDER BY created_at ASC, seq ASC
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query messages")
	}
	defer rows.Close()

	messages := []core.StoredMessage{}
	for rows.Next() {
		var msg core.StoredMessage
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan message row")
		}
		msg.Role = core.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return messages, nil
}

// Chunk methods

// EnsureCollection is a no-op: the data_chunks table is created with the schema.
func (s *SQLiteStore) EnsureCollection(context.Context) error {
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, chunk := range chunks {
		if err := checkDimension(len(chunk.Embedding), s.dimension); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO data_chunks (id, content, source, embedding_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "failed to prepare data_chunk insert")
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingBytes, err := json.Marshal(chunk.Embedding)
		if err != nil {
			return errors.Wrap(err, "failed to marshal embedding")
		}
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, id, chunk.Text, chunk.Source, string(embeddingBytes)); err != nil {
			return errors.Wrap(err, "failed to execute data_chunk insert")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit data_chunks")
	}
	s.invalidate()
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM data_chunks"); err != nil {
		return errors.Wrap(err, "failed to delete data_chunks")
	}
	s.invalidate()
	return nil
}

// Query ranks every stored chunk by cosine similarity to vector and returns the top k.
func (s *SQLiteStore) Query(ctx context.Context, vector core.EmbeddingVector, topK int) ([]core.RetrievedChunk, error) {
	if err := checkDimension(len(vector), s.dimension); err != nil {
		return nil, err
	}

	chunks, err := s.chunks(ctx)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Embedding) != len(vector) {
			return nil, errors.Wrapf(core.ErrDimensionMismatch,
				"chunk %s has %d dimensions, query has %d", chunk.ID, len(chunk.Embedding), len(vector))
		}
		embeddings[i] = chunk.Embedding
	}

	ranked, err := utils.TopK(vector, embeddings, topK)
	if err != nil {
		return nil, errors.Wrap(err, "failed to rank data_chunks")
	}

	results := make([]core.RetrievedChunk, 0, len(ranked))
	for _, r := range ranked {
		chunk := chunks[r.Index]
		results = append(results, core.RetrievedChunk{
			Text:   chunk.Text,
			Score:  float64(r.Score),
			Source: chunk.Source,
		})
	}
	return results, nil
}

func (s *SQLiteStore) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.loaded = false
	s.mu.Unlock()
}

func (s *SQLiteStore) chunks(ctx context.Context) ([]Chunk, error) {
	s.mu.RLock()
	if s.loaded {
		cached := s.cache
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cache, nil
	}

	chunks, err := s.loadChunks(ctx)
	if err != nil {
		return nil, err
	}
	s.cache = chunks
	s.loaded = true
	return chunks, nil
}

func (s *SQLiteStore) loadChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, content, source, embedding_json FROM data_chunks ORDER BY rowid")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query data_chunks")
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		var embeddingJSON string
		if err := rows.Scan(&chunk.ID, &chunk.Text, &chunk.Source, &embeddingJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan data_chunk row")
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &chunk.Embedding); err != nil {
			return nil, errors.Wrapf(core.ErrSchemaViolation, "chunk %s has an unreadable embedding: %v", chunk.ID, err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate data_chunks")
	}
	return chunks, nil
}

// Count returns the number of stored chunks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_chunks").Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count data_chunks")
	}
	return n, nil
}
