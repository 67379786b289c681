// Package store indexes consolidated knowledge atoms and their
// conversation embeddings in SQLite, with KNN search via sqlite-vec and
// a keyword fallback when no embedder is available.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pcavallo/atomforge/atom"
)

func init() {
	sqlite_vec.Auto()
}

// Conversation is one indexed conversation.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	PrimaryTopic   *int   `json:"primary_topic,omitempty"`
	TopicName      string `json:"topic_name,omitempty"`
}

// SearchResult holds a matched conversation with its atoms and score.
type SearchResult struct {
	Conversation Conversation `json:"conversation"`
	Score        float64      `json:"score"`
	Atoms        []atom.Atom  `json:"atoms"`
}

// Embedder produces a single query vector. The search path takes this
// narrow interface so keyword-only callers can pass nil.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Store wraps the SQLite database holding the atom index.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// IndexConversation stores a conversation with its atoms and optional
// document embedding, replacing any previous index entry for the same
// conversation ID.
func (s *Store) IndexConversation(ctx context.Context, conv Conversation, atoms []atom.Atom, embedding []float32) error {
	if embedding != nil && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dim %d, store expects %d", len(embedding), s.embeddingDim)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var oldRowid sql.NullInt64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM conversations WHERE conversation_id = ?",
			conv.ConversationID).Scan(&oldRowid)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if oldRowid.Valid {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM vec_conversations WHERE conversation_rowid = ?", oldRowid.Int64); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM atoms WHERE conversation_id = ?", conv.ConversationID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM conversations WHERE id = ?", oldRowid.Int64); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (conversation_id, title, primary_topic, topic_name)
			VALUES (?, ?, ?, ?)
		`, conv.ConversationID, conv.Title, conv.PrimaryTopic, conv.TopicName)
		if err != nil {
			return err
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO atoms (conversation_id, kind, statement, topic, status, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range atoms {
			payload, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encoding atom: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				conv.ConversationID, a.Kind, a.Statement, a.Topic, a.Status, string(payload)); err != nil {
				return err
			}
		}

		if embedding != nil {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_conversations (conversation_rowid, embedding) VALUES (?, ?)",
				rowid, serializeFloat32(embedding)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AtomsByConversation returns the indexed atoms for one conversation.
func (s *Store) AtomsByConversation(ctx context.Context, conversationID string) ([]atom.Atom, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM atoms WHERE conversation_id = ? ORDER BY id", conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atoms []atom.Atom
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var a atom.Atom
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decoding atom payload: %w", err)
		}
		atoms = append(atoms, a)
	}
	return atoms, rows.Err()
}

// Search returns the top-k conversations matching the query with their
// atoms. With an embedder the query is embedded and matched against the
// conversation vectors; without one a LIKE scan over atom statements
// serves as the fallback.
func (s *Store) Search(ctx context.Context, embedder Embedder, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	if embedder == nil {
		return s.keywordSearch(ctx, query, k)
	}

	vecs, err := embedder.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("query embedding returned %d vectors", len(vecs))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, c.conversation_id, c.title, c.primary_topic, c.topic_name
		FROM vec_conversations v
		JOIN conversations c ON c.id = v.conversation_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(vecs[0]), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var distance float64
		if err := rows.Scan(&distance, &r.Conversation.ConversationID,
			&r.Conversation.Title, &r.Conversation.PrimaryTopic, &r.Conversation.TopicName); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.attachAtoms(ctx, results)
}

// keywordSearch ranks conversations by the number of atom statements
// containing the query as a case-insensitive substring.
func (s *Store) keywordSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COUNT(*), c.conversation_id, c.title, c.primary_topic, c.topic_name
		FROM atoms a
		JOIN conversations c ON c.conversation_id = a.conversation_id
		WHERE LOWER(a.statement) LIKE '%' || LOWER(?) || '%'
		GROUP BY c.conversation_id
		ORDER BY COUNT(*) DESC, c.conversation_id
		LIMIT ?
	`, query, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var hits int
		if err := rows.Scan(&hits, &r.Conversation.ConversationID,
			&r.Conversation.Title, &r.Conversation.PrimaryTopic, &r.Conversation.TopicName); err != nil {
			return nil, err
		}
		r.Score = float64(hits)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.attachAtoms(ctx, results)
}

func (s *Store) attachAtoms(ctx context.Context, results []SearchResult) ([]SearchResult, error) {
	for i := range results {
		atoms, err := s.AtomsByConversation(ctx, results[i].Conversation.ConversationID)
		if err != nil {
			return nil, err
		}
		results[i].Atoms = atoms
	}
	return results, nil
}

// Stats holds counts of indexed objects.
type Stats struct {
	Conversations int `json:"conversations"`
	Atoms         int `json:"atoms"`
	Embeddings    int `json:"embeddings"`
}

// Stats returns counts of conversations, atoms, and embeddings.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM conversations", &stats.Conversations},
		{"SELECT COUNT(*) FROM atoms", &stats.Atoms},
		{"SELECT COUNT(*) FROM vec_conversations", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
