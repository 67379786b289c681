package store

import "fmt"

// schemaSQL returns the DDL for the atom index. embeddingDim controls
// the vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- One row per indexed conversation
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY,
    conversation_id TEXT NOT NULL UNIQUE,
    title TEXT,
    primary_topic INTEGER,
    topic_name TEXT,
    indexed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Consolidated knowledge atoms
CREATE TABLE IF NOT EXISTS atoms (
    id INTEGER PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    statement TEXT NOT NULL,
    topic TEXT,
    status TEXT,
    payload JSON NOT NULL
);

-- Conversation document embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_conversations USING vec0(
    conversation_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_atoms_conversation ON atoms(conversation_id);
CREATE INDEX IF NOT EXISTS idx_atoms_kind ON atoms(kind);
CREATE INDEX IF NOT EXISTS idx_atoms_topic ON atoms(topic);
`, embeddingDim)
}
