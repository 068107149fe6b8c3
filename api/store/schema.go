package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	uuid                 TEXT PRIMARY KEY,
	username             TEXT NOT NULL UNIQUE,
	password             TEXT NOT NULL,
	created_at           TIMESTAMP NOT NULL,
	last_login           TIMESTAMP,
	nickname             TEXT NOT NULL DEFAULT '你',
	description          TEXT NOT NULL DEFAULT '',
	context_summary      TEXT NOT NULL DEFAULT '',
	context_memory_count INTEGER NOT NULL DEFAULT 0,
	all_memory_count     INTEGER NOT NULL DEFAULT 0,
	auth_token           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS invite_codes (
	code       TEXT PRIMARY KEY,
	is_used    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	used_at    TIMESTAMP,
	user_id    TEXT UNIQUE REFERENCES users(uuid)
);

CREATE TABLE IF NOT EXISTS conversations (
	uuid      TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL REFERENCES users(uuid),
	timestamp TIMESTAMP NOT NULL,
	source    TEXT NOT NULL,
	type      TEXT NOT NULL,
	content   TEXT NOT NULL,
	meta_data TEXT,
	seq       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_seq ON conversations(user_id, seq);

CREATE TABLE IF NOT EXISTS memory_update_records (
	update_cmd_uuid TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES users(uuid),
	update_command  TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_updates_user ON memory_update_records(user_id, created_at);

CREATE TABLE IF NOT EXISTS knowledge_buffers (
	uuid       TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(uuid),
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	position   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_user ON knowledge_buffers(user_id, position);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Migrate applies the schema; exposed for the migrate CLI subcommand.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}
