package speaker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ddl returns the profile table DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddl(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS speaker_profiles (
    id         BIGSERIAL    PRIMARY KEY,
    name       TEXT         NOT NULL UNIQUE,
    embedding  vector(%d)   NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`, dimensions)
}

// Store persists speaker profiles in PostgreSQL with pgvector embeddings.
// It allows enrolment to happen out of band (a separate enrolment tool writes
// profiles; the dialogue server only reads them at startup).
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and ensures the profile table exists.
//
// dimensions must match the output dimension of the voiceprint embedder.
// Changing it after the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("speaker store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("speaker store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("speaker store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddl(dimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("speaker store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Save upserts a profile by name. The embedding is stored as given; callers
// normalise before saving.
func (s *Store) Save(ctx context.Context, profile Profile) error {
	const q = `
		INSERT INTO speaker_profiles (name, embedding)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET embedding = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q, profile.Name, pgvector.NewVector(profile.Embedding))
	if err != nil {
		return fmt.Errorf("speaker store: save %q: %w", profile.Name, err)
	}
	return nil
}

// LoadRegistry reads all profiles in enrolment order (ascending id) and
// builds a Registry from them.
func (s *Store) LoadRegistry(ctx context.Context) (*Registry, error) {
	const q = `SELECT name, embedding FROM speaker_profiles ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("speaker store: load profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var (
			name string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, fmt.Errorf("speaker store: scan profile: %w", err)
		}
		profiles = append(profiles, Profile{Name: name, Embedding: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("speaker store: iterate profiles: %w", err)
	}

	return NewRegistry(profiles), nil
}

// Ping verifies database connectivity. It backs the server's readiness
// check when profiles come from PostgreSQL.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
