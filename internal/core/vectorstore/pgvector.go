// Package vectorstore provides the vector collection gateway. The
// production implementation keeps one Postgres table per collection with
// a pgvector embedding column and a cosine ivfflat index.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pgvector/pgvector-go"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
)

// Collection names are generated internally (agonx_ prefix + uuid with
// underscores) but are still validated before being interpolated into
// DDL/DML, since they cannot be bound as parameters.
var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,99}$`)

type PgVectorStore struct {
	db *sql.DB
}

var _ core.VectorStore = (*PgVectorStore)(nil)

func NewPgVectorStore(ctx context.Context, db *sql.DB) (*PgVectorStore, error) {
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("enable pgvector extension: %w", err)
	}
	return &PgVectorStore{db: db}, nil
}

// EnsureCollection creates the collection table and its cosine index if
// they do not exist yet. Safe to call repeatedly.
func (s *PgVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := validateName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			content   TEXT NOT NULL,
			metadata  JSONB,
			source    VARCHAR(500) NOT NULL DEFAULT ''
		)`, name, dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	idx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 128)`, name, name)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create index on %s: %w", name, err)
	}
	return nil
}

func (s *PgVectorStore) HasCollection(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables WHERE table_name = $1
		)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	return exists, nil
}

func (s *PgVectorStore) DropCollection(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// Insert writes rows in one transaction and returns the generated entry
// ids in row order.
func (s *PgVectorStore) Insert(ctx context.Context, name string, rows []core.VectorRow) ([]int64, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (embedding, content, metadata, source)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, name)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(rows))
	for i := range rows {
		meta, err := json.Marshal(rows[i].Metadata)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		var id int64
		if err := stmt.QueryRowContext(ctx,
			pgvector.NewVector(rows[i].Embedding), rows[i].Content, meta, rows[i].Source,
		).Scan(&id); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("insert into %s: %w", name, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes entries by id. Missing ids are ignored.
func (s *PgVectorStore) Delete(ctx context.Context, name string, ids []int64) error {
	if err := validateName(name); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, name)
	if _, err := s.db.ExecContext(ctx, q, ids); err != nil {
		return fmt.Errorf("delete from %s: %w", name, err)
	}
	return nil
}

// Search returns the topK nearest entries by cosine similarity, scored
// in [0, 1] where 1 is an exact match.
func (s *PgVectorStore) Search(ctx context.Context, name string, vector []float32, topK int) ([]core.VectorHit, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT id, content, metadata, source, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, name)
	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	defer rows.Close()

	var out []core.VectorHit
	for rows.Next() {
		var (
			h    core.VectorHit
			meta []byte
		)
		if err := rows.Scan(&h.ID, &h.Content, &meta, &h.Source, &h.Score); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Flush is a no-op: Postgres makes committed inserts visible immediately,
// so the visibility contract of the boundary is already satisfied.
func (s *PgVectorStore) Flush(ctx context.Context, name string) error {
	return validateName(name)
}

func validateName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}
