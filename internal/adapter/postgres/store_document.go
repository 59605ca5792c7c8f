package postgres

import (
	"context"
	"fmt"

	"github.com/devitalik/devitalik/internal/domain/document"
	"github.com/devitalik/devitalik/internal/port/database"
)

const documentColumns = `id, source, repository, path, title, ref, status, chunk_count, created_at, updated_at`

func scanDocument(row scannable) (document.Document, error) {
	var d document.Document
	err := row.Scan(&d.ID, &d.Source, &d.Repository, &d.Path, &d.Title, &d.Ref, &d.Status, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// UpsertDocument writes the document and replaces its chunks in a single
// transaction. Re-indexing the same (repository, path) pair is idempotent.
func (s *Store) UpsertDocument(ctx context.Context, doc *document.Document, chunks []document.Chunk) (*document.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`INSERT INTO documents (source, repository, path, title, ref, status, chunk_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (repository, path) DO UPDATE
		 SET source = EXCLUDED.source, title = EXCLUDED.title, ref = EXCLUDED.ref,
		     status = EXCLUDED.status, chunk_count = EXCLUDED.chunk_count, updated_at = now()
		 RETURNING `+documentColumns,
		string(doc.Source), doc.Repository, doc.Path, doc.Title, doc.Ref, string(doc.Status), len(chunks))

	d, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("upsert document %s: %w", doc.Path, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, d.ID); err != nil {
		return nil, fmt.Errorf("clear chunks for %s: %w", d.ID, err)
	}

	for i := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (document_id, seq, content, token_count) VALUES ($1, $2, $3, $4)`,
			d.ID, chunks[i].Seq, chunks[i].Content, chunks[i].TokenCount); err != nil {
			return nil, fmt.Errorf("insert chunk %d of %s: %w", chunks[i].Seq, d.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)

	d, err := scanDocument(row)
	if err != nil {
		return nil, notFoundWrap(err, "get document %s", id)
	}
	return &d, nil
}

func (s *Store) ListDocuments(ctx context.Context, repository string) ([]document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if repository != "" {
		query += ` WHERE repository = $1`
		args = append(args, repository)
	}
	query += ` ORDER BY repository, path`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) ListDocumentPaths(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT path FROM documents ORDER BY repository, path`)
	if err != nil {
		return nil, fmt.Errorf("list document paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete document %s", id)
}

func (s *Store) DeleteDocumentByPath(ctx context.Context, repository, path string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE repository = $1 AND path = $2`, repository, path)
	return execExpectOne(tag, err, "delete document %s/%s", repository, path)
}

func (s *Store) MarkDocumentStatus(ctx context.Context, id string, status document.Status, chunkCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, chunk_count = $3, updated_at = now() WHERE id = $1`,
		id, string(status), chunkCount)
	return execExpectOne(tag, err, "mark document %s", id)
}

func (s *Store) CountDocuments(ctx context.Context) (indexed int, pending int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT
		   count(*) FILTER (WHERE status = 'indexed'),
		   count(*) FILTER (WHERE status = 'pending')
		 FROM documents`).Scan(&indexed, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}
	return indexed, pending, nil
}

// SearchChunks runs Postgres full-text search over chunk content, ranked
// by ts_rank. The query goes through websearch_to_tsquery so plain
// questions work without tsquery syntax.
func (s *Store) SearchChunks(ctx context.Context, query string, topK int) ([]database.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.seq, c.content, c.token_count,
		        d.path, d.repository,
		        ts_rank(c.content_tsv, websearch_to_tsquery('english', $1)) AS rank
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.status = 'indexed'
		   AND c.content_tsv @@ websearch_to_tsquery('english', $1)
		 ORDER BY rank DESC
		 LIMIT $2`,
		query, topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []database.SearchResult
	for rows.Next() {
		var r database.SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Seq, &r.Chunk.Content, &r.Chunk.TokenCount, &r.Path, &r.Repository, &r.Score); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
