package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devitalik/devitalik/internal/domain"
	"github.com/devitalik/devitalik/internal/domain/repo"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const repoColumns = `id, owner, name, default_branch, watch_enabled, last_seen_sha, last_change_at, version, created_at, updated_at`

func scanRepository(row scannable) (repo.Repository, error) {
	var r repo.Repository
	var lastChange *time.Time
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.DefaultBranch, &r.WatchEnabled, &r.LastSeenSHA, &lastChange, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return repo.Repository{}, err
	}
	if lastChange != nil {
		r.LastChangeAt = *lastChange
	}
	return r, nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]repo.Repository, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+repoColumns+` FROM repositories ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []repo.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *Store) GetRepository(ctx context.Context, id string) (*repo.Repository, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE id = $1`, id)

	r, err := scanRepository(row)
	if err != nil {
		return nil, notFoundWrap(err, "get repository %s", id)
	}
	return &r, nil
}

func (s *Store) GetRepositoryByFullName(ctx context.Context, owner, name string) (*repo.Repository, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repositories WHERE owner = $1 AND name = $2`, owner, name)

	r, err := scanRepository(row)
	if err != nil {
		return nil, notFoundWrap(err, "get repository %s/%s", owner, name)
	}
	return &r, nil
}

func (s *Store) CreateRepository(ctx context.Context, req *repo.CreateRequest) (*repo.Repository, error) {
	owner, name, err := repo.ParseFullName(req.FullName)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w: %w", domain.ErrValidation, err)
	}

	branch := req.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	enabled := true
	if req.WatchEnabled != nil {
		enabled = *req.WatchEnabled
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO repositories (owner, name, default_branch, watch_enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner, name) DO NOTHING
		 RETURNING `+repoColumns,
		owner, name, branch, enabled)

	r, err := scanRepository(row)
	if err != nil {
		// ON CONFLICT DO NOTHING yields no row when the repository exists.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create repository %s/%s: %w", owner, name, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create repository %s/%s: %w", owner, name, err)
	}
	return &r, nil
}

func (s *Store) UpdateRepository(ctx context.Context, r *repo.Repository) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories
		 SET default_branch = $2, watch_enabled = $3, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $4`,
		r.ID, r.DefaultBranch, r.WatchEnabled, r.Version)
	if err != nil {
		return fmt.Errorf("update repository %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update repository %s: %w", r.ID, domain.ErrConflict)
	}
	r.Version++
	return nil
}

func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete repository %s", id)
}

func (s *Store) UpdateRepositoryHead(ctx context.Context, id, sha string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories SET last_seen_sha = $2, last_change_at = $3, updated_at = now() WHERE id = $1`,
		id, sha, nullTime(at))
	return execExpectOne(tag, err, "update repository head %s", id)
}
