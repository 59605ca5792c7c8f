package service

import (
	"context"
	"fmt"

	"github.com/devitalik/devitalik/internal/domain"
	"github.com/devitalik/devitalik/internal/domain/repo"
	"github.com/devitalik/devitalik/internal/port/database"
	"github.com/devitalik/devitalik/internal/port/gitprovider"
)

// RepositoryService manages the set of watched repositories.
type RepositoryService struct {
	store    database.Store
	provider gitprovider.Provider
}

// NewRepositoryService creates a RepositoryService.
func NewRepositoryService(store database.Store, provider gitprovider.Provider) *RepositoryService {
	return &RepositoryService{store: store, provider: provider}
}

// Register validates and registers a repository to watch. The current
// head is resolved up front so the first poll pass has a baseline and
// does not replay the whole history.
func (s *RepositoryService) Register(ctx context.Context, req *repo.CreateRequest) (*repo.Repository, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, err)
	}

	r, err := s.store.CreateRepository(ctx, req)
	if err != nil {
		return nil, err
	}

	owner, name, _ := repo.ParseFullName(req.FullName)
	if head, err := s.provider.GetHead(ctx, owner, name); err == nil {
		if err := s.store.UpdateRepositoryHead(ctx, r.ID, head.SHA, r.CreatedAt); err == nil {
			r.LastSeenSHA = head.SHA
		}
		if req.DefaultBranch == "" && head.DefaultBranch != "" && head.DefaultBranch != r.DefaultBranch {
			r.DefaultBranch = head.DefaultBranch
			if err := s.store.UpdateRepository(ctx, r); err != nil {
				return nil, fmt.Errorf("store default branch: %w", err)
			}
		}
	}

	return r, nil
}

// Get returns a watched repository by ID.
func (s *RepositoryService) Get(ctx context.Context, id string) (*repo.Repository, error) {
	return s.store.GetRepository(ctx, id)
}

// List returns all watched repositories.
func (s *RepositoryService) List(ctx context.Context) ([]repo.Repository, error) {
	return s.store.ListRepositories(ctx)
}

// Update applies partial updates to a watched repository.
func (s *RepositoryService) Update(ctx context.Context, id string, req repo.UpdateRequest) (*repo.Repository, error) {
	r, err := s.store.GetRepository(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.DefaultBranch != nil {
		r.DefaultBranch = *req.DefaultBranch
	}
	if req.WatchEnabled != nil {
		r.WatchEnabled = *req.WatchEnabled
	}

	if err := s.store.UpdateRepository(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a repository from the watch set.
func (s *RepositoryService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteRepository(ctx, id)
}
