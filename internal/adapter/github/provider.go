// Package github implements the git provider port using the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/devitalik/devitalik/internal/port/gitprovider"
	"github.com/devitalik/devitalik/internal/resilience"
)

const providerName = "github"

// Provider implements gitprovider.Provider against the GitHub API.
type Provider struct {
	client  *gh.Client
	breaker *resilience.Breaker
}

type authTransport struct {
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

// New creates a GitHub provider. baseURL may be empty for the public API;
// set it for GitHub Enterprise or tests.
func New(token, baseURL string) (*Provider, error) {
	var httpClient *http.Client
	if token != "" {
		httpClient = &http.Client{
			Transport: &authTransport{token: token},
		}
	}

	client := gh.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}

	return &Provider{client: client}, nil
}

// SetBreaker attaches a circuit breaker to all API calls.
func (p *Provider) SetBreaker(b *resilience.Breaker) {
	p.breaker = b
}

func (p *Provider) exec(fn func() error) error {
	if p.breaker != nil {
		return p.breaker.Execute(fn)
	}
	return fn()
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{
		Webhook: true,
		Compare: true,
		Content: true,
	}
}

// GetHead resolves the default branch and its current commit SHA.
func (p *Provider) GetHead(ctx context.Context, owner, repo string) (gitprovider.Head, error) {
	var r *gh.Repository
	err := p.exec(func() error {
		var err error
		r, _, err = p.client.Repositories.Get(ctx, owner, repo)
		return err
	})
	if err != nil {
		return gitprovider.Head{}, fmt.Errorf("get repository %s/%s: %w", owner, repo, err)
	}
	branch := r.GetDefaultBranch()

	var b *gh.Branch
	err = p.exec(func() error {
		var err error
		b, _, err = p.client.Repositories.GetBranch(ctx, owner, repo, branch, 0)
		return err
	})
	if err != nil {
		return gitprovider.Head{}, fmt.Errorf("get branch %s/%s@%s: %w", owner, repo, branch, err)
	}

	return gitprovider.Head{
		SHA:           b.GetCommit().GetSHA(),
		DefaultBranch: branch,
	}, nil
}

// Compare lists the files changed between base and head. With an empty
// base only the head is reported.
func (p *Provider) Compare(ctx context.Context, owner, repo, base, head string) (gitprovider.Comparison, error) {
	if base == "" {
		return gitprovider.Comparison{HeadSHA: head}, nil
	}

	cmp, err := p.compareWithRetry(ctx, owner, repo, base, head)
	if err != nil {
		return gitprovider.Comparison{}, fmt.Errorf("compare %s/%s %s...%s: %w", owner, repo, base, head, err)
	}

	result := gitprovider.Comparison{
		HeadSHA:      head,
		TotalCommits: cmp.GetTotalCommits(),
	}
	for _, f := range cmp.Files {
		result.Files = append(result.Files, gitprovider.FileChange{
			Path:     f.GetFilename(),
			Status:   f.GetStatus(),
			PrevPath: f.GetPreviousFilename(),
		})
	}
	return result, nil
}

// compareWithRetry backs off on GitHub rate limit errors, waiting until
// the reported reset time.
func (p *Provider) compareWithRetry(ctx context.Context, owner, repo, base, head string) (*gh.CommitsComparison, error) {
	const maxRetries = 3
	baseDelay := time.Second

	for attempt := 0; ; attempt++ {
		var cmp *gh.CommitsComparison
		err := p.exec(func() error {
			var err error
			cmp, _, err = p.client.Repositories.CompareCommits(ctx, owner, repo, base, head,
				&gh.ListOptions{PerPage: 100})
			return err
		})
		if err == nil {
			return cmp, nil
		}

		var rateLimitErr *gh.RateLimitError
		if !errors.As(err, &rateLimitErr) || attempt == maxRetries {
			return nil, err
		}

		wait := time.Until(rateLimitErr.Rate.Reset.Time)
		if wait < 0 {
			wait = baseDelay * time.Duration(1<<attempt)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// GetContent fetches and decodes the raw content of a file at a ref.
func (p *Provider) GetContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	opts := &gh.RepositoryContentGetOptions{Ref: ref}
	var content *gh.RepositoryContent
	err := p.exec(func() error {
		var err error
		content, _, _, err = p.client.Repositories.GetContents(ctx, owner, repo, path, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get contents %s/%s:%s: %w", owner, repo, path, err)
	}
	if content == nil {
		return nil, fmt.Errorf("get contents %s/%s:%s: path is a directory", owner, repo, path)
	}

	decoded, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode contents %s/%s:%s: %w", owner, repo, path, err)
	}
	return []byte(decoded), nil
}
