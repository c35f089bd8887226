// Package tracker wraps the GitHub REST API behind the few operations the
// decision engine and the action handlers need.
package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/config"
)

const perPage = 100

var (
	// ErrNoToken is returned by every call when no access token is configured.
	ErrNoToken = schemas.NewFailure("github token not provided", "GitHub token not provided")
	// ErrInvalidRepo is returned when a repository is not written as owner/repo.
	ErrInvalidRepo = schemas.NewFailure("invalid repo format, use owner/repo", "Invalid repo format. Use 'owner/repo'")
)

// PullRequest is the subset of a GitHub pull request the service works with.
type PullRequest struct {
	Number       int      `json:"number"`
	Title        string   `json:"title"`
	State        string   `json:"state"`
	Author       string   `json:"author"`
	Body         string   `json:"body"`
	Draft        bool     `json:"draft"`
	Labels       []string `json:"labels"`
	URL          string   `json:"url"`
	HeadRef      string   `json:"head_ref"`
	HeadSHA      string   `json:"head_sha"`
	BaseRef      string   `json:"base_ref"`
	BaseSHA      string   `json:"base_sha"`
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	ChangedFiles int      `json:"changed_files"`
	CreatedAt    string   `json:"created_at"`
	// UpdatedAt is an RFC 3339 timestamp, usually UTC with a trailing Z.
	UpdatedAt string `json:"updated_at"`
	// MergedAt is empty until the pull request is merged.
	MergedAt string `json:"merged_at,omitempty"`
}

// Issue is the subset of a GitHub issue the service works with.
type Issue struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	Author    string   `json:"author"`
	URL       string   `json:"url"`
	Labels    []string `json:"labels"`
	CreatedAt string   `json:"created_at"`
}

// Repository summarizes a GitHub repository.
type Repository struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	URL           string `json:"url"`
	Private       bool   `json:"private"`
	Stars         int    `json:"stars"`
	Forks         int    `json:"forks"`
	OpenIssues    int    `json:"open_issues"`
}

// Client talks to GitHub on behalf of the configured token.
type Client struct {
	gh    *github.Client
	token string
	log   *zap.Logger
}

// New builds a client from cfg. A missing token is not an error here; every
// call reports ErrNoToken instead so callers can degrade to a no-op.
func New(cfg config.GitHubConfig, logger *zap.Logger) (*Client, error) {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &tokenTransport{
			token:   cfg.Token,
			limiter: limiter,
			base:    http.DefaultTransport,
		},
	}
	gh := github.NewClient(httpClient)

	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github.api_url %q: %w", cfg.APIURL, err)
		}
		gh.BaseURL = u
	}

	return &Client{gh: gh, token: cfg.Token, log: logger.Named("tracker")}, nil
}

// HasToken reports whether calls can be authenticated.
func (c *Client) HasToken() bool { return c.token != "" }

// ParseRepo splits "owner/repo".
func ParseRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidRepo
	}
	return parts[0], parts[1], nil
}

func (c *Client) prepare(repo string) (string, string, error) {
	if !c.HasToken() {
		return "", "", ErrNoToken
	}
	return ParseRepo(repo)
}

// ListPullRequests returns every pull request in state, following pagination.
func (c *Client) ListPullRequests(ctx context.Context, repo, state string) ([]PullRequest, error) {
	owner, name, err := c.prepare(repo)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = "open"
	}

	opts := &github.PullRequestListOptions{
		State:       state,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var out []PullRequest
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pull requests for %s: %w", repo, err)
		}
		for _, pr := range prs {
			out = append(out, toPullRequest(pr))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	c.log.Debug("Listed pull requests", zap.String("repo", repo), zap.String("state", state), zap.Int("count", len(out)))
	return out, nil
}

// GetPullRequest fetches a single pull request.
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (PullRequest, error) {
	owner, name, err := c.prepare(repo)
	if err != nil {
		return PullRequest{}, err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return PullRequest{}, fmt.Errorf("failed to get pull request #%d: %w", number, err)
	}
	return toPullRequest(pr), nil
}

// ListIssues returns the issues in state. Pull requests, which GitHub also
// reports as issues, are dropped.
func (c *Client) ListIssues(ctx context.Context, repo, state string) ([]Issue, error) {
	owner, name, err := c.prepare(repo)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = "open"
	}

	opts := &github.IssueListByRepoOptions{
		State:       state,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	var out []Issue
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for %s: %w", repo, err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, toIssue(is))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreateIssue opens an issue. Empty labels are omitted from the request.
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (Issue, error) {
	owner, name, err := c.prepare(repo)
	if err != nil {
		return Issue{}, err
	}

	req := &github.IssueRequest{Title: github.String(title), Body: github.String(body)}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	is, _, err := c.gh.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return Issue{}, fmt.Errorf("failed to create issue in %s: %w", repo, err)
	}
	c.log.Info("Created issue", zap.String("repo", repo), zap.Int("number", is.GetNumber()))
	return toIssue(is), nil
}

// GetRepository fetches repository metadata.
func (c *Client) GetRepository(ctx context.Context, repo string) (Repository, error) {
	owner, name, err := c.prepare(repo)
	if err != nil {
		return Repository{}, err
	}
	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Repository{}, fmt.Errorf("failed to get repository %s: %w", repo, err)
	}
	return Repository{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		URL:           r.GetHTMLURL(),
		Private:       r.GetPrivate(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
	}, nil
}

func formatTime(ts github.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func toPullRequest(pr *github.PullRequest) PullRequest {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	return PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		State:        pr.GetState(),
		Author:       pr.GetUser().GetLogin(),
		Body:         pr.GetBody(),
		Draft:        pr.GetDraft(),
		Labels:       labels,
		URL:          pr.GetHTMLURL(),
		HeadRef:      pr.GetHead().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseRef:      pr.GetBase().GetRef(),
		BaseSHA:      pr.GetBase().GetSHA(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		CreatedAt:    formatTime(pr.GetCreatedAt()),
		UpdatedAt:    formatTime(pr.GetUpdatedAt()),
		MergedAt:     formatTime(pr.GetMergedAt()),
	}
}

func toIssue(is *github.Issue) Issue {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		State:     is.GetState(),
		Author:    is.GetUser().GetLogin(),
		URL:       is.GetHTMLURL(),
		Labels:    labels,
		CreatedAt: formatTime(is.GetCreatedAt()),
	}
}
