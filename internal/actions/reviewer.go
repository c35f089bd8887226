package actions

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
	"github.com/xkilldash9x/autodevops/internal/tracker"
)

var errReviewTokenRequired = schemas.NewFailure("github token required", "GitHub token required")

// Assessment is what a Scorer reports for one pull request.
type Assessment struct {
	Score          int
	Readability    int
	Documentation  int
	TestCoverage   int
	Complexity     int
	DeadCode       bool
	SecurityIssues []string
	Linting        []string
	Suggestions    []string
	Summary        string
}

// Scorer rates the code of a pull request.
type Scorer interface {
	Score(ctx context.Context, pr int) (Assessment, error)
}

// RandomScorer produces plausible, randomized assessments. It stands in for a
// real review service.
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer seeds a RandomScorer; equal seeds give equal sequences.
func NewRandomScorer(seed uint64) *RandomScorer {
	return &RandomScorer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// between returns a uniform integer in [lo, hi].
func (s *RandomScorer) between(lo, hi int) int {
	return lo + s.rng.IntN(hi-lo+1)
}

// Score draws a random assessment; lower scores carry more findings.
func (s *RandomScorer) Score(_ context.Context, _ int) (Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score := s.between(60, 95)
	a := Assessment{
		Score:          score,
		Readability:    s.between(70, 90),
		Documentation:  s.between(60, 85),
		TestCoverage:   s.between(70, 95),
		Complexity:     s.between(50, 80),
		DeadCode:       s.rng.IntN(2) == 1,
		SecurityIssues: []string{},
		Linting:        []string{},
		Suggestions:    []string{},
	}
	if score <= 80 {
		a.SecurityIssues = []string{"Potential SQL injection risk", "Missing input validation"}
	}
	if score <= 85 {
		a.Linting = []string{"Line 45: Unused variable", "Line 120: Missing docstring"}
	}
	if score < 80 {
		a.Suggestions = []string{
			"Add type hints for better code documentation",
			"Consider extracting magic numbers into constants",
			"Add error handling for edge cases",
		}
	}
	verdict := "Code needs refactoring to meet quality standards."
	if score >= 80 {
		verdict = "Good code quality with minor improvements suggested."
	}
	a.Summary = fmt.Sprintf("Code quality score: %d/100. %s", score, verdict)
	return a, nil
}

// PullRequestLister is the part of the tracker a reviewer needs for bulk reviews.
type PullRequestLister interface {
	HasToken() bool
	ListPullRequests(ctx context.Context, repo, state string) ([]tracker.PullRequest, error)
}

// Reviewer is the review agent. It scores pull requests and persists review records.
type Reviewer struct {
	base
	scorer           Scorer
	prs              PullRequestLister
	repo             string
	approveThreshold int
}

var _ Handler = (*Reviewer)(nil)

// NewReviewer builds a reviewer. prs may be nil, in which case bulk review is unavailable.
func NewReviewer(st store.Store, scorer Scorer, prs PullRequestLister, repo string, approveThreshold int, opts ...Option) *Reviewer {
	if approveThreshold <= 0 {
		approveThreshold = 70
	}
	return &Reviewer{
		base:             newBase(schemas.AgentCodeRabbit, "CodeRabbit", st, opts),
		scorer:           scorer,
		prs:              prs,
		repo:             repo,
		approveThreshold: approveThreshold,
	}
}

// Run reviews the decision's pull request, or every open one when it names none.
func (r *Reviewer) Run(ctx context.Context, _ string, d *schemas.Decision) schemas.Result {
	return r.guard(func() schemas.Result {
		if pr := prNumber(d); pr != 0 {
			return r.ReviewPR(ctx, pr)
		}
		return r.ReviewAll(ctx)
	})
}

// Rating maps a 0..100 score onto the 1..5 scale.
func Rating(score int) int {
	return min(5, max(1, score/20))
}

// ReviewPR scores one pull request and records the outcome.
func (r *Reviewer) ReviewPR(ctx context.Context, pr int) schemas.Result {
	a, err := r.scorer.Score(ctx, pr)
	if err != nil {
		return r.failure(fmt.Errorf("failed to score PR #%d: %w", pr, err))
	}

	status := schemas.ReviewChangesRequested
	if a.Score >= r.approveThreshold {
		status = schemas.ReviewApproved
	}
	review := schemas.ReviewRecord{
		Title:              fmt.Sprintf("PR #%d: CodeRabbit Review", pr),
		PullRequest:        fmt.Sprintf("#%d", pr),
		Reviewer:           "CodeRabbit AI",
		Status:             status,
		Rating:             Rating(a.Score),
		CodeQualityScore:   schemas.IntPtr(a.Score),
		ReadabilityScore:   a.Readability,
		DocumentationScore: a.Documentation,
		TestCoverage:       a.TestCoverage,
		SecurityIssues:     a.SecurityIssues,
		ComplexityScore:    a.Complexity,
		DeadCodeDetected:   a.DeadCode,
		LintingIssues:      a.Linting,
		Comments:           a.Summary,
		Suggestions:        a.Suggestions,
		Timestamp:          r.ts(),
	}
	if err := store.Append(ctx, r.store, store.Reviews, review); err != nil {
		return r.failure(fmt.Errorf("failed to store review: %w", err))
	}

	r.appendLog(ctx, schemas.LogEntry{
		Level:     schemas.LevelInfo,
		Message:   fmt.Sprintf("CodeRabbit reviewed PR #%d: Score %d/100", pr, a.Score),
		Agent:     r.agent,
		Timestamp: r.ts(),
	}.With("pr_number", pr).With("score", a.Score))
	r.record(ctx, schemas.ActionRecord{
		Type:   "coderabbit_review",
		Status: schemas.ActionCompleted,
		Agent:  r.agent,
	}.With("pr_number", pr).With("score", a.Score))

	r.log.Info("Reviewed pull request", zap.Int("pr", pr), zap.Int("score", a.Score), zap.String("status", status))
	return r.success("review_pr").Set("pr_number", pr).Set("review", review)
}

// ReviewAll reviews every open pull request of the configured repository.
func (r *Reviewer) ReviewAll(ctx context.Context) schemas.Result {
	if r.prs == nil || !r.prs.HasToken() {
		return r.failure(errReviewTokenRequired)
	}
	prs, err := r.prs.ListPullRequests(ctx, r.repo, "open")
	if err != nil {
		return r.failure(err)
	}

	completed := 0
	for _, pr := range prs {
		if res := r.ReviewPR(ctx, pr.Number); res.OK() {
			completed++
		}
	}
	res := r.success("review_all").Set("reviews_completed", completed)
	if len(prs) == 0 {
		res.Message = "No open PRs to review"
	}
	return res
}
