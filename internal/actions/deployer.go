package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/config"
)

var errDeployTokenMissing = schemas.NewFailure("vercel token not provided", "Vercel token not provided")

// Deployer triggers a deployment of project. The result is passed back to the
// caller untouched.
type Deployer interface {
	Deploy(ctx context.Context, project string) schemas.Result
}

// DeployHandler adapts a Deployer to the Handler contract.
type DeployHandler struct {
	base
	deployer Deployer
	project  string
}

var _ Handler = (*DeployHandler)(nil)

// NewDeployHandler wires a Deployer for the configured project.
func NewDeployHandler(deployer Deployer, project string, opts ...Option) *DeployHandler {
	return &DeployHandler{
		base:     newBase(schemas.AgentVercel, "Vercel", nil, opts),
		deployer: deployer,
		project:  project,
	}
}

// Run deploys the configured project; the command and decision are ignored.
func (h *DeployHandler) Run(ctx context.Context, _ string, _ *schemas.Decision) schemas.Result {
	return h.guard(func() schemas.Result {
		return h.deployer.Deploy(ctx, h.project)
	})
}

// VercelDeployer creates deployments through the Vercel REST API.
type VercelDeployer struct {
	client *http.Client
	apiURL string
	token  string
	now    func() time.Time
	log    *zap.Logger
}

var _ Deployer = (*VercelDeployer)(nil)

// NewVercelDeployer builds a deployer from cfg.
func NewVercelDeployer(cfg config.DeployConfig, logger *zap.Logger) *VercelDeployer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &VercelDeployer{
		client: &http.Client{Timeout: timeout},
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.Token,
		now:    time.Now,
		log:    logger.Named("vercel"),
	}
}

type vercelDeployment struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (v *VercelDeployer) failure(err error) schemas.Result {
	return schemas.ErrorResult(schemas.AgentVercel, err, schemas.Timestamp(v.now()))
}

// Deploy creates a production deployment of project. Transport and API
// failures come back as error results.
func (v *VercelDeployer) Deploy(ctx context.Context, project string) schemas.Result {
	if v.token == "" {
		return v.failure(errDeployTokenMissing)
	}
	if project == "" {
		return v.failure(errors.New("deploy project not configured"))
	}

	payload, err := json.Marshal(map[string]any{
		"name":    project,
		"project": project,
		"target":  "production",
	})
	if err != nil {
		return v.failure(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiURL+"/v13/deployments", bytes.NewReader(payload))
	if err != nil {
		return v.failure(err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn("Deployment request failed", zap.String("project", project), zap.Error(err))
		return v.failure(fmt.Errorf("deployment request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return v.failure(fmt.Errorf("failed to read deployment response: %w", err))
	}
	var dep vercelDeployment
	_ = json.Unmarshal(body, &dep)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if dep.Error != nil && dep.Error.Message != "" {
			msg = dep.Error.Message
		}
		return v.failure(fmt.Errorf("deployment rejected (%d): %s", resp.StatusCode, msg))
	}

	v.log.Info("Deployment created", zap.String("project", project), zap.String("id", dep.ID))
	return schemas.Result{
		Agent:     schemas.AgentVercel,
		Status:    schemas.StatusSuccess,
		Action:    "deploy",
		Timestamp: schemas.Timestamp(v.now()),
	}.Set("deployment_id", dep.ID).Set("url", dep.URL).Set("state", dep.ReadyState).Set("project", project)
}
