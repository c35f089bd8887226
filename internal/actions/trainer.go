package actions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
)

const trainerUsage = "Oumi ready. Use commands: train, evaluate, list"

var errModelNameRequired = schemas.NewFailure("model name required", "Model name required")

// TrainingRun is the outcome of one training job.
type TrainingRun struct {
	DatasetSize         int
	Epochs              int
	Accuracy            float64
	Loss                float64
	TrainingTimeSeconds int
}

// Trainer trains and evaluates models.
type Trainer interface {
	Train(ctx context.Context, name string) (TrainingRun, error)
	Evaluate(ctx context.Context, model schemas.ModelRecord) (schemas.ModelEvaluation, error)
}

// SimulatedTrainer returns randomized metrics without training anything.
type SimulatedTrainer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedTrainer seeds a SimulatedTrainer.
func NewSimulatedTrainer(seed uint64) *SimulatedTrainer {
	return &SimulatedTrainer{rng: rand.New(rand.NewPCG(seed, ^seed))}
}

func (s *SimulatedTrainer) intBetween(lo, hi int) int { return lo + s.rng.IntN(hi-lo+1) }

// uniform returns a value in [lo, hi] rounded to three decimals.
func (s *SimulatedTrainer) uniform(lo, hi float64) float64 {
	return math.Round((lo+s.rng.Float64()*(hi-lo))*1000) / 1000
}

// Train returns plausible metrics for a finished run.
func (s *SimulatedTrainer) Train(_ context.Context, _ string) (TrainingRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TrainingRun{
		DatasetSize:         s.intBetween(1000, 10000),
		Epochs:              s.intBetween(10, 50),
		Accuracy:            s.uniform(0.75, 0.95),
		Loss:                s.uniform(0.05, 0.25),
		TrainingTimeSeconds: s.intBetween(300, 1800),
	}, nil
}

// Evaluate returns randomized evaluation metrics for model.
func (s *SimulatedTrainer) Evaluate(_ context.Context, model schemas.ModelRecord) (schemas.ModelEvaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schemas.ModelEvaluation{
		ModelName:             model.Name,
		Accuracy:              s.uniform(0.80, 0.98),
		Precision:             s.uniform(0.75, 0.95),
		Recall:                s.uniform(0.75, 0.95),
		F1Score:               s.uniform(0.75, 0.95),
		HallucinationRate:     s.uniform(0.01, 0.10),
		TokenQualityScore:     s.uniform(0.85, 0.99),
		PatchQualityScore:     s.uniform(0.80, 0.95),
		TestSamples:           s.intBetween(100, 1000),
		EvaluationTimeSeconds: s.intBetween(60, 300),
	}, nil
}

// ModelHandler is the training agent. Model records are keyed by name.
type ModelHandler struct {
	base
	trainer Trainer
}

var _ Handler = (*ModelHandler)(nil)

// NewModelHandler wires a Trainer to the models collection.
func NewModelHandler(st store.Store, trainer Trainer, opts ...Option) *ModelHandler {
	return &ModelHandler{
		base:    newBase(schemas.AgentOumi, "Oumi", st, opts),
		trainer: trainer,
	}
}

// Run handles train, evaluate and list. Training upserts the record by name.
func (m *ModelHandler) Run(ctx context.Context, command string, d *schemas.Decision) schemas.Result {
	var name string
	if d != nil {
		name = d.Model
	}
	return m.guard(func() schemas.Result {
		switch command {
		case CommandTrain:
			return m.train(ctx, name)
		case CommandEvaluate:
			return m.evaluate(ctx, name)
		case CommandList:
			return m.list(ctx)
		default:
			return m.idle(trainerUsage)
		}
	})
}

func (m *ModelHandler) train(ctx context.Context, name string) schemas.Result {
	startedAt := m.now()
	if name == "" {
		name = "model_" + startedAt.Format("20060102_150405")
	}
	m.audit(ctx, "train_model", "Training model: "+name)

	run, err := m.trainer.Train(ctx, name)
	if err != nil {
		return m.failure(fmt.Errorf("training %s failed: %w", name, err))
	}

	record := schemas.ModelRecord{
		Name:                name,
		Status:              schemas.ModelCompleted,
		Accuracy:            &run.Accuracy,
		Loss:                &run.Loss,
		DatasetSize:         run.DatasetSize,
		Epochs:              run.Epochs,
		StartedAt:           schemas.Timestamp(startedAt),
		CompletedAt:         m.ts(),
		TrainingTimeSeconds: run.TrainingTimeSeconds,
	}
	created, err := store.Upsert(ctx, m.store, store.Models, "name", name, record)
	if err != nil {
		return m.failure(fmt.Errorf("failed to store model %s: %w", name, err))
	}
	if created {
		// Identity fields are only stamped on first creation.
		identity := schemas.ModelRecord{Name: name, Model: name, Provider: schemas.AgentOumi, Version: "1.0", Status: record.Status}
		if _, err := store.Upsert(ctx, m.store, store.Models, "name", name, identity); err != nil {
			return m.failure(fmt.Errorf("failed to store model %s: %w", name, err))
		}
	}

	m.audit(ctx, "train_model", fmt.Sprintf("Model %s training completed", name))
	return m.success("train_model").Set("model", record).Set("created", created)
}

func (m *ModelHandler) evaluate(ctx context.Context, name string) schemas.Result {
	if name == "" {
		return m.failure(errModelNameRequired)
	}
	model, err := store.Get[schemas.ModelRecord](ctx, m.store, store.Models, "name", name)
	if errors.Is(err, store.ErrNotFound) {
		return m.failure(schemas.NewFailure("model "+name+" not found", "Model "+name+" not found"))
	}
	if err != nil {
		return m.failure(err)
	}
	m.audit(ctx, "evaluate_model", "Evaluating model: "+name)

	eval, err := m.trainer.Evaluate(ctx, model)
	if err != nil {
		return m.failure(fmt.Errorf("evaluating %s failed: %w", name, err))
	}
	eval.ModelName = name
	eval.EvaluatedAt = m.ts()

	patch := struct {
		Name          string                   `json:"name"`
		LastEvaluated string                   `json:"last_evaluated"`
		Evaluation    *schemas.ModelEvaluation `json:"evaluation"`
	}{name, eval.EvaluatedAt, &eval}
	if _, err := store.Upsert(ctx, m.store, store.Models, "name", name, patch); err != nil {
		return m.failure(fmt.Errorf("failed to store evaluation for %s: %w", name, err))
	}

	m.audit(ctx, "evaluate_model", fmt.Sprintf("Model %s evaluation completed", name))
	return m.success("evaluate_model").Set("model_name", name).Set("evaluation", eval)
}

func (m *ModelHandler) list(ctx context.Context) schemas.Result {
	models, _, err := store.Recent[schemas.ModelRecord](ctx, m.store, store.Models, 0)
	if err != nil {
		return m.failure(err)
	}
	return m.success("list_models").Set("models", models).Set("count", len(models))
}
