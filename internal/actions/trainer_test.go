package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autodevops/api/schemas"
	"github.com/xkilldash9x/autodevops/internal/store"
)

func TestModelHandler_Train(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	trainer := new(MockTrainer)
	trainer.On("Train", mock.Anything, "m1").
		Return(TrainingRun{DatasetSize: 5000, Epochs: 20, Accuracy: 0.9, Loss: 0.1, TrainingTimeSeconds: 600}, nil).Once()
	trainer.On("Train", mock.Anything, "m1").
		Return(TrainingRun{DatasetSize: 7500, Epochs: 35, Accuracy: 0.82, Loss: 0.2, TrainingTimeSeconds: 900}, nil).Once()
	h := NewModelHandler(s, trainer, testOptions(t)...)

	res := h.Run(ctx, CommandTrain, &schemas.Decision{Model: "m1"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, true, res.Data["created"])

	res = h.Run(ctx, CommandTrain, &schemas.Decision{Model: "m1"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, false, res.Data["created"])
	trainer.AssertExpectations(t)

	models, _, err := store.Recent[schemas.ModelRecord](ctx, s, store.Models, 0)
	require.NoError(t, err)
	require.Len(t, models, 1, "training the same name twice must leave one record")

	m := models[0]
	assert.Equal(t, "m1", m.Name)
	assert.Equal(t, "m1", m.Model)
	assert.Equal(t, "oumi", m.Provider)
	assert.Equal(t, "1.0", m.Version)
	assert.Equal(t, schemas.ModelCompleted, m.Status)

	// The second run's metrics replace the first's.
	assert.Equal(t, 35, m.Epochs)
	assert.Equal(t, 7500, m.DatasetSize)
	assert.Equal(t, 900, m.TrainingTimeSeconds)
	require.NotNil(t, m.Accuracy)
	assert.InDelta(t, 0.82, *m.Accuracy, 1e-9)
	require.NotNil(t, m.Loss)
	assert.InDelta(t, 0.2, *m.Loss, 1e-9)

	assert.Contains(t, logMessages(t, s), "Oumi train_model: Model m1 training completed")
}

func TestModelHandler_TrainDefaultName(t *testing.T) {
	trainer := new(MockTrainer)
	trainer.On("Train", mock.Anything, "model_20240301_120000").Return(TrainingRun{}, nil)
	h := NewModelHandler(newTestStore(t), trainer, testOptions(t)...)

	res := h.Run(context.Background(), CommandTrain, nil)
	require.True(t, res.OK(), res.Error)
	trainer.AssertExpectations(t)
}

func TestModelHandler_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a name", func(t *testing.T) {
		h := NewModelHandler(newTestStore(t), NewSimulatedTrainer(1), testOptions(t)...)
		res := h.Run(ctx, CommandEvaluate, nil)
		assert.Equal(t, "Model name required", res.Error)
	})

	t.Run("requires an existing model", func(t *testing.T) {
		h := NewModelHandler(newTestStore(t), NewSimulatedTrainer(1), testOptions(t)...)
		res := h.Run(ctx, CommandEvaluate, &schemas.Decision{Model: "ghost"})
		assert.Equal(t, schemas.StatusError, res.Status)
		assert.Equal(t, "Model ghost not found", res.Error)
	})

	t.Run("merges the evaluation into the record", func(t *testing.T) {
		s := newTestStore(t)
		h := NewModelHandler(s, NewSimulatedTrainer(1), testOptions(t)...)
		require.True(t, h.Run(ctx, CommandTrain, &schemas.Decision{Model: "m2"}).OK())

		res := h.Run(ctx, CommandEvaluate, &schemas.Decision{Model: "m2"})
		require.True(t, res.OK(), res.Error)

		m, err := store.Get[schemas.ModelRecord](ctx, s, store.Models, "name", "m2")
		require.NoError(t, err)
		require.NotNil(t, m.Evaluation)
		assert.Equal(t, "m2", m.Evaluation.ModelName)
		assert.Equal(t, m.LastEvaluated, m.Evaluation.EvaluatedAt)
		assert.Equal(t, "oumi", m.Provider, "evaluation must not drop existing fields")
		assert.GreaterOrEqual(t, m.Evaluation.Precision, 0.75)
		assert.LessOrEqual(t, m.Evaluation.Precision, 0.95)
	})
}

func TestModelHandler_ListAndIdle(t *testing.T) {
	ctx := context.Background()
	h := NewModelHandler(newTestStore(t), NewSimulatedTrainer(3), testOptions(t)...)
	require.True(t, h.Run(ctx, CommandTrain, &schemas.Decision{Model: "a"}).OK())
	require.True(t, h.Run(ctx, CommandTrain, &schemas.Decision{Model: "b"}).OK())

	res := h.Run(ctx, CommandList, nil)
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Data["count"])

	res = h.Run(ctx, "", nil)
	assert.Equal(t, schemas.StatusIdle, res.Status)
	assert.Equal(t, "Oumi ready. Use commands: train, evaluate, list", res.Message)
}

func TestSimulatedTrainer_Ranges(t *testing.T) {
	s := NewSimulatedTrainer(9)
	for i := 0; i < 200; i++ {
		run, err := s.Train(context.Background(), "x")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, run.Accuracy, 0.75)
		assert.LessOrEqual(t, run.Accuracy, 0.95)
		assert.GreaterOrEqual(t, run.Epochs, 10)
		assert.LessOrEqual(t, run.Epochs, 50)
		assert.GreaterOrEqual(t, run.DatasetSize, 1000)
		assert.LessOrEqual(t, run.DatasetSize, 10000)
	}
}
