package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"geosense/data"
	"geosense/db"
	"geosense/model"
	"geosense/monitoring"

	"go.uber.org/zap"
)

// TrainEnv supplies the task source for training runs started over HTTP.
// Processor and the coordinate axes are used to persist a final prediction
// grid for the run; leaving them unset skips that step.
type TrainEnv struct {
	Loader    *data.Loader
	Times     []time.Time
	Monitor   *monitoring.TrainingMonitor
	Logger    *zap.Logger
	Processor *data.Processor
	X1        []float64
	X2        []float64
}

var (
	trainMu       sync.Mutex
	trainEnv      *TrainEnv
	trainRunning  bool
	startTraining = runTraining
)

// SetTrainEnv installs the training environment.
func SetTrainEnv(env *TrainEnv) {
	trainMu.Lock()
	defer trainMu.Unlock()
	trainEnv = env
}

// TrainingConfig is the POST /api/train request body.
type TrainingConfig struct {
	ModelType       string  `json:"model_type"`
	ModelPath       string  `json:"model_path"`
	Epochs          int     `json:"epochs"`
	ContextFraction float64 `json:"context_fraction"`
	Lengthscale     float64 `json:"lengthscale"`
	Noise           float64 `json:"noise"`
	LearningRate    float64 `json:"learning_rate"`
	Seed            int64   `json:"seed"`
}

func (c *TrainingConfig) validate() error {
	if c.ModelType == "" {
		c.ModelType = model.ModelTypeGP
	}
	if c.ModelType != model.ModelTypeGP {
		return errors.New("unsupported model type")
	}
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Epochs <= 0 {
		return errors.New("epochs must be positive")
	}
	if c.ContextFraction <= 0 || c.ContextFraction >= 1 {
		c.ContextFraction = 0.5
	}
	return nil
}

// buildTasks loads one task per available time step.
func buildTasks(env *TrainEnv, cfg TrainingConfig) ([]*data.Task, error) {
	tasks := make([]*data.Task, 0, len(env.Times))
	for _, t := range env.Times {
		task, err := env.Loader.LoadTask(t, data.SampleFraction(cfg.ContextFraction), data.SampleAll())
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, errors.New("no training tasks available")
	}
	return tasks, nil
}

func runTraining(env *TrainEnv, cfg TrainingConfig) error {
	tasks, err := buildTasks(env, cfg)
	if err != nil {
		return err
	}

	gp, err := model.NewGP(model.GPConfig{
		Lengthscale:  cfg.Lengthscale,
		Noise:        cfg.Noise,
		LearningRate: cfg.LearningRate,
	})
	if err != nil {
		return err
	}

	runID, err := db.StartTrainingRun(cfg.ModelType)
	if err != nil {
		return err
	}
	if env.Monitor != nil {
		env.Monitor.Started(runID, cfg.ModelType, cfg.Epochs)
	}

	finalLoss := 0.0
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		result, err := model.TrainEpoch(gp, tasks, model.TrainOptions{
			Shuffle: true,
			Seed:    cfg.Seed + int64(epoch),
		})
		if err != nil {
			return err
		}
		finalLoss = result.MeanLoss

		if err := db.SaveEpochLoss(runID, epoch, result.MeanLoss, result.Duration); err != nil {
			env.Logger.Warn("save epoch loss failed", zap.Error(err))
		}
		if env.Monitor != nil {
			env.Monitor.EpochDone(runID, epoch, cfg.Epochs, result.MeanLoss, result.Duration)
		}
		env.Logger.Info("epoch completed",
			zap.Int64("run", runID),
			zap.Int("epoch", epoch),
			zap.Float64("loss", result.MeanLoss))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.ModelPath), 0o755); err != nil {
		return err
	}
	if err := gp.Save(cfg.ModelPath); err != nil {
		return err
	}

	hyper, _ := json.Marshal(gp.Config())
	if err := db.FinishTrainingRun(runID, cfg.Epochs, finalLoss, string(hyper)); err != nil {
		env.Logger.Warn("finish training run failed", zap.Error(err))
	}

	if err := persistPredictions(env, gp, runID); err != nil {
		env.Logger.Warn("persist run predictions failed", zap.Error(err))
	}

	if env.Monitor != nil {
		env.Monitor.Finished(runID, finalLoss)
	}
	return nil
}

// persistPredictions stores the fitted model's full-grid prediction for the
// latest time step under the run id, so /api/predictions can serve it.
func persistPredictions(env *TrainEnv, gp *model.GP, runID int64) error {
	if env.Processor == nil || len(env.X1) == 0 || len(env.X2) == 0 || len(env.Times) == 0 {
		return nil
	}

	latest := env.Times[len(env.Times)-1]
	task, err := env.Loader.LoadTask(latest, data.SampleAll(), data.SampleAll())
	if err != nil {
		return err
	}

	pred, err := model.PredictGrid(gp, env.Processor, []*data.Task{task}, env.X1, env.X2, model.PredictOptions{})
	if err != nil {
		return err
	}
	return db.SaveGridPrediction(runID, pred.Mean, pred.Std)
}

func RegisterTrainingHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/train", handleTrain)
}

// handleTrain kicks off a training run in the background and returns 202.
// One run at a time.
func handleTrain(w http.ResponseWriter, r *http.Request) {
	var cfg TrainingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if err := cfg.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trainMu.Lock()
	env := trainEnv
	if env == nil {
		trainMu.Unlock()
		http.Error(w, `{"error":"training not configured"}`, http.StatusServiceUnavailable)
		return
	}
	if trainRunning {
		trainMu.Unlock()
		http.Error(w, `{"error":"training already in progress"}`, http.StatusConflict)
		return
	}
	trainRunning = true
	trainMu.Unlock()

	go func() {
		defer func() {
			trainMu.Lock()
			trainRunning = false
			trainMu.Unlock()
		}()

		if err := startTraining(env, cfg); err != nil {
			env.Logger.Error("training failed", zap.Error(err))
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "training started"})
}
