package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"geosense/data"
	"geosense/db"
	"geosense/model"
)

// ModelProvider yields the model serving predictions. The fsnotify watcher
// satisfies this so reloads take effect without restarting.
type ModelProvider interface {
	Model() model.ProbabilisticModel
}

// PredictEnv is everything the predict handler needs besides the model:
// the fitted processor, a loader over the context datasets and the raw
// target coordinates.
type PredictEnv struct {
	Processor *data.Processor
	Loader    *data.Loader
	X1        []float64
	X2        []float64
}

var (
	envMu         sync.RWMutex
	modelProvider ModelProvider
	predictEnv    *PredictEnv
)

// SetModelProvider installs the serving model source.
func SetModelProvider(p ModelProvider) {
	envMu.Lock()
	defer envMu.Unlock()
	modelProvider = p
}

// SetPredictEnv installs the prediction environment.
func SetPredictEnv(env *PredictEnv) {
	envMu.Lock()
	defer envMu.Unlock()
	predictEnv = env
}

// contextTask is swappable in tests.
var contextTask = func(env *PredictEnv, t time.Time) (*data.Task, error) {
	return env.Loader.LoadTask(t, data.SampleAll(), data.SampleAll())
}

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/predict", handlePredict)
	mux.HandleFunc("GET /api/runs", handleRuns)
	mux.HandleFunc("GET /api/predictions", handleStoredPredictions)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

type gridResponse struct {
	Time      time.Time            `json:"time"`
	X1Name    string               `json:"x1_name"`
	X2Name    string               `json:"x2_name"`
	X1        []float64            `json:"x1"`
	X2        []float64            `json:"x2"`
	Variables []string             `json:"variables"`
	Mean      map[string][]float64 `json:"mean"`
	Stddev    map[string][]float64 `json:"stddev"`
}

func handlePredict(w http.ResponseWriter, r *http.Request) {
	envMu.RLock()
	provider := modelProvider
	env := predictEnv
	envMu.RUnlock()

	if provider == nil || provider.Model() == nil || env == nil {
		http.Error(w, `{"error":"no model loaded"}`, http.StatusServiceUnavailable)
		return
	}

	timeStr := r.URL.Query().Get("time")
	if timeStr == "" {
		http.Error(w, `{"error":"time is required"}`, http.StatusBadRequest)
		return
	}
	t, err := parseTime(timeStr)
	if err != nil {
		http.Error(w, `{"error":"invalid time"}`, http.StatusBadRequest)
		return
	}

	opts := model.PredictOptions{}
	if s := r.URL.Query().Get("resolution_factor"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			opts.ResolutionFactor = f
		}
	}
	if s := r.URL.Query().Get("n_samples"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			opts.NSamples = n
		}
	}
	if s := r.URL.Query().Get("seed"); s != "" {
		if seed, err := strconv.ParseInt(s, 10, 64); err == nil {
			opts.Seed = seed
		}
	}

	task, err := contextTask(env, t)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	pred, err := model.PredictGrid(provider.Model(), env.Processor, []*data.Task{task}, env.X1, env.X2, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := gridResponse{
		Time:      t,
		X1Name:    pred.Mean.X1Name,
		X2Name:    pred.Mean.X2Name,
		X1:        pred.Mean.X1,
		X2:        pred.Mean.X2,
		Variables: pred.Mean.VarNames,
		Mean:      pred.Mean.Vars,
		Stddev:    pred.Std.Vars,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}

	runs, err := db.RecentTrainingRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"runs": runs})
}

func handleStoredPredictions(w http.ResponseWriter, r *http.Request) {
	timeStr := r.URL.Query().Get("time")
	if timeStr == "" {
		http.Error(w, `{"error":"time is required"}`, http.StatusBadRequest)
		return
	}
	t, err := parseTime(timeStr)
	if err != nil {
		http.Error(w, `{"error":"invalid time"}`, http.StatusBadRequest)
		return
	}

	points, err := db.PredictionsAt(t)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(points) == 0 {
		http.Error(w, `{"error":"no predictions found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"time": t, "points": points})
}
