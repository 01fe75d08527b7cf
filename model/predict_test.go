package model

import (
	"math"
	"testing"
	"time"

	"geosense/data"
)

// buildExperiment normalizes a 2-variable raw grid over declared lat/lon
// ranges and returns the pieces of a small end-to-end pipeline.
func buildExperiment(t *testing.T) (*data.Processor, *data.Loader, *data.Grid) {
	t.Helper()

	times := []time.Time{
		time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	lat := make([]float64, 10)
	lon := make([]float64, 10)
	for i := range lat {
		lat[i] = 20 + 20*float64(i)/9
		lon[i] = 40 + 20*float64(i)/9
	}
	n := len(times) * len(lat) * len(lon)
	temp := make([]float64, n)
	press := make([]float64, n)
	for i := range temp {
		temp[i] = 300 // constant field, must be recovered exactly
		press[i] = 1000 + float64(i%13)
	}
	raw := &data.Grid{
		TimeName: "time",
		X1Name:   "lat",
		X2Name:   "lon",
		Times:    times,
		X1:       lat,
		X2:       lon,
		VarNames: []string{"temperature", "pressure"},
		Vars:     map[string][]float64{"temperature": temp, "pressure": press},
	}

	p, err := data.NewProcessor(data.ProcessorConfig{
		TimeName: "time",
		X1Name:   "lat",
		X2Name:   "lon",
		X1Map:    data.CoordMap{Lo: 20, Hi: 40},
		X2Map:    data.CoordMap{Lo: 40, Hi: 60},
		Strict:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	norm, err := p.NormalizeGrid(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loader, err := data.NewLoader([]data.Source{norm}, []data.Source{norm}, data.WithSeed(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p, loader, raw
}

func TestPredictGridEndToEnd(t *testing.T) {
	p, loader, raw := buildExperiment(t)

	task, err := loader.LoadTask(raw.Times[0], data.SampleFraction(0.1), data.SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := task.NumContextPoints(); got != 10 {
		t.Fatalf("expected 10%% of 100 cells as context, got %d", got)
	}
	if got := task.NumTargetPoints(); got != 100 {
		t.Fatalf("expected all 100 cells as target, got %d", got)
	}

	g, err := NewGP(GPConfig{Lengthscale: 0.3, Variance: 1, Noise: 0.05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pred, err := PredictGrid(g, p, []*data.Task{task}, raw.X1, raw.X2, PredictOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pred.Mean.X1Name != "lat" || pred.Mean.X2Name != "lon" {
		t.Fatalf("original dim names not restored: %s, %s", pred.Mean.X1Name, pred.Mean.X2Name)
	}
	if len(pred.Mean.Times) != 1 || !pred.Mean.Times[0].Equal(raw.Times[0]) {
		t.Fatalf("unexpected prediction times: %v", pred.Mean.Times)
	}
	for i := range raw.X1 {
		if math.Abs(pred.Mean.X1[i]-raw.X1[i]) > 1e-9 {
			t.Fatalf("target coordinate %d not aligned: %v vs %v", i, pred.Mean.X1[i], raw.X1[i])
		}
	}

	// The constant temperature field must come back in original units.
	for i, v := range pred.Mean.Vars["temperature"] {
		if math.Abs(v-300) > 1e-6 {
			t.Fatalf("temperature mean[%d] = %v, want 300", i, v)
		}
	}
	for i, v := range pred.Std.Vars["pressure"] {
		if v <= 0 || math.IsNaN(v) {
			t.Fatalf("pressure stddev[%d] = %v, want positive", i, v)
		}
	}
}

func TestPredictGridResolutionFactor(t *testing.T) {
	p, loader, raw := buildExperiment(t)
	task, err := loader.LoadTask(raw.Times[0], data.SampleFraction(0.2), data.SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := NewGP(GPConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pred, err := PredictGrid(g, p, []*data.Task{task}, raw.X1, raw.X2, PredictOptions{ResolutionFactor: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pred.Mean.X1) != 20 || len(pred.Mean.X2) != 20 {
		t.Fatalf("expected doubled resolution, got %dx%d", len(pred.Mean.X1), len(pred.Mean.X2))
	}
	if math.Abs(pred.Mean.X1[0]-raw.X1[0]) > 1e-9 || math.Abs(pred.Mean.X1[19]-raw.X1[9]) > 1e-9 {
		t.Fatalf("refined grid does not span the original range")
	}
}

func TestPredictPoints(t *testing.T) {
	p, loader, raw := buildExperiment(t)
	tasks := make([]*data.Task, 0, 2)
	for _, day := range raw.Times {
		task, err := loader.LoadTask(day, data.SampleFraction(0.2), data.SampleAll())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tasks = append(tasks, task)
	}
	g, err := NewGP(GPConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stationsLat := []float64{22.4, 31.0, 38.2}
	stationsLon := []float64{41.5, 50.0, 58.8}
	pred, err := PredictPoints(g, p, tasks, stationsLat, stationsLon, PredictOptions{NSamples: 3, Seed: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := pred.Mean.Len(); got != 6 {
		t.Fatalf("expected 2 tasks x 3 stations = 6 rows, got %d", got)
	}
	if len(pred.Samples) != 3 {
		t.Fatalf("expected 3 sample frames, got %d", len(pred.Samples))
	}
	if pred.Mean.X1Name != "lat" {
		t.Fatalf("original dim names not restored: %s", pred.Mean.X1Name)
	}
	if math.Abs(pred.Mean.X1[1]-31.0) > 1e-9 {
		t.Fatalf("station coordinate not restored: %v", pred.Mean.X1[1])
	}
	if !pred.Mean.Times[3].Equal(raw.Times[1]) {
		t.Fatalf("rows not blocked per task: %v", pred.Mean.Times)
	}
}

func TestPredictRequiresTargetVars(t *testing.T) {
	g, err := NewGP(GPConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := gpTestTask(5)
	task.TargetVars = nil
	if _, err := PredictGrid(g, nil, []*data.Task{task}, []float64{0, 1}, []float64{0, 1}, PredictOptions{Normalized: true, KeepNormalized: true}); err == nil {
		t.Fatalf("expected error for tasks without target variable names")
	}
}
