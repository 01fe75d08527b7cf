package db

import (
	"testing"
	"time"

	"geosense/data"
)

func initTestDB(t *testing.T) {
	t.Helper()
	if err := InitDB(":memory:"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { CloseDB() })
}

func TestTrainingRunLifecycle(t *testing.T) {
	initTestDB(t)

	runID, err := StartTrainingRun("gp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for epoch := 0; epoch < 3; epoch++ {
		if err := SaveEpochLoss(runID, epoch, 1.0/float64(epoch+1), time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := FinishTrainingRun(runID, 3, 0.33, `{"lengthscale":0.25}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runs, err := RecentTrainingRuns(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Epochs != 3 || runs[0].ModelType != "gp" {
		t.Fatalf("unexpected run: %+v", runs[0])
	}
}

func TestSaveGridPrediction(t *testing.T) {
	initTestDB(t)

	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	mean := &data.Grid{
		TimeName: "time", X1Name: "lat", X2Name: "lon",
		Times:    []time.Time{day},
		X1:       []float64{20, 30},
		X2:       []float64{40, 50},
		VarNames: []string{"temperature"},
		Vars:     map[string][]float64{"temperature": {1, 2, 3, 4}},
	}
	std := mean.Copy()
	for i := range std.Vars["temperature"] {
		std.Vars["temperature"][i] = 0.5
	}

	if err := SaveGridPrediction(7, mean, std); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	points, err := PredictionsAt(day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 stored cells, got %d", len(points))
	}
	if points[0].Std != 0.5 || points[0].Variable != "temperature" {
		t.Fatalf("unexpected point: %+v", points[0])
	}
}
