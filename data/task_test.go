package data

import (
	"errors"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

func testTask() *Task {
	return &Task{
		Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Context: []Set{
			{
				X: mat.NewDense(2, 3, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}),
				Y: mat.NewDense(1, 3, []float64{1, 2, 3}),
			},
		},
		Target: []Set{
			{
				X: mat.NewDense(2, 2, []float64{0.7, 0.8, 0.9, 1.0}),
				Y: mat.NewDense(1, 2, []float64{4, 5}),
			},
		},
		TargetVars: []string{"temperature"},
	}
}

func TestTaskValidateShapeMismatch(t *testing.T) {
	task := testTask()
	if err := task.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task.Context[0].Y = mat.NewDense(1, 2, []float64{1, 2})
	if err := task.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestTaskAppendObs(t *testing.T) {
	task := testTask()

	grown, err := task.AppendObs([]float64{0.45, 0.55}, []float64{9}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if grown.Context[0].Len() != 4 {
		t.Fatalf("expected 4 context points, got %d", grown.Context[0].Len())
	}
	if grown.Context[0].Y.At(0, 3) != 9 {
		t.Fatalf("appended value not found")
	}
	// The original task must be untouched.
	if task.Context[0].Len() != 3 {
		t.Fatalf("append mutated the original task")
	}

	if _, err := task.AppendObs([]float64{0, 0}, []float64{1}, 5); err == nil {
		t.Fatalf("expected error for out-of-range set index")
	}
}

func TestTaskContextPointsConcat(t *testing.T) {
	task := testTask()
	task.Context = append(task.Context, Set{
		X: mat.NewDense(2, 2, []float64{0.15, 0.25, 0.35, 0.45}),
		Y: mat.NewDense(1, 2, []float64{7, 8}),
	}, Set{}) // trailing empty set from zero-fraction sampling

	x1, x2, y, err := task.ContextPoints()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(x1) != 5 || len(x2) != 5 || len(y[0]) != 5 {
		t.Fatalf("expected 5 concatenated points, got %d, %d, %d", len(x1), len(x2), len(y[0]))
	}
	if y[0][4] != 8 {
		t.Fatalf("unexpected concatenation order: %v", y[0])
	}
}

func TestTaskSummary(t *testing.T) {
	task := testTask()
	s := task.Summary()
	if !strings.Contains(s, "X_c[0]: (2, 3)") || !strings.Contains(s, "X_t[0]: (2, 2)") {
		t.Fatalf("unexpected summary: %s", s)
	}
}
