package data

import (
	"errors"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

// genNormGrid builds a grid already in canonical normalized form.
func genNormGrid(vars ...string) *Grid {
	times := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	x1 := []float64{0, 0.25, 0.5, 0.75, 1}
	x2 := []float64{0, 0.5, 1}
	n := len(times) * len(x1) * len(x2)
	g := &Grid{
		TimeName: CanonicalTime,
		X1Name:   CanonicalX1,
		X2Name:   CanonicalX2,
		Times:    times,
		X1:       x1,
		X2:       x2,
		VarNames: vars,
		Vars:     make(map[string][]float64, len(vars)),
	}
	for vi, name := range vars {
		values := make([]float64, n)
		for i := range values {
			values[i] = float64(vi+1) * float64(i%7)
		}
		g.Vars[name] = values
	}
	return g
}

func newTestLoader(t *testing.T, opts ...LoaderOption) *Loader {
	t.Helper()
	grid := genNormGrid("temperature")
	l, err := NewLoader([]Source{grid}, []Source{grid}, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l
}

func TestLoadTaskAll(t *testing.T) {
	l := newTestLoader(t)
	task, err := l.LoadTask(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), SampleAll(), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := task.NumContextPoints(); got != 15 {
		t.Fatalf("expected full context of 15 points, got %d", got)
	}
	if got := task.NumTargetPoints(); got != 15 {
		t.Fatalf("expected full target of 15 points, got %d", got)
	}
	if len(task.TargetVars) != 1 || task.TargetVars[0] != "temperature" {
		t.Fatalf("unexpected target vars: %v", task.TargetVars)
	}
	if err := task.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadTaskFractionZero(t *testing.T) {
	l := newTestLoader(t)
	task, err := l.LoadTask(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), SampleFraction(0), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(task.Context) != 1 {
		t.Fatalf("context set missing: %d sets", len(task.Context))
	}
	if task.Context[0].Len() != 0 {
		t.Fatalf("expected empty context set, got %d points", task.Context[0].Len())
	}
}

func TestLoadTaskFractionSize(t *testing.T) {
	l := newTestLoader(t)
	task, err := l.LoadTask(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), SampleFraction(0.4), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := task.Context[0].Len(); got != 6 {
		t.Fatalf("expected 6 sampled points (40%% of 15), got %d", got)
	}
}

func TestLoadTaskCount(t *testing.T) {
	l := newTestLoader(t)
	task, err := l.LoadTask(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), SampleCount(4), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := task.Context[0].Len(); got != 4 {
		t.Fatalf("expected 4 sampled points, got %d", got)
	}

	if _, err := l.LoadTask(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), SampleCount(100), SampleAll()); err == nil {
		t.Fatalf("expected error when count exceeds available points")
	}
}

func TestLoadTaskDeterminism(t *testing.T) {
	day := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)

	first := newTestLoader(t, WithSeed(42), WithCacheSize(0))
	second := newTestLoader(t, WithSeed(42), WithCacheSize(0))

	a, err := first.LoadTask(day, SampleFraction(0.5), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := second.LoadTask(day, SampleFraction(0.5), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mat.Equal(a.Context[0].X, b.Context[0].X) || !mat.Equal(a.Context[0].Y, b.Context[0].Y) {
		t.Fatalf("same seed and index produced different tasks")
	}

	other := newTestLoader(t, WithSeed(7), WithCacheSize(0))
	c, err := other.LoadTask(day, SampleFraction(0.5), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mat.Equal(a.Context[0].X, c.Context[0].X) {
		t.Fatalf("different seeds produced identical samples")
	}
}

func TestLoadTaskMissingIndex(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.LoadTask(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), SampleAll(), SampleAll())
	if !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestLoadTaskCacheReturnsCopies(t *testing.T) {
	l := newTestLoader(t)
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	a, err := l.LoadTask(day, SampleAll(), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Context[0].Y.Set(0, 0, -999)

	b, err := l.LoadTask(day, SampleAll(), SampleAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Context[0].Y.At(0, 0) == -999 {
		t.Fatalf("cache returned a shared task, mutation leaked")
	}
}
