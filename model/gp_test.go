package model

import (
	"math"
	"testing"
	"time"

	"geosense/data"

	"gonum.org/v1/gonum/mat"
)

// smoothField is the test signal sampled over the unit square.
func smoothField(x1, x2 float64) float64 {
	return math.Sin(2*x1) + 0.5*math.Cos(3*x2)
}

func gpTestTask(nContext int) *data.Task {
	task := &data.Task{
		Time:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		TargetVars: []string{"temperature"},
	}

	if nContext > 0 {
		cx := mat.NewDense(2, nContext, nil)
		cy := mat.NewDense(1, nContext, nil)
		for c := 0; c < nContext; c++ {
			x1 := float64(c%5) / 4
			x2 := float64(c/5) / 4
			cx.Set(0, c, x1)
			cx.Set(1, c, x2)
			cy.Set(0, c, smoothField(x1, x2))
		}
		task.Context = []data.Set{{X: cx, Y: cy}}
	} else {
		task.Context = []data.Set{{}}
	}

	tx := mat.NewDense(2, 3, []float64{0.25, 0.5, 0.9, 0.25, 0.5, 0.9})
	ty := mat.NewDense(1, 3, nil)
	for c := 0; c < 3; c++ {
		ty.Set(0, c, smoothField(tx.At(0, c), tx.At(1, c)))
	}
	task.Target = []data.Set{{X: tx, Y: ty}}
	return task
}

func TestGPPriorFallback(t *testing.T) {
	g, err := NewGP(GPConfig{Variance: 1, Noise: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := gpTestTask(0)

	mean, err := g.Mean(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, c := mean.Dims()
	if r != 1 || c != 3 {
		t.Fatalf("unexpected mean shape (%d, %d)", r, c)
	}
	for j := 0; j < c; j++ {
		if mean.At(0, j) != 0 {
			t.Fatalf("prior mean should be zero, got %v", mean.At(0, j))
		}
	}

	std, err := g.Stddev(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := math.Sqrt(1.1)
	if got := std.At(0, 0); math.Abs(got-want) > 1e-9 {
		t.Fatalf("prior stddev %v, want %v", got, want)
	}
}

func TestGPInterpolation(t *testing.T) {
	g, err := NewGP(GPConfig{Lengthscale: 0.3, Variance: 1, Noise: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := gpTestTask(25)

	mean, err := g.Mean(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for c := 0; c < 3; c++ {
		want := task.Target[0].Y.At(0, c)
		if got := mean.At(0, c); math.Abs(got-want) > 0.25 {
			t.Fatalf("target %d: mean %v too far from %v", c, got, want)
		}
	}

	// Uncertainty near observed points must be below the prior level.
	std, err := g.Stddev(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prior := math.Sqrt(1.01)
	for c := 0; c < 3; c++ {
		if got := std.At(0, c); got >= prior {
			t.Fatalf("target %d: stddev %v not reduced below prior %v", c, got, prior)
		}
	}
}

func TestGPSampleDeterminism(t *testing.T) {
	g, err := NewGP(GPConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := gpTestTask(10)

	a, err := g.Sample(task, 2, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(a))
	}
	b, err := g.Sample(task, 2, 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mat.Equal(a[0], b[0]) || !mat.Equal(a[1], b[1]) {
		t.Fatalf("same seed produced different samples")
	}

	c, err := g.Sample(task, 2, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mat.Equal(a[0], c[0]) {
		t.Fatalf("different seeds produced identical samples")
	}
}

func TestGPLogPDF(t *testing.T) {
	g, err := NewGP(GPConfig{Lengthscale: 0.3, Variance: 1, Noise: 0.05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := gpTestTask(25)

	logpdf, err := g.LogPDF(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsNaN(logpdf) || math.IsInf(logpdf, 0) {
		t.Fatalf("non-finite logpdf %v", logpdf)
	}

	// Corrupting the targets must lower the density.
	bad := task.Copy()
	for c := 0; c < 3; c++ {
		bad.Target[0].Y.Set(0, c, bad.Target[0].Y.At(0, c)+5)
	}
	badLogpdf, err := g.LogPDF(bad)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if badLogpdf >= logpdf {
		t.Fatalf("corrupted targets should have lower logpdf: %v vs %v", badLogpdf, logpdf)
	}
}

func TestGPTrainStepReducesLoss(t *testing.T) {
	// Start with badly inflated noise on nearly clean data.
	g, err := NewGP(GPConfig{Lengthscale: 0.3, Variance: 1, Noise: 1, LearningRate: 0.05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := gpTestTask(25)

	first, err := g.TrainStep(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var last float64
	for i := 0; i < 30; i++ {
		last, err = g.TrainStep(task)
		if err != nil {
			t.Fatalf("unexpected error at step %d: %v", i, err)
		}
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first %v, last %v", first, last)
	}
	if got := g.Config().Noise; got >= 1 {
		t.Fatalf("noise hyperparameter did not shrink: %v", got)
	}
}
