package model

import (
	"math"
	"path/filepath"
	"testing"
)

func TestModelSaveLoadRoundTrip(t *testing.T) {
	g, err := NewGP(GPConfig{Lengthscale: 0.42, Variance: 1.7, Noise: 0.03, LearningRate: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "gp.model")
	if err := g.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := LoadModel(ModelTypeGP, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := loaded.(*GP).Config()
	if math.Abs(got.Lengthscale-0.42) > 1e-12 || math.Abs(got.Noise-0.03) > 1e-12 {
		t.Fatalf("hyperparameters not restored: %+v", got)
	}
	if got.Backend != "gonum" {
		t.Fatalf("backend not restored: %s", got.Backend)
	}
}

func TestLoadModelUnsupportedType(t *testing.T) {
	if _, err := LoadModel("transformer", "nowhere.model"); err == nil {
		t.Fatalf("expected error for unsupported model type")
	}
}
