package model

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// PSDFactor is a factorization of a symmetric positive definite matrix,
// produced by a Backend. It answers linear systems against the matrix,
// exposes its log-determinant, and multiplies by the lower Cholesky factor
// (used to color white noise when sampling).
type PSDFactor interface {
	SolveVec(b []float64) ([]float64, error)
	Solve(b *mat.Dense) (*mat.Dense, error)
	LogDet() float64
	LowerMulVec(z []float64) []float64
}

// Backend is the linear-algebra strategy a model delegates its numerical
// core to. Backends are selected by name at model construction time.
type Backend interface {
	Name() string
	FactorizePSD(a *mat.SymDense) (PSDFactor, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]func() Backend)
)

// RegisterBackend makes a backend constructor available under a name.
func RegisterBackend(name string, constructor func() Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = constructor
}

// NewBackend constructs a registered backend by name. An empty name selects
// the default gonum backend.
func NewBackend(name string) (Backend, error) {
	if name == "" {
		name = "gonum"
	}
	backendsMu.RLock()
	constructor, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, backendNames())
	}
	return constructor(), nil
}

func backendNames() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
