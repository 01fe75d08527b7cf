package model

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

func init() {
	RegisterBackend("gonum", func() Backend { return gonumBackend{} })
}

// gonumBackend implements the numerical core on gonum's dense Cholesky
// factorization.
type gonumBackend struct{}

func (gonumBackend) Name() string { return "gonum" }

func (gonumBackend) FactorizePSD(a *mat.SymDense) (PSDFactor, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.New("matrix is not positive definite")
	}
	return &gonumFactor{chol: chol}, nil
}

type gonumFactor struct {
	chol mat.Cholesky
}

func (f *gonumFactor) SolveVec(b []float64) ([]float64, error) {
	var dst mat.VecDense
	if err := f.chol.SolveVecTo(&dst, mat.NewVecDense(len(b), b)); err != nil {
		return nil, err
	}
	out := make([]float64, len(b))
	for i := range out {
		out[i] = dst.AtVec(i)
	}
	return out, nil
}

func (f *gonumFactor) Solve(b *mat.Dense) (*mat.Dense, error) {
	var dst mat.Dense
	if err := f.chol.SolveTo(&dst, b); err != nil {
		return nil, err
	}
	return &dst, nil
}

func (f *gonumFactor) LogDet() float64 {
	return f.chol.LogDet()
}

func (f *gonumFactor) LowerMulVec(z []float64) []float64 {
	var lower mat.TriDense
	f.chol.LTo(&lower)
	var dst mat.VecDense
	dst.MulVec(&lower, mat.NewVecDense(len(z), z))
	out := make([]float64, len(z))
	for i := range out {
		out[i] = dst.AtVec(i)
	}
	return out
}
