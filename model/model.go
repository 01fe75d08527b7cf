// Package model defines the probabilistic model contracts consumed by the
// prediction and training entry points, and a conditional Gaussian process
// implementation of them.
package model

import (
	"fmt"
	"math"

	"geosense/data"

	"gonum.org/v1/gonum/mat"
)

// ProbabilisticModel is the minimal capability a model must provide: a
// predictive mean and standard deviation over a task's target points, as
// VxN matrices (one row per target variable). Everything else is optional
// and discovered by interface assertion.
type ProbabilisticModel interface {
	Mean(task *data.Task) (*mat.Dense, error)
	Stddev(task *data.Task) (*mat.Dense, error)
}

// VarianceModel exposes the marginal predictive variance.
type VarianceModel interface {
	Variance(task *data.Task) (*mat.Dense, error)
}

// LogPDFModel exposes the log-density of the task's target values under the
// predictive distribution. Its negation is the training loss.
type LogPDFModel interface {
	LogPDF(task *data.Task) (float64, error)
}

// Sampler draws n samples over the task's target points. Each sample is a
// VxN matrix.
type Sampler interface {
	Sample(task *data.Task, n int, seed int64) ([]*mat.Dense, error)
}

// Trainable models support per-task parameter updates. TrainStep returns
// the loss at the current parameters before applying the update.
type Trainable interface {
	TrainStep(task *data.Task) (float64, error)
}

// StddevFromVariance derives a standard deviation matrix from a model's
// variance, for implementations that only supply Variance.
func StddevFromVariance(m VarianceModel, task *data.Task) (*mat.Dense, error) {
	variance, err := m.Variance(task)
	if err != nil {
		return nil, err
	}
	r, c := variance.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := variance.At(i, j)
			if v < 0 {
				return nil, fmt.Errorf("negative variance %v at (%d, %d)", v, i, j)
			}
			out.Set(i, j, math.Sqrt(v))
		}
	}
	return out, nil
}
