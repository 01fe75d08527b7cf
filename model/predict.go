package model

import (
	"errors"
	"fmt"
	"time"

	"geosense/data"

	"gonum.org/v1/gonum/mat"
)

// PredictOptions controls the prediction entry points.
type PredictOptions struct {
	// Normalized marks the supplied target coordinates as already mapped
	// into normalized space.
	Normalized bool

	// ResolutionFactor refines on-grid target coordinates: 2 doubles the
	// resolution, 0.5 halves it. Zero or 1 leaves the grid unchanged.
	ResolutionFactor float64

	// NSamples draws joint samples alongside mean and stddev. Requires the
	// model to implement Sampler.
	NSamples int

	// Seed fixes the sample draw.
	Seed int64

	// KeepNormalized skips denormalization, returning outputs in
	// normalized space.
	KeepNormalized bool
}

// GridPrediction is an on-grid prediction: mean and standard deviation
// grids over (task time, x1, x2), plus optional joint samples.
type GridPrediction struct {
	Mean    *data.Grid
	Std     *data.Grid
	Samples []*data.Grid
}

// PointPrediction is an off-grid prediction at explicit locations.
type PointPrediction struct {
	Mean    *data.Frame
	Std     *data.Frame
	Samples []*data.Frame
}

func linspace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

func refine(coords []float64, factor float64) []float64 {
	if factor <= 0 || factor == 1 || len(coords) < 2 {
		return coords
	}
	n := int(float64(len(coords)) * factor)
	if n < 2 {
		n = 2
	}
	return linspace(coords[0], coords[len(coords)-1], n)
}

func normalizeCoords(p *data.Processor, x1, x2 []float64, opts PredictOptions) ([]float64, []float64, error) {
	if opts.Normalized {
		return x1, x2, nil
	}
	if p == nil {
		return nil, nil, errors.New("a processor is required to normalize target coordinates")
	}
	nx1 := make([]float64, len(x1))
	for i, v := range x1 {
		nx1[i] = p.MapX1(v)
	}
	nx2 := make([]float64, len(x2))
	for i, v := range x2 {
		nx2[i] = p.MapX2(v)
	}
	return nx1, nx2, nil
}

func predictVars(tasks []*data.Task) ([]string, error) {
	if len(tasks) == 0 {
		return nil, errors.New("at least one task is required")
	}
	vars := tasks[0].TargetVars
	if len(vars) == 0 {
		return nil, errors.New("tasks carry no target variable names")
	}
	return vars, nil
}

// runModel evaluates mean, stddev and optional samples for one task with
// its target replaced by the requested coordinates.
func runModel(m ProbabilisticModel, task *data.Task, xt *mat.Dense, opts PredictOptions) (mean, std *mat.Dense, samples []*mat.Dense, err error) {
	tsk := task.Copy()
	tsk.Target = []data.Set{{X: xt}}

	mean, err = m.Mean(tsk)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("task %s: %w", task.Time.Format(time.RFC3339), err)
	}
	std, err = m.Stddev(tsk)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("task %s: %w", task.Time.Format(time.RFC3339), err)
	}
	if opts.NSamples > 0 {
		sampler, ok := m.(Sampler)
		if !ok {
			return nil, nil, nil, errors.New("model does not support sampling")
		}
		samples, err = sampler.Sample(tsk, opts.NSamples, opts.Seed)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("task %s: %w", task.Time.Format(time.RFC3339), err)
		}
	}
	return mean, std, samples, nil
}

func emptyGrid(times []time.Time, x1, x2 []float64, vars []string) *data.Grid {
	g := &data.Grid{
		TimeName: data.CanonicalTime,
		X1Name:   data.CanonicalX1,
		X2Name:   data.CanonicalX2,
		Times:    times,
		X1:       x1,
		X2:       x2,
		VarNames: append([]string(nil), vars...),
		Vars:     make(map[string][]float64, len(vars)),
	}
	n := len(times) * len(x1) * len(x2)
	for _, name := range vars {
		g.Vars[name] = make([]float64, n)
	}
	return g
}

// PredictGrid predicts on a regular grid spanned by x1 and x2 (raw
// coordinates unless opts.Normalized), one time step per task, and returns
// denormalized mean and standard deviation grids in original units and
// dimension names.
func PredictGrid(m ProbabilisticModel, p *data.Processor, tasks []*data.Task, x1, x2 []float64, opts PredictOptions) (*GridPrediction, error) {
	vars, err := predictVars(tasks)
	if err != nil {
		return nil, err
	}
	x1 = refine(x1, opts.ResolutionFactor)
	x2 = refine(x2, opts.ResolutionFactor)
	if len(x1) == 0 || len(x2) == 0 {
		return nil, errors.New("empty target grid")
	}
	nx1, nx2, err := normalizeCoords(p, x1, x2, opts)
	if err != nil {
		return nil, err
	}

	cells := len(nx1) * len(nx2)
	xt := mat.NewDense(2, cells, nil)
	for i := range nx1 {
		for j := range nx2 {
			c := i*len(nx2) + j
			xt.Set(0, c, nx1[i])
			xt.Set(1, c, nx2[j])
		}
	}

	times := make([]time.Time, len(tasks))
	for ti, task := range tasks {
		times[ti] = task.Time
	}
	pred := &GridPrediction{
		Mean: emptyGrid(times, nx1, nx2, vars),
		Std:  emptyGrid(times, nx1, nx2, vars),
	}
	for s := 0; s < opts.NSamples; s++ {
		pred.Samples = append(pred.Samples, emptyGrid(times, nx1, nx2, vars))
	}

	for ti, task := range tasks {
		mean, std, samples, err := runModel(m, task, xt, opts)
		if err != nil {
			return nil, err
		}
		if r, c := mean.Dims(); r != len(vars) || c != cells {
			return nil, fmt.Errorf("model returned (%d, %d) mean, want (%d, %d)", r, c, len(vars), cells)
		}
		offset := ti * cells
		for v, name := range vars {
			for c := 0; c < cells; c++ {
				pred.Mean.Vars[name][offset+c] = mean.At(v, c)
				pred.Std.Vars[name][offset+c] = std.At(v, c)
			}
			for s, draw := range samples {
				for c := 0; c < cells; c++ {
					pred.Samples[s].Vars[name][offset+c] = draw.At(v, c)
				}
			}
		}
	}

	if opts.KeepNormalized {
		return pred, nil
	}
	if p == nil {
		return nil, errors.New("a processor is required to denormalize predictions")
	}
	if pred.Mean, err = p.DenormalizeGrid(pred.Mean); err != nil {
		return nil, err
	}
	if pred.Std, err = p.DenormalizeGridStddev(pred.Std); err != nil {
		return nil, err
	}
	for s := range pred.Samples {
		if pred.Samples[s], err = p.DenormalizeGrid(pred.Samples[s]); err != nil {
			return nil, err
		}
	}
	return pred, nil
}

func emptyFrame(tasks []*data.Task, x1, x2 []float64, vars []string) *data.Frame {
	n := len(tasks) * len(x1)
	f := &data.Frame{
		TimeName: data.CanonicalTime,
		X1Name:   data.CanonicalX1,
		X2Name:   data.CanonicalX2,
		Times:    make([]time.Time, 0, n),
		X1:       make([]float64, 0, n),
		X2:       make([]float64, 0, n),
		VarNames: append([]string(nil), vars...),
		Vars:     make(map[string][]float64, len(vars)),
	}
	for _, task := range tasks {
		for i := range x1 {
			f.Times = append(f.Times, task.Time)
			f.X1 = append(f.X1, x1[i])
			f.X2 = append(f.X2, x2[i])
		}
	}
	for _, name := range vars {
		f.Vars[name] = make([]float64, n)
	}
	return f
}

// PredictPoints predicts at explicit off-grid locations given as paired
// (x1[i], x2[i]) rows, one block of rows per task, and returns denormalized
// mean and standard deviation frames.
func PredictPoints(m ProbabilisticModel, p *data.Processor, tasks []*data.Task, x1, x2 []float64, opts PredictOptions) (*PointPrediction, error) {
	vars, err := predictVars(tasks)
	if err != nil {
		return nil, err
	}
	if len(x1) == 0 || len(x1) != len(x2) {
		return nil, fmt.Errorf("target locations: %w", data.ErrShapeMismatch)
	}
	nx1, nx2, err := normalizeCoords(p, x1, x2, opts)
	if err != nil {
		return nil, err
	}

	npts := len(nx1)
	xt := mat.NewDense(2, npts, nil)
	for c := range nx1 {
		xt.Set(0, c, nx1[c])
		xt.Set(1, c, nx2[c])
	}

	pred := &PointPrediction{
		Mean: emptyFrame(tasks, nx1, nx2, vars),
		Std:  emptyFrame(tasks, nx1, nx2, vars),
	}
	for s := 0; s < opts.NSamples; s++ {
		pred.Samples = append(pred.Samples, emptyFrame(tasks, nx1, nx2, vars))
	}

	for ti, task := range tasks {
		mean, std, samples, err := runModel(m, task, xt, opts)
		if err != nil {
			return nil, err
		}
		if r, c := mean.Dims(); r != len(vars) || c != npts {
			return nil, fmt.Errorf("model returned (%d, %d) mean, want (%d, %d)", r, c, len(vars), npts)
		}
		offset := ti * npts
		for v, name := range vars {
			for c := 0; c < npts; c++ {
				pred.Mean.Vars[name][offset+c] = mean.At(v, c)
				pred.Std.Vars[name][offset+c] = std.At(v, c)
			}
			for s, draw := range samples {
				for c := 0; c < npts; c++ {
					pred.Samples[s].Vars[name][offset+c] = draw.At(v, c)
				}
			}
		}
	}

	if opts.KeepNormalized {
		return pred, nil
	}
	if p == nil {
		return nil, errors.New("a processor is required to denormalize predictions")
	}
	if pred.Mean, err = p.DenormalizeFrame(pred.Mean); err != nil {
		return nil, err
	}
	if pred.Std, err = p.DenormalizeFrameStddev(pred.Std); err != nil {
		return nil, err
	}
	for s := range pred.Samples {
		if pred.Samples[s], err = p.DenormalizeFrame(pred.Samples[s]); err != nil {
			return nil, err
		}
	}
	return pred, nil
}
