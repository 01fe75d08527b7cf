package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"geosense/data"
)

// TrainOptions controls one training epoch.
type TrainOptions struct {
	// Shuffle randomizes the task order with Seed.
	Shuffle bool
	Seed    int64

	// Progress, when set, is called after every step with the step index
	// and its loss.
	Progress func(step int, loss float64)
}

// EpochResult reports the losses of one training epoch in execution order.
type EpochResult struct {
	Losses   []float64
	MeanLoss float64
	Duration time.Duration
}

// TrainEpoch runs one pass over the tasks, applying the model's TrainStep
// to each. Delegated numerical failures (non-finite losses, factorization
// errors) abort the epoch and propagate; there is no retry.
func TrainEpoch(m ProbabilisticModel, tasks []*data.Task, opts TrainOptions) (*EpochResult, error) {
	trainable, ok := m.(Trainable)
	if !ok {
		return nil, errors.New("model is not trainable")
	}
	if len(tasks) == 0 {
		return nil, errors.New("no tasks to train on")
	}

	order := make([]int, len(tasks))
	for i := range order {
		order[i] = i
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	start := time.Now()
	result := &EpochResult{Losses: make([]float64, 0, len(tasks))}
	var sum float64
	for step, idx := range order {
		loss, err := trainable.TrainStep(tasks[idx])
		if err != nil {
			return nil, fmt.Errorf("step %d (task %s): %w", step, tasks[idx].Time.Format(time.RFC3339), err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, fmt.Errorf("step %d (task %s): non-finite loss %v", step, tasks[idx].Time.Format(time.RFC3339), loss)
		}
		result.Losses = append(result.Losses, loss)
		sum += loss
		if opts.Progress != nil {
			opts.Progress(step, loss)
		}
	}
	result.MeanLoss = sum / float64(len(result.Losses))
	result.Duration = time.Since(start)
	return result, nil
}
