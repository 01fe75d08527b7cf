package data

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Set is one context or target set: a 2xN matrix of normalized coordinates
// (row 0 = x1, row 1 = x2) paired with a VxN matrix of values, one row per
// variable. An empty set has nil matrices and zero length; it is still a
// valid set and models must tolerate it.
type Set struct {
	X *mat.Dense
	Y *mat.Dense
}

// Len returns the number of points in the set.
func (s Set) Len() int {
	if s.X == nil {
		return 0
	}
	_, n := s.X.Dims()
	return n
}

// NumVars returns the number of value rows in the set.
func (s Set) NumVars() int {
	if s.Y == nil {
		return 0
	}
	v, _ := s.Y.Dims()
	return v
}

func (s Set) validate(kind string, idx int) error {
	if s.X == nil {
		if s.Y != nil {
			return fmt.Errorf("%s set %d: %w: values without coordinates", kind, idx, ErrShapeMismatch)
		}
		return nil
	}
	r, n := s.X.Dims()
	if r != 2 {
		return fmt.Errorf("%s set %d: %w: coordinate matrix has %d rows, want 2", kind, idx, ErrShapeMismatch, r)
	}
	if s.Y != nil {
		if _, yn := s.Y.Dims(); yn != n {
			return fmt.Errorf("%s set %d: %w: %d coordinates vs %d values", kind, idx, ErrShapeMismatch, n, yn)
		}
	}
	return nil
}

func (s Set) copy() Set {
	var out Set
	if s.X != nil {
		out.X = mat.DenseCopyOf(s.X)
	}
	if s.Y != nil {
		out.Y = mat.DenseCopyOf(s.Y)
	}
	return out
}

// Task is the unit of model consumption: context sets conditioning a
// prediction and target sets where predictions (and optionally ground truth
// for training) are requested. Tasks are short-lived and consumed, not
// mutated; operations that change a task return a copy.
type Task struct {
	Time time.Time

	Context []Set
	Target  []Set

	// TargetVars names the value rows of the target sets, in order.
	TargetVars []string
}

// Validate checks the pointwise alignment of every set in the task.
func (t *Task) Validate() error {
	for i, s := range t.Context {
		if err := s.validate("context", i); err != nil {
			return err
		}
	}
	for i, s := range t.Target {
		if err := s.validate("target", i); err != nil {
			return err
		}
	}
	return nil
}

// Copy returns a deep copy of the task.
func (t *Task) Copy() *Task {
	out := &Task{
		Time:       t.Time,
		Context:    make([]Set, len(t.Context)),
		Target:     make([]Set, len(t.Target)),
		TargetVars: append([]string(nil), t.TargetVars...),
	}
	for i, s := range t.Context {
		out.Context[i] = s.copy()
	}
	for i, s := range t.Target {
		out.Target[i] = s.copy()
	}
	return out
}

// AppendObs returns a copy of the task with a single observation appended to
// context set setIdx. x must have length 2 and y one value per variable of
// the set.
func (t *Task) AppendObs(x, y []float64, setIdx int) (*Task, error) {
	if setIdx < 0 || setIdx >= len(t.Context) {
		return nil, fmt.Errorf("context set index %d out of range [0, %d)", setIdx, len(t.Context))
	}
	if len(x) != 2 {
		return nil, fmt.Errorf("%w: observation coordinate has %d components, want 2", ErrShapeMismatch, len(x))
	}
	out := t.Copy()
	s := out.Context[setIdx]

	n := s.Len()
	if n > 0 && s.NumVars() != len(y) {
		return nil, fmt.Errorf("%w: observation has %d values, set has %d variables", ErrShapeMismatch, len(y), s.NumVars())
	}
	nv := len(y)

	newX := mat.NewDense(2, n+1, nil)
	newY := mat.NewDense(nv, n+1, nil)
	for c := 0; c < n; c++ {
		newX.Set(0, c, s.X.At(0, c))
		newX.Set(1, c, s.X.At(1, c))
		for v := 0; v < nv; v++ {
			newY.Set(v, c, s.Y.At(v, c))
		}
	}
	newX.Set(0, n, x[0])
	newX.Set(1, n, x[1])
	for v := 0; v < nv; v++ {
		newY.Set(v, n, y[v])
	}
	out.Context[setIdx] = Set{X: newX, Y: newY}
	return out, nil
}

// ContextPoints concatenates all context sets into flat coordinate slices
// and one value slice per variable. Sets must agree on the variable count.
func (t *Task) ContextPoints() (x1, x2 []float64, y [][]float64, err error) {
	nv := -1
	for i, s := range t.Context {
		n := s.Len()
		if n == 0 {
			continue
		}
		if nv < 0 {
			nv = s.NumVars()
			y = make([][]float64, nv)
		} else if s.NumVars() != nv {
			return nil, nil, nil, fmt.Errorf("context set %d: %w: %d variables vs %d", i, ErrShapeMismatch, s.NumVars(), nv)
		}
		for c := 0; c < n; c++ {
			x1 = append(x1, s.X.At(0, c))
			x2 = append(x2, s.X.At(1, c))
			for v := 0; v < nv; v++ {
				y[v] = append(y[v], s.Y.At(v, c))
			}
		}
	}
	return x1, x2, y, nil
}

// TargetPoints concatenates all target set coordinates, and values when
// present on every non-empty set.
func (t *Task) TargetPoints() (x1, x2 []float64, y [][]float64, err error) {
	nv := -1
	haveY := true
	for _, s := range t.Target {
		if s.Len() > 0 && s.Y == nil {
			haveY = false
		}
	}
	for i, s := range t.Target {
		n := s.Len()
		if n == 0 {
			continue
		}
		if haveY {
			if nv < 0 {
				nv = s.NumVars()
				y = make([][]float64, nv)
			} else if s.NumVars() != nv {
				return nil, nil, nil, fmt.Errorf("target set %d: %w: %d variables vs %d", i, ErrShapeMismatch, s.NumVars(), nv)
			}
		}
		for c := 0; c < n; c++ {
			x1 = append(x1, s.X.At(0, c))
			x2 = append(x2, s.X.At(1, c))
			if haveY {
				for v := 0; v < nv; v++ {
					y[v] = append(y[v], s.Y.At(v, c))
				}
			}
		}
	}
	return x1, x2, y, nil
}

// NumContextPoints returns the total point count across context sets.
func (t *Task) NumContextPoints() int {
	var n int
	for _, s := range t.Context {
		n += s.Len()
	}
	return n
}

// NumTargetPoints returns the total point count across target sets.
func (t *Task) NumTargetPoints() int {
	var n int
	for _, s := range t.Target {
		n += s.Len()
	}
	return n
}

// Summary returns a human-readable shape summary of the task.
func (t *Task) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", t.Time.Format("2006-01-02T15:04:05Z07:00"))
	for i, s := range t.Context {
		fmt.Fprintf(&b, "X_c[%d]: (2, %d)  Y_c[%d]: (%d, %d)\n", i, s.Len(), i, s.NumVars(), s.Len())
	}
	for i, s := range t.Target {
		if s.Y != nil {
			fmt.Fprintf(&b, "X_t[%d]: (2, %d)  Y_t[%d]: (%d, %d)\n", i, s.Len(), i, s.NumVars(), s.Len())
		} else {
			fmt.Fprintf(&b, "X_t[%d]: (2, %d)\n", i, s.Len())
		}
	}
	return b.String()
}
