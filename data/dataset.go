package data

import (
	"errors"
	"fmt"
	"time"
)

// Grid is a gridded dataset over (time, x1, x2) with one or more named
// variables. Values are stored flat in time-major order: the cell (ti, i, j)
// lives at index (ti*len(X1)+i)*len(X2)+j. A Grid is treated as immutable
// once loaded; transforms return copies.
type Grid struct {
	TimeName string
	X1Name   string
	X2Name   string

	Times []time.Time
	X1    []float64
	X2    []float64

	VarNames []string
	Vars     map[string][]float64
}

// Validate checks internal consistency of the grid.
func (g *Grid) Validate() error {
	if len(g.Times) == 0 {
		return errors.New("grid has no time steps")
	}
	if len(g.X1) == 0 || len(g.X2) == 0 {
		return errors.New("grid has empty spatial coordinates")
	}
	if len(g.VarNames) == 0 {
		return errors.New("grid has no variables")
	}
	want := len(g.Times) * len(g.X1) * len(g.X2)
	for _, name := range g.VarNames {
		values, ok := g.Vars[name]
		if !ok {
			return fmt.Errorf("missing values for variable %s", name)
		}
		if len(values) != want {
			return fmt.Errorf("variable %s: %w: have %d values, want %d", name, ErrShapeMismatch, len(values), want)
		}
	}
	return nil
}

// CellsPerStep returns the number of grid cells in a single time step.
func (g *Grid) CellsPerStep() int {
	return len(g.X1) * len(g.X2)
}

func (g *Grid) index(ti, i, j int) int {
	return (ti*len(g.X1)+i)*len(g.X2) + j
}

// At returns the value of a variable at a (time, x1, x2) cell.
func (g *Grid) At(name string, ti, i, j int) (float64, error) {
	values, ok := g.Vars[name]
	if !ok {
		return 0, fmt.Errorf("unknown variable %s", name)
	}
	if ti < 0 || ti >= len(g.Times) || i < 0 || i >= len(g.X1) || j < 0 || j >= len(g.X2) {
		return 0, fmt.Errorf("cell (%d, %d, %d) out of bounds", ti, i, j)
	}
	return values[g.index(ti, i, j)], nil
}

// TimeIndex returns the position of t in the grid's time coordinate.
func (g *Grid) TimeIndex(t time.Time) (int, bool) {
	for i, ti := range g.Times {
		if ti.Equal(t) {
			return i, true
		}
	}
	return 0, false
}

// Copy returns a deep copy of the grid.
func (g *Grid) Copy() *Grid {
	out := &Grid{
		TimeName: g.TimeName,
		X1Name:   g.X1Name,
		X2Name:   g.X2Name,
		Times:    append([]time.Time(nil), g.Times...),
		X1:       append([]float64(nil), g.X1...),
		X2:       append([]float64(nil), g.X2...),
		VarNames: append([]string(nil), g.VarNames...),
		Vars:     make(map[string][]float64, len(g.Vars)),
	}
	for name, values := range g.Vars {
		out.Vars[name] = append([]float64(nil), values...)
	}
	return out
}

// Variables returns the grid's variable names.
func (g *Grid) Variables() []string {
	return g.VarNames
}

// Frame is a tabular dataset of point observations. Row r carries a time
// stamp, a spatial location and one value per variable. Extra string-valued
// metadata columns (e.g. station IDs) ride along untouched through
// normalization.
type Frame struct {
	TimeName string
	X1Name   string
	X2Name   string

	Times []time.Time
	X1    []float64
	X2    []float64

	VarNames []string
	Vars     map[string][]float64

	ExtraNames []string
	Extras     map[string][]string
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Times)
}

// Validate checks internal consistency of the frame.
func (f *Frame) Validate() error {
	n := len(f.Times)
	if len(f.X1) != n || len(f.X2) != n {
		return fmt.Errorf("coordinate columns: %w", ErrShapeMismatch)
	}
	if len(f.VarNames) == 0 {
		return errors.New("frame has no variables")
	}
	for _, name := range f.VarNames {
		values, ok := f.Vars[name]
		if !ok {
			return fmt.Errorf("missing values for variable %s", name)
		}
		if len(values) != n {
			return fmt.Errorf("variable %s: %w: have %d values, want %d", name, ErrShapeMismatch, len(values), n)
		}
	}
	for _, name := range f.ExtraNames {
		column, ok := f.Extras[name]
		if !ok {
			return fmt.Errorf("missing extra column %s", name)
		}
		if len(column) != n {
			return fmt.Errorf("extra column %s: %w: have %d values, want %d", name, ErrShapeMismatch, len(column), n)
		}
	}
	return nil
}

// Copy returns a deep copy of the frame.
func (f *Frame) Copy() *Frame {
	out := &Frame{
		TimeName:   f.TimeName,
		X1Name:     f.X1Name,
		X2Name:     f.X2Name,
		Times:      append([]time.Time(nil), f.Times...),
		X1:         append([]float64(nil), f.X1...),
		X2:         append([]float64(nil), f.X2...),
		VarNames:   append([]string(nil), f.VarNames...),
		Vars:       make(map[string][]float64, len(f.Vars)),
		ExtraNames: append([]string(nil), f.ExtraNames...),
		Extras:     make(map[string][]string, len(f.Extras)),
	}
	for name, values := range f.Vars {
		out.Vars[name] = append([]float64(nil), values...)
	}
	for name, column := range f.Extras {
		out.Extras[name] = append([]string(nil), column...)
	}
	return out
}

// Variables returns the frame's variable names.
func (f *Frame) Variables() []string {
	return f.VarNames
}

// rowsAt returns the indices of all rows stamped with t.
func (f *Frame) rowsAt(t time.Time) []int {
	var rows []int
	for r, ti := range f.Times {
		if ti.Equal(t) {
			rows = append(rows, r)
		}
	}
	return rows
}
