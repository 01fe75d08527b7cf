package ingest

import (
	"fmt"
	"io"
	"sort"
	"time"

	"geosense/data"
)

// ReadGridCSV parses long-form gridded data (one row per cell per time
// step) into a Grid. The cross product of the observed time, x1 and x2
// coordinates must be complete; holes are an error rather than silently
// becoming NaNs. Rows are taken as-is; run the frame through a Cleaner
// first when the source needs quality control.
func ReadGridCSV(r io.Reader, opts Options) (*data.Grid, error) {
	frame, err := ReadStationsCSV(r, opts)
	if err != nil {
		return nil, err
	}
	return GridFromFrame(frame)
}

// GridFromFrame assembles long-form rows into a dense Grid.
func GridFromFrame(frame *data.Frame) (*data.Grid, error) {
	times := uniqueTimes(frame.Times)
	x1 := uniqueFloats(frame.X1)
	x2 := uniqueFloats(frame.X2)

	timeIdx := make(map[int64]int, len(times))
	for i, t := range times {
		timeIdx[t.UnixNano()] = i
	}
	x1Idx := make(map[float64]int, len(x1))
	for i, v := range x1 {
		x1Idx[v] = i
	}
	x2Idx := make(map[float64]int, len(x2))
	for i, v := range x2 {
		x2Idx[v] = i
	}

	grid := &data.Grid{
		TimeName: frame.TimeName,
		X1Name:   frame.X1Name,
		X2Name:   frame.X2Name,
		Times:    times,
		X1:       x1,
		X2:       x2,
		VarNames: frame.VarNames,
		Vars:     make(map[string][]float64, len(frame.VarNames)),
	}
	cells := len(times) * len(x1) * len(x2)
	seen := make([]bool, cells)
	for _, name := range frame.VarNames {
		grid.Vars[name] = make([]float64, cells)
	}

	for row := 0; row < frame.Len(); row++ {
		ti := timeIdx[frame.Times[row].UnixNano()]
		i := x1Idx[frame.X1[row]]
		j := x2Idx[frame.X2[row]]
		cell := (ti*len(x1)+i)*len(x2) + j
		if seen[cell] {
			return nil, fmt.Errorf("duplicate cell at %s (%v, %v)",
				frame.Times[row].Format(time.RFC3339), frame.X1[row], frame.X2[row])
		}
		seen[cell] = true
		for _, name := range frame.VarNames {
			grid.Vars[name][cell] = frame.Vars[name][row]
		}
	}

	for cell, ok := range seen {
		if !ok {
			ti := cell / (len(x1) * len(x2))
			rest := cell % (len(x1) * len(x2))
			return nil, fmt.Errorf("incomplete grid: missing cell at %s (%v, %v)",
				times[ti].Format(time.RFC3339), x1[rest/len(x2)], x2[rest%len(x2)])
		}
	}

	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return grid, nil
}

func uniqueTimes(in []time.Time) []time.Time {
	set := make(map[int64]time.Time, len(in))
	for _, t := range in {
		set[t.UnixNano()] = t
	}
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = set[k]
	}
	return out
}

func uniqueFloats(in []float64) []float64 {
	set := make(map[float64]struct{}, len(in))
	for _, v := range in {
		set[v] = struct{}{}
	}
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
