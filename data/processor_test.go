package data

import (
	"errors"
	"math"
	"testing"
	"time"
)

func genRawGrid() *Grid {
	times := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
	}
	lat := []float64{20, 25, 30, 35, 40}
	lon := []float64{40, 46, 52, 60}
	n := len(times) * len(lat) * len(lon)
	temp := make([]float64, n)
	precip := make([]float64, n)
	for i := range temp {
		temp[i] = 270 + float64(i%17)
		precip[i] = float64(i%5) * 0.3
	}
	return &Grid{
		TimeName: "datetime",
		X1Name:   "latitude",
		X2Name:   "longitude",
		Times:    times,
		X1:       lat,
		X2:       lon,
		VarNames: []string{"temperature", "precipitation"},
		Vars:     map[string][]float64{"temperature": temp, "precipitation": precip},
	}
}

func genRawFrame() *Frame {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Frame{
		TimeName:   "datetime",
		X1Name:     "latitude",
		X2Name:     "longitude",
		Times:      []time.Time{t0, t0, t0.AddDate(0, 0, 1)},
		X1:         []float64{22.5, 31, 39},
		X2:         []float64{41, 50, 59.5},
		VarNames:   []string{"temperature"},
		Vars:       map[string][]float64{"temperature": {271.3, 280.1, 268.9}},
		ExtraNames: []string{"station"},
		Extras:     map[string][]string{"station": {"A", "B", "A"}},
	}
}

func newTestProcessor(t *testing.T, strict bool) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorConfig{
		TimeName: "datetime",
		X1Name:   "latitude",
		X2Name:   "longitude",
		X1Map:    CoordMap{Lo: 20, Hi: 40},
		X2Map:    CoordMap{Lo: 40, Hi: 60},
		Strict:   strict,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestProcessorRoundTripGrid(t *testing.T) {
	raw := genRawGrid()
	p := newTestProcessor(t, true)

	norm, err := p.NormalizeGrid(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm.TimeName != CanonicalTime || norm.X1Name != CanonicalX1 || norm.X2Name != CanonicalX2 {
		t.Fatalf("failed to rename dims: %s, %s, %s", norm.TimeName, norm.X1Name, norm.X2Name)
	}
	for _, v := range norm.X1 {
		if v < 0 || v > 1 {
			t.Fatalf("normalized x1 coordinate %v outside [0, 1]", v)
		}
	}

	back, err := p.DenormalizeGrid(norm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.TimeName != "datetime" || back.X1Name != "latitude" || back.X2Name != "longitude" {
		t.Fatalf("original dim names not restored: %s, %s, %s", back.TimeName, back.X1Name, back.X2Name)
	}
	for i := range raw.X1 {
		if math.Abs(back.X1[i]-raw.X1[i]) > 1e-9 {
			t.Fatalf("x1 coordinate %d not restored: %v vs %v", i, back.X1[i], raw.X1[i])
		}
	}
	for _, name := range raw.VarNames {
		for i := range raw.Vars[name] {
			if math.Abs(back.Vars[name][i]-raw.Vars[name][i]) > 1e-9 {
				t.Fatalf("%s[%d] not restored: %v vs %v", name, i, back.Vars[name][i], raw.Vars[name][i])
			}
		}
	}
}

func TestProcessorRoundTripFrame(t *testing.T) {
	raw := genRawFrame()
	p := newTestProcessor(t, true)

	norm, err := p.NormalizeFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm.TimeName != CanonicalTime {
		t.Fatalf("failed to rename dims: %s", norm.TimeName)
	}
	if len(norm.Extras["station"]) != 3 || norm.Extras["station"][1] != "B" {
		t.Fatalf("extra columns not preserved: %v", norm.Extras["station"])
	}

	back, err := p.DenormalizeFrame(norm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.X1Name != "latitude" {
		t.Fatalf("original dim names not restored: %s", back.X1Name)
	}
	for i := range raw.X1 {
		if math.Abs(back.X1[i]-raw.X1[i]) > 1e-9 || math.Abs(back.X2[i]-raw.X2[i]) > 1e-9 {
			t.Fatalf("row %d coords not restored", i)
		}
		if math.Abs(back.Vars["temperature"][i]-raw.Vars["temperature"][i]) > 1e-9 {
			t.Fatalf("row %d value not restored", i)
		}
	}
}

func TestProcessorCustomTargetRange(t *testing.T) {
	p, err := NewProcessor(ProcessorConfig{
		TimeName: "datetime",
		X1Name:   "latitude",
		X2Name:   "longitude",
		X1Map:    CoordMap{Lo: 20, Hi: 40, TargetLo: -1, TargetHi: 1},
		X2Map:    CoordMap{Lo: 40, Hi: 60, TargetLo: -1, TargetHi: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.MapX1(20); math.Abs(got-(-1)) > 1e-12 {
		t.Fatalf("expected lat 20 to map to -1, got %v", got)
	}
	if got := p.MapX1(30); math.Abs(got) > 1e-12 {
		t.Fatalf("expected lat 30 to map to 0, got %v", got)
	}
	if got := p.UnmapX2(1); math.Abs(got-60) > 1e-12 {
		t.Fatalf("expected 1 to unmap to lon 60, got %v", got)
	}
}

func TestProcessorWrongDimNames(t *testing.T) {
	raw := genRawGrid()
	// Swap the spatial dimensions, as if the caller transposed the data.
	raw.X1Name, raw.X2Name = "longitude", "latitude"

	p := newTestProcessor(t, false)
	if _, err := p.NormalizeGrid(raw); !errors.Is(err, ErrUnknownDim) {
		t.Fatalf("expected ErrUnknownDim, got %v", err)
	}
}

func TestProcessorStrictOutOfRange(t *testing.T) {
	raw := genRawGrid()
	raw.X1[0] = 10 // below the declared latitude range

	strict := newTestProcessor(t, true)
	if _, err := strict.NormalizeGrid(raw); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}

	lax := newTestProcessor(t, false)
	if _, err := lax.NormalizeGrid(raw); err != nil {
		t.Fatalf("unexpected error in non-strict mode: %v", err)
	}
}

func TestProcessorStddevNoOffset(t *testing.T) {
	raw := genRawGrid()
	p := newTestProcessor(t, true)
	norm, err := p.NormalizeGrid(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := p.Stats()
	std := stats["temperature"][1]

	unit := norm.Copy()
	for _, name := range unit.VarNames {
		for i := range unit.Vars[name] {
			unit.Vars[name][i] = 1
		}
	}
	out, err := p.DenormalizeGridStddev(unit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.Vars["temperature"][0]; math.Abs(got-std) > 1e-9 {
		t.Fatalf("stddev denormalization should scale without offset: got %v, want %v", got, std)
	}
}

func TestProcessorStatsExportImport(t *testing.T) {
	raw := genRawGrid()
	p := newTestProcessor(t, true)
	norm, err := p.NormalizeGrid(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, err := p.MarshalStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := newTestProcessor(t, true)
	if err := fresh.UnmarshalStats(payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	back, err := fresh.DenormalizeGrid(norm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(back.Vars["temperature"][7]-raw.Vars["temperature"][7]) > 1e-9 {
		t.Fatalf("imported stats did not reproduce denormalization")
	}
}
