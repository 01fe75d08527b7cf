package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Canonical dimension names used by normalized datasets.
const (
	CanonicalTime = "time"
	CanonicalX1   = "x1"
	CanonicalX2   = "x2"
)

// Value normalization methods.
const (
	MethodMeanStd = "mean_std"
	MethodMinMax  = "min_max"
)

const coordEps = 1e-9

// CoordMap is an affine mapping from a source coordinate range to a target
// range. A zero target range defaults to [0, 1].
type CoordMap struct {
	Lo       float64
	Hi       float64
	TargetLo float64
	TargetHi float64
}

func (m CoordMap) withDefaults() CoordMap {
	if m.TargetLo == 0 && m.TargetHi == 0 {
		m.TargetLo, m.TargetHi = 0, 1
	}
	return m
}

func (m CoordMap) apply(v float64) float64 {
	return m.TargetLo + (v-m.Lo)*(m.TargetHi-m.TargetLo)/(m.Hi-m.Lo)
}

func (m CoordMap) invert(v float64) float64 {
	return m.Lo + (v-m.TargetLo)*(m.Hi-m.Lo)/(m.TargetHi-m.TargetLo)
}

func (m CoordMap) contains(v float64) bool {
	return v >= m.Lo-coordEps && v <= m.Hi+coordEps
}

// ProcessorConfig declares dimension names and coordinate maps for a
// Processor. TimeName/X1Name/X2Name default to the canonical names.
type ProcessorConfig struct {
	TimeName string
	X1Name   string
	X2Name   string

	X1Map CoordMap
	X2Map CoordMap

	// Method selects per-variable value scaling: MethodMeanStd (default)
	// or MethodMinMax.
	Method string

	// Strict makes normalization fail on coordinates outside the declared
	// map ranges.
	Strict bool
}

// Processor normalizes raw datasets into the canonical coordinate/value
// representation consumed by models, and denormalizes model outputs back to
// original units and dimension names. The transform is pure and invertible:
// Denormalize(Normalize(x)) restores x within floating-point tolerance.
//
// Per-variable scaling statistics are computed the first time a variable is
// seen and reused for every subsequent call, so a processor applies one
// consistent transform for the lifetime of an experiment.
type Processor struct {
	cfg      ProcessorConfig
	varStats map[string][2]float64
}

// NewProcessor creates a Processor from a config.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.TimeName == "" {
		cfg.TimeName = CanonicalTime
	}
	if cfg.X1Name == "" {
		cfg.X1Name = CanonicalX1
	}
	if cfg.X2Name == "" {
		cfg.X2Name = CanonicalX2
	}
	if cfg.Method == "" {
		cfg.Method = MethodMeanStd
	}
	if cfg.Method != MethodMeanStd && cfg.Method != MethodMinMax {
		return nil, fmt.Errorf("unsupported normalization method %q", cfg.Method)
	}
	cfg.X1Map = cfg.X1Map.withDefaults()
	cfg.X2Map = cfg.X2Map.withDefaults()
	if cfg.X1Map.Hi <= cfg.X1Map.Lo {
		return nil, fmt.Errorf("x1 map: hi (%v) must exceed lo (%v)", cfg.X1Map.Hi, cfg.X1Map.Lo)
	}
	if cfg.X2Map.Hi <= cfg.X2Map.Lo {
		return nil, fmt.Errorf("x2 map: hi (%v) must exceed lo (%v)", cfg.X2Map.Hi, cfg.X2Map.Lo)
	}
	return &Processor{cfg: cfg, varStats: make(map[string][2]float64)}, nil
}

// MapX1 maps a raw x1 coordinate into normalized space.
func (p *Processor) MapX1(v float64) float64 { return p.cfg.X1Map.apply(v) }

// MapX2 maps a raw x2 coordinate into normalized space.
func (p *Processor) MapX2(v float64) float64 { return p.cfg.X2Map.apply(v) }

// UnmapX1 maps a normalized x1 coordinate back to raw space.
func (p *Processor) UnmapX1(v float64) float64 { return p.cfg.X1Map.invert(v) }

// UnmapX2 maps a normalized x2 coordinate back to raw space.
func (p *Processor) UnmapX2(v float64) float64 { return p.cfg.X2Map.invert(v) }

func (p *Processor) checkRawDims(timeName, x1Name, x2Name string) error {
	if timeName != p.cfg.TimeName {
		return fmt.Errorf("%w: time dimension %q, configured %q (dimensions must be ordered time, x1, x2)", ErrUnknownDim, timeName, p.cfg.TimeName)
	}
	if x1Name != p.cfg.X1Name {
		return fmt.Errorf("%w: x1 dimension %q, configured %q (dimensions must be ordered time, x1, x2)", ErrUnknownDim, x1Name, p.cfg.X1Name)
	}
	if x2Name != p.cfg.X2Name {
		return fmt.Errorf("%w: x2 dimension %q, configured %q (dimensions must be ordered time, x1, x2)", ErrUnknownDim, x2Name, p.cfg.X2Name)
	}
	return nil
}

func (p *Processor) checkNormDims(timeName, x1Name, x2Name string) error {
	if timeName != CanonicalTime || x1Name != CanonicalX1 || x2Name != CanonicalX2 {
		return fmt.Errorf("%w: expected canonical dimensions (%s, %s, %s), got (%s, %s, %s)",
			ErrUnknownDim, CanonicalTime, CanonicalX1, CanonicalX2, timeName, x1Name, x2Name)
	}
	return nil
}

func (p *Processor) mapCoords(m CoordMap, raw []float64, axis string) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, v := range raw {
		if p.cfg.Strict && !m.contains(v) {
			return nil, fmt.Errorf("%s=%v: %w [%v, %v]", axis, v, ErrOutOfRange, m.Lo, m.Hi)
		}
		out[i] = m.apply(v)
	}
	return out, nil
}

func unmapCoords(m CoordMap, norm []float64) []float64 {
	out := make([]float64, len(norm))
	for i, v := range norm {
		out[i] = m.invert(v)
	}
	return out
}

// statsFor returns the scaling statistics for a variable, computing them
// from values on first sight.
func (p *Processor) statsFor(name string, values []float64) [2]float64 {
	if stats, ok := p.varStats[name]; ok {
		return stats
	}
	var stats [2]float64
	switch p.cfg.Method {
	case MethodMinMax:
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			hi = lo + 1
		}
		stats = [2]float64{lo, hi}
	default: // MethodMeanStd
		var sum float64
		for _, v := range values {
			sum += v
		}
		mean := sum / float64(len(values))
		var ss float64
		for _, v := range values {
			d := v - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(len(values)))
		if std == 0 {
			std = 1
		}
		stats = [2]float64{mean, std}
	}
	p.varStats[name] = stats
	return stats
}

func (p *Processor) normalizeValues(name string, values []float64) []float64 {
	stats := p.statsFor(name, values)
	out := make([]float64, len(values))
	switch p.cfg.Method {
	case MethodMinMax:
		span := stats[1] - stats[0]
		for i, v := range values {
			out[i] = (v - stats[0]) / span
		}
	default:
		for i, v := range values {
			out[i] = (v - stats[0]) / stats[1]
		}
	}
	return out
}

func (p *Processor) denormalizeValues(name string, values []float64, withOffset bool) ([]float64, error) {
	stats, ok := p.varStats[name]
	if !ok {
		return nil, fmt.Errorf("no scaling statistics for variable %s", name)
	}
	out := make([]float64, len(values))
	var scale, offset float64
	switch p.cfg.Method {
	case MethodMinMax:
		scale, offset = stats[1]-stats[0], stats[0]
	default:
		scale, offset = stats[1], stats[0]
	}
	if !withOffset {
		offset = 0
	}
	for i, v := range values {
		out[i] = v*scale + offset
	}
	return out, nil
}

// NormalizeGrid returns a normalized copy of a raw grid: dimensions renamed
// to canonical form, coordinates affinely mapped, values standardized.
func (p *Processor) NormalizeGrid(raw *Grid) (*Grid, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkRawDims(raw.TimeName, raw.X1Name, raw.X2Name); err != nil {
		return nil, err
	}
	x1, err := p.mapCoords(p.cfg.X1Map, raw.X1, p.cfg.X1Name)
	if err != nil {
		return nil, err
	}
	x2, err := p.mapCoords(p.cfg.X2Map, raw.X2, p.cfg.X2Name)
	if err != nil {
		return nil, err
	}
	out := &Grid{
		TimeName: CanonicalTime,
		X1Name:   CanonicalX1,
		X2Name:   CanonicalX2,
		Times:    append([]time.Time(nil), raw.Times...),
		X1:       x1,
		X2:       x2,
		VarNames: append([]string(nil), raw.VarNames...),
		Vars:     make(map[string][]float64, len(raw.Vars)),
	}
	for _, name := range raw.VarNames {
		out.Vars[name] = p.normalizeValues(name, raw.Vars[name])
	}
	return out, nil
}

func (p *Processor) denormalizeGrid(norm *Grid, withOffset bool) (*Grid, error) {
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkNormDims(norm.TimeName, norm.X1Name, norm.X2Name); err != nil {
		return nil, err
	}
	out := &Grid{
		TimeName: p.cfg.TimeName,
		X1Name:   p.cfg.X1Name,
		X2Name:   p.cfg.X2Name,
		Times:    append([]time.Time(nil), norm.Times...),
		X1:       unmapCoords(p.cfg.X1Map, norm.X1),
		X2:       unmapCoords(p.cfg.X2Map, norm.X2),
		VarNames: append([]string(nil), norm.VarNames...),
		Vars:     make(map[string][]float64, len(norm.Vars)),
	}
	for _, name := range norm.VarNames {
		values, err := p.denormalizeValues(name, norm.Vars[name], withOffset)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = values
	}
	return out, nil
}

// DenormalizeGrid maps a normalized grid back to original units, coordinates
// and dimension names.
func (p *Processor) DenormalizeGrid(norm *Grid) (*Grid, error) {
	return p.denormalizeGrid(norm, true)
}

// DenormalizeGridStddev denormalizes a grid of standard deviations: the
// value scale is applied without the additive offset.
func (p *Processor) DenormalizeGridStddev(norm *Grid) (*Grid, error) {
	return p.denormalizeGrid(norm, false)
}

// NormalizeFrame returns a normalized copy of a raw frame. Extra metadata
// columns are preserved untouched.
func (p *Processor) NormalizeFrame(raw *Frame) (*Frame, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkRawDims(raw.TimeName, raw.X1Name, raw.X2Name); err != nil {
		return nil, err
	}
	x1, err := p.mapCoords(p.cfg.X1Map, raw.X1, p.cfg.X1Name)
	if err != nil {
		return nil, err
	}
	x2, err := p.mapCoords(p.cfg.X2Map, raw.X2, p.cfg.X2Name)
	if err != nil {
		return nil, err
	}
	out := raw.Copy()
	out.TimeName, out.X1Name, out.X2Name = CanonicalTime, CanonicalX1, CanonicalX2
	out.X1, out.X2 = x1, x2
	for _, name := range raw.VarNames {
		out.Vars[name] = p.normalizeValues(name, raw.Vars[name])
	}
	return out, nil
}

func (p *Processor) denormalizeFrame(norm *Frame, withOffset bool) (*Frame, error) {
	if err := norm.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkNormDims(norm.TimeName, norm.X1Name, norm.X2Name); err != nil {
		return nil, err
	}
	out := norm.Copy()
	out.TimeName, out.X1Name, out.X2Name = p.cfg.TimeName, p.cfg.X1Name, p.cfg.X2Name
	out.X1 = unmapCoords(p.cfg.X1Map, norm.X1)
	out.X2 = unmapCoords(p.cfg.X2Map, norm.X2)
	for _, name := range norm.VarNames {
		values, err := p.denormalizeValues(name, norm.Vars[name], withOffset)
		if err != nil {
			return nil, err
		}
		out.Vars[name] = values
	}
	return out, nil
}

// DenormalizeFrame maps a normalized frame back to original units,
// coordinates and dimension names.
func (p *Processor) DenormalizeFrame(norm *Frame) (*Frame, error) {
	return p.denormalizeFrame(norm, true)
}

// DenormalizeFrameStddev denormalizes a frame of standard deviations without
// the additive offset.
func (p *Processor) DenormalizeFrameStddev(norm *Frame) (*Frame, error) {
	return p.denormalizeFrame(norm, false)
}

// Stats returns a copy of the per-variable scaling statistics computed so
// far, keyed by variable name.
func (p *Processor) Stats() map[string][2]float64 {
	if len(p.varStats) == 0 {
		return nil
	}
	out := make(map[string][2]float64, len(p.varStats))
	keys := make([]string, 0, len(p.varStats))
	for key := range p.varStats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out[key] = p.varStats[key]
	}
	return out
}

// SetStats installs previously exported scaling statistics, replacing any
// computed ones. Used when loading a persisted experiment.
func (p *Processor) SetStats(stats map[string][2]float64) {
	p.varStats = make(map[string][2]float64, len(stats))
	for name, s := range stats {
		p.varStats[name] = s
	}
}

// MarshalStats serializes the scaling statistics as JSON.
func (p *Processor) MarshalStats() ([]byte, error) {
	return json.Marshal(p.varStats)
}

// UnmarshalStats restores scaling statistics from JSON.
func (p *Processor) UnmarshalStats(payload []byte) error {
	if len(payload) == 0 {
		return errors.New("empty stats payload")
	}
	stats := make(map[string][2]float64)
	if err := json.Unmarshal(payload, &stats); err != nil {
		return err
	}
	p.varStats = stats
	return nil
}
