package data

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/mat"
)

// points is every observation of one source at one time index.
type points struct {
	x1, x2 []float64
	y      [][]float64 // one slice per variable, aligned with Variables()
}

func (p *points) len() int { return len(p.x1) }

// Source is a normalized dataset a Loader can draw context or target points
// from at a given time index. Grid and Frame implement it.
type Source interface {
	Variables() []string
	pointsAt(t time.Time) (*points, error)
}

func (g *Grid) pointsAt(t time.Time) (*points, error) {
	ti, ok := g.TimeIndex(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, t.Format(time.RFC3339))
	}
	n := g.CellsPerStep()
	p := &points{
		x1: make([]float64, 0, n),
		x2: make([]float64, 0, n),
		y:  make([][]float64, len(g.VarNames)),
	}
	for v := range g.VarNames {
		p.y[v] = make([]float64, 0, n)
	}
	for i := range g.X1 {
		for j := range g.X2 {
			p.x1 = append(p.x1, g.X1[i])
			p.x2 = append(p.x2, g.X2[j])
			for v, name := range g.VarNames {
				p.y[v] = append(p.y[v], g.Vars[name][g.index(ti, i, j)])
			}
		}
	}
	return p, nil
}

func (f *Frame) pointsAt(t time.Time) (*points, error) {
	rows := f.rowsAt(t)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, t.Format(time.RFC3339))
	}
	p := &points{
		x1: make([]float64, 0, len(rows)),
		x2: make([]float64, 0, len(rows)),
		y:  make([][]float64, len(f.VarNames)),
	}
	for _, r := range rows {
		p.x1 = append(p.x1, f.X1[r])
		p.x2 = append(p.x2, f.X2[r])
		for v, name := range f.VarNames {
			p.y[v] = append(p.y[v], f.Vars[name][r])
		}
	}
	return p, nil
}

const defaultTaskCacheSize = 128

// Loader builds Tasks from normalized context and target sources. Sampling
// is deterministic: the random stream for a call is derived from the loader
// seed and the requested time index, so identical calls yield identical
// Tasks. Built tasks are cached in an LRU keyed by (time, sampling); cached
// hits return deep copies so consumers can mutate freely.
type Loader struct {
	context []Source
	target  []Source
	seed    int64

	targetVars []string
	cache      *lru.Cache[string, *Task]
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSeed sets the sampling seed.
func WithSeed(seed int64) LoaderOption {
	return func(l *Loader) { l.seed = seed }
}

// WithCacheSize sets the task cache capacity. Zero disables caching.
func WithCacheSize(n int) LoaderOption {
	return func(l *Loader) {
		if n <= 0 {
			l.cache = nil
			return
		}
		cache, err := lru.New[string, *Task](n)
		if err == nil {
			l.cache = cache
		}
	}
}

// NewLoader creates a Loader over normalized context and target sources.
func NewLoader(context, target []Source, opts ...LoaderOption) (*Loader, error) {
	if len(context) == 0 {
		return nil, fmt.Errorf("at least one context source is required")
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("at least one target source is required")
	}
	l := &Loader{context: context, target: target}
	cache, err := lru.New[string, *Task](defaultTaskCacheSize)
	if err != nil {
		return nil, err
	}
	l.cache = cache
	for _, src := range target {
		l.targetVars = append(l.targetVars, src.Variables()...)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TargetVars returns the flattened variable names across target sources.
func (l *Loader) TargetVars() []string {
	return append([]string(nil), l.targetVars...)
}

// rngFor derives the deterministic random stream for one call.
func (l *Loader) rngFor(t time.Time, ctxSampling, tgtSampling Sampling) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s", l.seed, t.UTC().Format(time.RFC3339Nano), ctxSampling, tgtSampling)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func cacheKey(t time.Time, ctxSampling, tgtSampling Sampling) string {
	return t.UTC().Format(time.RFC3339Nano) + "|" + ctxSampling.String() + "|" + tgtSampling.String()
}

func sampledSet(p *points, idx []int, withValues bool) Set {
	if len(idx) == 0 {
		return Set{}
	}
	x := mat.NewDense(2, len(idx), nil)
	var y *mat.Dense
	if withValues {
		y = mat.NewDense(len(p.y), len(idx), nil)
	}
	for c, i := range idx {
		x.Set(0, c, p.x1[i])
		x.Set(1, c, p.x2[i])
		if withValues {
			for v := range p.y {
				y.Set(v, c, p.y[v][i])
			}
		}
	}
	return Set{X: x, Y: y}
}

// LoadTask builds one Task for a time index: each context source is sampled
// independently under ctxSampling, each target source under tgtSampling.
// Target values are included for training; prediction paths replace the
// target sets with the coordinates they need.
func (l *Loader) LoadTask(t time.Time, ctxSampling, tgtSampling Sampling) (*Task, error) {
	key := cacheKey(t, ctxSampling, tgtSampling)
	if l.cache != nil {
		if cached, ok := l.cache.Get(key); ok {
			return cached.Copy(), nil
		}
	}

	rng := l.rngFor(t, ctxSampling, tgtSampling)
	task := &Task{
		Time:       t,
		Context:    make([]Set, 0, len(l.context)),
		Target:     make([]Set, 0, len(l.target)),
		TargetVars: l.TargetVars(),
	}
	for i, src := range l.context {
		p, err := src.pointsAt(t)
		if err != nil {
			return nil, fmt.Errorf("context source %d: %w", i, err)
		}
		idx, err := ctxSampling.pick(p.len(), rng)
		if err != nil {
			return nil, fmt.Errorf("context source %d: %w", i, err)
		}
		task.Context = append(task.Context, sampledSet(p, idx, true))
	}
	for i, src := range l.target {
		p, err := src.pointsAt(t)
		if err != nil {
			return nil, fmt.Errorf("target source %d: %w", i, err)
		}
		idx, err := tgtSampling.pick(p.len(), rng)
		if err != nil {
			return nil, fmt.Errorf("target source %d: %w", i, err)
		}
		task.Target = append(task.Target, sampledSet(p, idx, true))
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.Add(key, task.Copy())
	}
	return task, nil
}
