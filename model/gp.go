package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"geosense/data"

	"gonum.org/v1/gonum/mat"
)

const gpJitter = 1e-8

// GPConfig configures a GP model. Zero fields take defaults suited to
// coordinates normalized into the unit square.
type GPConfig struct {
	Lengthscale  float64 `json:"lengthscale"`
	Variance     float64 `json:"variance"`
	Noise        float64 `json:"noise"`
	LearningRate float64 `json:"learning_rate"`
	Backend      string  `json:"backend"`
}

func (c GPConfig) withDefaults() GPConfig {
	if c.Lengthscale <= 0 {
		c.Lengthscale = 0.25
	}
	if c.Variance <= 0 {
		c.Variance = 1
	}
	if c.Noise <= 0 {
		c.Noise = 0.1
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	return c
}

// GP is a conditional Gaussian process regression model over a task's
// context set, with an RBF kernel shared across target variables. It
// implements the full probabilistic contract: mean, variance, stddev, joint
// sampling, log-density and per-task hyperparameter training. An empty
// context set falls back to the prior. All heavy linear algebra is
// delegated to the configured backend.
type GP struct {
	mu sync.RWMutex

	// logTheta holds log(lengthscale), log(variance), log(noise).
	logTheta [3]float64
	lr       float64
	backend  Backend
}

// NewGP constructs a GP with the given config, selecting the backend by
// name.
func NewGP(cfg GPConfig) (*GP, error) {
	cfg = cfg.withDefaults()
	backend, err := NewBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	return &GP{
		logTheta: [3]float64{math.Log(cfg.Lengthscale), math.Log(cfg.Variance), math.Log(cfg.Noise)},
		lr:       cfg.LearningRate,
		backend:  backend,
	}, nil
}

// Config reports the current hyperparameters.
func (g *GP) Config() GPConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GPConfig{
		Lengthscale:  math.Exp(g.logTheta[0]),
		Variance:     math.Exp(g.logTheta[1]),
		Noise:        math.Exp(g.logTheta[2]),
		LearningRate: g.lr,
		Backend:      g.backend.Name(),
	}
}

func rbf(x1a, x2a, x1b, x2b, lengthscale, variance float64) float64 {
	d1 := x1a - x1b
	d2 := x2a - x2b
	return variance * math.Exp(-(d1*d1+d2*d2)/(2*lengthscale*lengthscale))
}

// gpPosterior is the conditioned state for one task under fixed
// hyperparameters.
type gpPosterior struct {
	lengthscale float64
	variance    float64
	noise       float64

	n      int // context points
	cx1    []float64
	cx2    []float64
	factor PSDFactor
	alphas [][]float64 // K^-1 y, one per variable
	nv     int
}

func gpCondition(task *data.Task, theta [3]float64, backend Backend) (*gpPosterior, error) {
	cx1, cx2, cy, err := task.ContextPoints()
	if err != nil {
		return nil, err
	}
	post := &gpPosterior{
		lengthscale: math.Exp(theta[0]),
		variance:    math.Exp(theta[1]),
		noise:       math.Exp(theta[2]),
		n:           len(cx1),
		cx1:         cx1,
		cx2:         cx2,
		nv:          len(cy),
	}
	if post.nv == 0 {
		post.nv = len(task.TargetVars)
	}
	if post.nv == 0 {
		post.nv = 1
	}
	if post.n == 0 {
		return post, nil
	}

	k := mat.NewSymDense(post.n, nil)
	for i := 0; i < post.n; i++ {
		for j := i; j < post.n; j++ {
			v := rbf(cx1[i], cx2[i], cx1[j], cx2[j], post.lengthscale, post.variance)
			if i == j {
				v += post.noise + gpJitter
			}
			k.SetSym(i, j, v)
		}
	}
	factor, err := backend.FactorizePSD(k)
	if err != nil {
		return nil, fmt.Errorf("context covariance: %w", err)
	}
	post.factor = factor
	post.alphas = make([][]float64, len(cy))
	for v := range cy {
		alpha, err := factor.SolveVec(cy[v])
		if err != nil {
			return nil, err
		}
		post.alphas[v] = alpha
	}
	return post, nil
}

// crossCov builds the n x m matrix of kernel values between context and
// target points.
func (p *gpPosterior) crossCov(tx1, tx2 []float64) *mat.Dense {
	kstar := mat.NewDense(p.n, len(tx1), nil)
	for i := 0; i < p.n; i++ {
		for j := range tx1 {
			kstar.Set(i, j, rbf(p.cx1[i], p.cx2[i], tx1[j], tx2[j], p.lengthscale, p.variance))
		}
	}
	return kstar
}

// meanVar computes the predictive mean per variable and the shared marginal
// variance (kernel is common across variables) at the target points. The
// variance includes observation noise.
func (p *gpPosterior) meanVar(tx1, tx2 []float64) (means [][]float64, variance []float64, err error) {
	m := len(tx1)
	means = make([][]float64, p.nv)
	for v := range means {
		means[v] = make([]float64, m)
	}
	variance = make([]float64, m)
	if p.n == 0 {
		// Prior fallback: zero mean in normalized space, full prior variance.
		for j := range variance {
			variance[j] = p.variance + p.noise
		}
		return means, variance, nil
	}

	kstar := p.crossCov(tx1, tx2)
	w, err := p.factor.Solve(kstar)
	if err != nil {
		return nil, nil, err
	}
	for j := 0; j < m; j++ {
		var q float64
		for i := 0; i < p.n; i++ {
			ks := kstar.At(i, j)
			q += ks * w.At(i, j)
			for v := range p.alphas {
				means[v][j] += ks * p.alphas[v][i]
			}
		}
		variance[j] = p.variance + p.noise - q
		if variance[j] < gpJitter {
			variance[j] = gpJitter
		}
	}
	return means, variance, nil
}

func targetCoords(task *data.Task) ([]float64, []float64, error) {
	tx1, tx2, _, err := task.TargetPoints()
	if err != nil {
		return nil, nil, err
	}
	if len(tx1) == 0 {
		return nil, nil, errors.New("task has no target points")
	}
	return tx1, tx2, nil
}

func (g *GP) theta() [3]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.logTheta
}

// Mean returns the predictive mean over the task's targets, one row per
// variable.
func (g *GP) Mean(task *data.Task) (*mat.Dense, error) {
	tx1, tx2, err := targetCoords(task)
	if err != nil {
		return nil, err
	}
	post, err := gpCondition(task, g.theta(), g.backend)
	if err != nil {
		return nil, err
	}
	means, _, err := post.meanVar(tx1, tx2)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(post.nv, len(tx1), nil)
	for v := range means {
		out.SetRow(v, means[v])
	}
	return out, nil
}

// Variance returns the marginal predictive variance over the task's
// targets, including observation noise.
func (g *GP) Variance(task *data.Task) (*mat.Dense, error) {
	tx1, tx2, err := targetCoords(task)
	if err != nil {
		return nil, err
	}
	post, err := gpCondition(task, g.theta(), g.backend)
	if err != nil {
		return nil, err
	}
	_, variance, err := post.meanVar(tx1, tx2)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(post.nv, len(tx1), nil)
	for v := 0; v < post.nv; v++ {
		out.SetRow(v, variance)
	}
	return out, nil
}

// Stddev returns the marginal predictive standard deviation over the task's
// targets.
func (g *GP) Stddev(task *data.Task) (*mat.Dense, error) {
	return StddevFromVariance(g, task)
}

// LogPDF returns the log-density of the task's target values under the
// marginal predictive distribution.
func (g *GP) LogPDF(task *data.Task) (float64, error) {
	return gpLogPDF(task, g.theta(), g.backend)
}

func gpLogPDF(task *data.Task, theta [3]float64, backend Backend) (float64, error) {
	tx1, tx2, ty, err := task.TargetPoints()
	if err != nil {
		return 0, err
	}
	if len(tx1) == 0 {
		return 0, errors.New("task has no target points")
	}
	if len(ty) == 0 {
		return 0, errors.New("task has no target values")
	}
	post, err := gpCondition(task, theta, backend)
	if err != nil {
		return 0, err
	}
	means, variance, err := post.meanVar(tx1, tx2)
	if err != nil {
		return 0, err
	}
	if len(ty) != len(means) {
		return 0, fmt.Errorf("target has %d variables, context has %d", len(ty), len(means))
	}
	var logpdf float64
	for v := range ty {
		for j := range ty[v] {
			d := ty[v][j] - means[v][j]
			logpdf += -0.5 * (math.Log(2*math.Pi*variance[j]) + d*d/variance[j])
		}
	}
	return logpdf, nil
}

// Sample draws n joint noiseless samples over the task's targets. Each
// sample is a VxN matrix; the draw is deterministic for a fixed seed.
func (g *GP) Sample(task *data.Task, n int, seed int64) ([]*mat.Dense, error) {
	if n <= 0 {
		return nil, nil
	}
	tx1, tx2, err := targetCoords(task)
	if err != nil {
		return nil, err
	}
	post, err := gpCondition(task, g.theta(), g.backend)
	if err != nil {
		return nil, err
	}
	means, _, err := post.meanVar(tx1, tx2)
	if err != nil {
		return nil, err
	}

	m := len(tx1)
	cov := mat.NewSymDense(m, nil)
	var w *mat.Dense
	var kstar *mat.Dense
	if post.n > 0 {
		kstar = post.crossCov(tx1, tx2)
		w, err = post.factor.Solve(kstar)
		if err != nil {
			return nil, err
		}
	}
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			v := rbf(tx1[i], tx2[i], tx1[j], tx2[j], post.lengthscale, post.variance)
			if post.n > 0 {
				var q float64
				for l := 0; l < post.n; l++ {
					q += kstar.At(l, i) * w.At(l, j)
				}
				v -= q
			}
			if i == j {
				v += gpJitter * 10
			}
			cov.SetSym(i, j, v)
		}
	}
	factor, err := g.backend.FactorizePSD(cov)
	if err != nil {
		return nil, fmt.Errorf("posterior covariance: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	samples := make([]*mat.Dense, n)
	for s := 0; s < n; s++ {
		out := mat.NewDense(post.nv, m, nil)
		for v := 0; v < post.nv; v++ {
			z := make([]float64, m)
			for j := range z {
				z[j] = rng.NormFloat64()
			}
			colored := factor.LowerMulVec(z)
			row := make([]float64, m)
			for j := range row {
				row[j] = means[v][j] + colored[j]
			}
			out.SetRow(v, row)
		}
		samples[s] = out
	}
	return samples, nil
}

// Loss is the average negative log-likelihood per target point.
func (g *GP) Loss(task *data.Task) (float64, error) {
	return gpLoss(task, g.theta(), g.backend)
}

func gpLoss(task *data.Task, theta [3]float64, backend Backend) (float64, error) {
	logpdf, err := gpLogPDF(task, theta, backend)
	if err != nil {
		return 0, err
	}
	points := task.NumTargetPoints()
	nv := len(task.TargetVars)
	if nv == 0 {
		nv = 1
	}
	return -logpdf / float64(points*nv), nil
}

const fdEps = 1e-4

// TrainStep evaluates the task loss at the current hyperparameters, applies
// one finite-difference gradient step on the log-hyperparameters, and
// returns the pre-update loss. Numerical failures (non-finite loss,
// factorization breakdown) surface as errors.
func (g *GP) TrainStep(task *data.Task) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	base, err := gpLoss(task, g.logTheta, g.backend)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(base) || math.IsInf(base, 0) {
		return 0, fmt.Errorf("non-finite loss %v", base)
	}

	var grad [3]float64
	for i := range g.logTheta {
		up := g.logTheta
		up[i] += fdEps
		lossUp, err := gpLoss(task, up, g.backend)
		if err != nil {
			return 0, err
		}
		down := g.logTheta
		down[i] -= fdEps
		lossDown, err := gpLoss(task, down, g.backend)
		if err != nil {
			return 0, err
		}
		grad[i] = (lossUp - lossDown) / (2 * fdEps)
	}
	for i := range g.logTheta {
		g.logTheta[i] -= g.lr * grad[i]
	}
	return base, nil
}
