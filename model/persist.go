package model

import (
	"encoding/json"
	"errors"
	"math"
	"os"
)

// ModelTypeGP is the registry name of the GP model.
const ModelTypeGP = "gp"

// Save writes the GP hyperparameters to path as JSON.
func (g *GP) Save(path string) error {
	payload, err := json.Marshal(g.Config())
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// Load restores GP hyperparameters from a file written by Save. The backend
// named in the file is reconstructed.
func (g *GP) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg GPConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	backend, err := NewBackend(cfg.Backend)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.logTheta = [3]float64{math.Log(cfg.Lengthscale), math.Log(cfg.Variance), math.Log(cfg.Noise)}
	g.lr = cfg.LearningRate
	g.backend = backend
	return nil
}

// LoadModel restores a persisted model by type name.
func LoadModel(modelType, path string) (ProbabilisticModel, error) {
	switch modelType {
	case ModelTypeGP:
		m := &GP{}
		if err := m.Load(path); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.New("unsupported model type")
	}
}
