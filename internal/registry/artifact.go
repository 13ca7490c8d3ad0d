package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/gridsight/gridsight-engine/internal/features"
)

// PeriodModel is one calendar period's trained scorer, loaded from a JSON
// artifact exported by the offline training job. Immutable after load.
type PeriodModel struct {
	PeriodKey      string   `json:"period_key"`
	FeatureColumns []string `json:"feature_columns"`
	Scaler         Scaler   `json:"scaler"`
	Forest         Forest   `json:"forest"`
	Metadata       Metadata `json:"metadata"`
}

// Scaler holds per-column standardisation parameters.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Forest is a serialized isolation forest.
type Forest struct {
	MaxSamples int     `json:"max_samples"`
	Offset     float64 `json:"offset"`
	Trees      []Tree  `json:"trees"`
}

// Tree is one isolation tree in flat-array form. Leaf nodes have
// ChildLeft[i] == -1.
type Tree struct {
	ChildLeft   []int     `json:"children_left"`
	ChildRight  []int     `json:"children_right"`
	Features    []int     `json:"features"`
	Thresholds  []float64 `json:"thresholds"`
	NodeSamples []int     `json:"node_samples"`
}

// Metadata describes the training run behind an artifact.
type Metadata struct {
	TrainedOnSampleCount int     `json:"trained_on_sample_count"`
	AverageDemandMW      float64 `json:"average_demand_mw"`
	ExpectedAnomalyRate  float64 `json:"expected_anomaly_rate"`
	TrainedAt            string  `json:"trained_at"`
}

// loadModel reads and validates one artifact file.
func loadModel(path string) (*PeriodModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var m PeriodModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}
	return &m, nil
}

func (m *PeriodModel) validate() error {
	if m.PeriodKey == "" {
		return fmt.Errorf("missing period_key")
	}
	width := len(m.FeatureColumns)
	if width == 0 {
		return fmt.Errorf("no feature columns")
	}
	if len(m.Scaler.Mean) != width || len(m.Scaler.Scale) != width {
		return fmt.Errorf("scaler size %d/%d does not match %d feature columns",
			len(m.Scaler.Mean), len(m.Scaler.Scale), width)
	}
	if m.Forest.MaxSamples < 2 {
		return fmt.Errorf("forest max_samples must be at least 2")
	}
	if len(m.Forest.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for ti, tree := range m.Forest.Trees {
		n := len(tree.ChildLeft)
		if len(tree.ChildRight) != n || len(tree.Features) != n ||
			len(tree.Thresholds) != n || len(tree.NodeSamples) != n {
			return fmt.Errorf("tree %d has inconsistent node arrays", ti)
		}
		for ni := 0; ni < n; ni++ {
			if tree.ChildLeft[ni] == -1 {
				continue
			}
			if tree.ChildLeft[ni] >= n || tree.ChildRight[ni] >= n {
				return fmt.Errorf("tree %d node %d child out of range", ti, ni)
			}
			if tree.Features[ni] < 0 || tree.Features[ni] >= width {
				return fmt.Errorf("tree %d node %d feature index %d out of range", ti, ni, tree.Features[ni])
			}
		}
	}
	return nil
}

// FeatureWidth returns the number of features the model expects.
func (m *PeriodModel) FeatureWidth() int { return len(m.FeatureColumns) }

// Score standardises the vector and returns the anomaly score in the
// score_samples convention: negative, and more negative means more anomalous.
// The flag is true when the score falls below the contamination boundary
// learned at training time. Raw scores are only comparable within one model.
func (m *PeriodModel) Score(vec []float64) (score float64, flagged bool, err error) {
	if err := features.Validate(vec, m.FeatureWidth()); err != nil {
		return 0, false, err
	}

	scaled := make([]float64, len(vec))
	for i, v := range vec {
		s := m.Scaler.Scale[i]
		if s == 0 {
			s = 1
		}
		scaled[i] = (v - m.Scaler.Mean[i]) / s
	}

	var total float64
	for _, tree := range m.Forest.Trees {
		total += tree.pathLength(scaled)
	}
	avgPath := total / float64(len(m.Forest.Trees))

	score = -math.Exp2(-avgPath / averagePathLength(m.Forest.MaxSamples))
	return score, score < m.Forest.Offset, nil
}

// pathLength descends the tree and returns the depth of the reached leaf
// plus the expected remaining depth for the samples isolated there.
func (t *Tree) pathLength(vec []float64) float64 {
	node := 0
	depth := 0.0
	for t.ChildLeft[node] != -1 {
		if vec[t.Features[node]] <= t.Thresholds[node] {
			node = t.ChildLeft[node]
		} else {
			node = t.ChildRight[node]
		}
		depth++
	}
	return depth + averagePathLength(t.NodeSamples[node])
}

// averagePathLength is the expected path length of an unsuccessful search in
// a binary search tree over n samples.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		// 2*H(n-1) - 2*(n-1)/n with the harmonic approximation.
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

const eulerGamma = 0.5772156649015329
