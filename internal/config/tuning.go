package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the engine constants that can be overridden from a YAML file.
type Tuning struct {
	DedupThreshold        float64       `yaml:"dedup_threshold"`
	RelatednessThreshold  float64       `yaml:"relatedness_threshold"`
	TopK                  int           `yaml:"top_k"`
	BatchSize             int           `yaml:"batch_size"`
	PairTimeout           time.Duration `yaml:"pair_timeout"`
	ClassifierConcurrency int           `yaml:"classifier_concurrency"`
	ClassifierRPS         float64       `yaml:"classifier_rps"`
	ClusterThreshold      float64       `yaml:"cluster_threshold"`
	MinClusterSize        int           `yaml:"min_cluster_size"`
	MaxClusterSize        int           `yaml:"max_cluster_size"`
	RecencyHalfLife       time.Duration `yaml:"recency_half_life"`
	SupersededPenalty     float64       `yaml:"superseded_penalty"`
	ContradictedPenalty   float64       `yaml:"contradicted_penalty"`
	TimelineSeeds         int           `yaml:"timeline_seeds"`
	TimelineMinSimilarity float64       `yaml:"timeline_min_similarity"`
}

func DefaultTuning() Tuning {
	return Tuning{
		DedupThreshold:        0.95,
		RelatednessThreshold:  0.6,
		TopK:                  5,
		BatchSize:             500,
		PairTimeout:           30 * time.Second,
		ClassifierConcurrency: 4,
		ClassifierRPS:         2,
		ClusterThreshold:      0.7,
		MinClusterSize:        3,
		MaxClusterSize:        200,
		RecencyHalfLife:       30 * 24 * time.Hour,
		SupersededPenalty:     0.5,
		ContradictedPenalty:   0.7,
		TimelineSeeds:         10,
		TimelineMinSimilarity: 0.5,
	}
}

// LoadTuning reads path over the defaults. An empty path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", name, v))
		}
	}
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	unit("dedup_threshold", t.DedupThreshold)
	unit("relatedness_threshold", t.RelatednessThreshold)
	unit("cluster_threshold", t.ClusterThreshold)
	unit("superseded_penalty", t.SupersededPenalty)
	unit("contradicted_penalty", t.ContradictedPenalty)
	unit("timeline_min_similarity", t.TimelineMinSimilarity)
	positive("top_k", t.TopK)
	positive("batch_size", t.BatchSize)
	positive("classifier_concurrency", t.ClassifierConcurrency)
	positive("timeline_seeds", t.TimelineSeeds)

	if t.RelatednessThreshold > t.DedupThreshold {
		errs = append(errs, fmt.Errorf("relatedness_threshold %v is above dedup_threshold %v", t.RelatednessThreshold, t.DedupThreshold))
	}
	if t.MinClusterSize < 2 {
		errs = append(errs, fmt.Errorf("min_cluster_size must be at least 2, got %d", t.MinClusterSize))
	}
	if t.MaxClusterSize < t.MinClusterSize {
		errs = append(errs, fmt.Errorf("max_cluster_size %d is below min_cluster_size %d", t.MaxClusterSize, t.MinClusterSize))
	}
	if t.PairTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pair_timeout must be positive"))
	}
	if t.RecencyHalfLife <= 0 {
		errs = append(errs, fmt.Errorf("recency_half_life must be positive"))
	}
	if t.ClassifierRPS < 0 {
		errs = append(errs, fmt.Errorf("classifier_rps must not be negative"))
	}
	return errors.Join(errs...)
}
