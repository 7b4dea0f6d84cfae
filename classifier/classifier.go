// Package classifier provides the speaker-count classifiers used by the
// normalization engine. Both variants share one interface so callers never
// depend on which is configured.
package classifier

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotTrained is returned by Predict/PredictProba before Train.
var ErrNotTrained = errors.New("classifier not trained")

type Classifier interface {
	// Train fits from scratch; previous state is discarded.
	Train(x [][]float64, y []int) error
	Predict(x [][]float64) ([]int, error)
	// PredictProba returns one distribution per row, columns ordered as Classes.
	PredictProba(x [][]float64) ([][]float64, error)
	Classes() []int
}

type Kind string

const (
	KindLogistic Kind = "logistic"
	KindGMM      Kind = "gmm"
)

type Config struct {
	Kind       Kind           `yaml:"kind"`
	Components int            `yaml:"components"`
	Covariance CovarianceType `yaml:"covariance"`
	MaxIter    int            `yaml:"max_iter"`
	// C is the inverse L2 strength of the logistic variant.
	C    float64 `yaml:"c"`
	Seed uint64  `yaml:"seed"`
}

func New(cfg Config) (Classifier, error) {
	switch cfg.Kind {
	case KindLogistic, "":
		return NewLogisticRegression(cfg.C, cfg.MaxIter), nil
	case KindGMM:
		return NewGMM(cfg.Components, cfg.Covariance, cfg.MaxIter, cfg.Seed)
	default:
		return nil, fmt.Errorf("unknown classifier kind %q", cfg.Kind)
	}
}

func checkTrainingData(x [][]float64, y []int) (int, error) {
	if len(x) == 0 {
		return 0, errors.New("train: no samples")
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("train: %d samples but %d labels", len(x), len(y))
	}
	d := len(x[0])
	for i, row := range x {
		if len(row) != d {
			return 0, fmt.Errorf("train: sample %d has %d features, want %d", i, len(row), d)
		}
	}
	return d, nil
}

func checkInput(x [][]float64, d int) error {
	for i, row := range x {
		if len(row) != d {
			return fmt.Errorf("sample %d has %d features, want %d", i, len(row), d)
		}
	}
	return nil
}

// uniqueSorted returns the label set in ascending order, and the index of
// each sample's label within it.
func uniqueSorted(y []int) ([]int, []int) {
	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	idx := make([]int, len(y))
	for i, v := range y {
		idx[i], _ = slices.BinarySearch(classes, v)
	}
	return classes, idx
}

// argmax returns the first index of the largest value.
func argmax(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

func predictFromProba(c Classifier, x [][]float64) ([]int, error) {
	p, err := c.PredictProba(x)
	if err != nil {
		return nil, err
	}
	classes := c.Classes()
	out := make([]int, len(p))
	for i, row := range p {
		out[i] = classes[argmax(row)]
	}
	return out, nil
}
