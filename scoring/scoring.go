// Package scoring computes similarity matrices between embeddings and
// speaker centroids.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrInvalidInput is returned when the inputs are empty or their
// dimensionality does not agree.
var ErrInvalidInput = errors.New("invalid scoring input")

// Matrix holds one row per scored vector and one column per centroid.
// Higher means more likely the same speaker.
type Matrix [][]float64

func (m Matrix) Rows() int { return len(m) }

func (m Matrix) Cols() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

func (m Matrix) Transpose() Matrix {
	out := make(Matrix, m.Cols())
	for j := range out {
		out[j] = make([]float64, m.Rows())
		for i := range m {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// Calibration is an affine map applied to raw scores.
type Calibration struct {
	Scale float64
	Shift float64
}

var Identity = Calibration{Scale: 1}

func (c Calibration) Apply(raw float64) float64 { return c.Scale*raw + c.Shift }

// Scorer is a deterministic similarity function.
type Scorer interface {
	Score(vectors, centroids [][]float64, cal Calibration) (Matrix, error)
}

// dims checks both inputs and returns their common dimensionality.
func dims(vectors, centroids [][]float64) (int, error) {
	if len(vectors) == 0 || len(centroids) == 0 {
		return 0, fmt.Errorf("%w: %d vectors, %d centroids", ErrInvalidInput, len(vectors), len(centroids))
	}
	d := len(vectors[0])
	if d == 0 {
		return 0, fmt.Errorf("%w: zero-length vectors", ErrInvalidInput)
	}
	for i, v := range vectors {
		if len(v) != d {
			return 0, fmt.Errorf("%w: vector %d has dim %d, want %d", ErrInvalidInput, i, len(v), d)
		}
	}
	for j, c := range centroids {
		if len(c) != d {
			return 0, fmt.Errorf("%w: centroid %d has dim %d, want %d", ErrInvalidInput, j, len(c), d)
		}
	}
	return d, nil
}

// Calibrate derives scale/shift from the cohort scored against itself so
// calibrated off-diagonal cohort scores have zero mean and unit variance.
func Calibrate(s Scorer, cohort [][]float64) (Calibration, error) {
	raw, err := s.Score(cohort, cohort, Identity)
	if err != nil {
		return Calibration{}, fmt.Errorf("calibrate: %w", err)
	}
	var vals []float64
	for i := range raw {
		for j := range raw[i] {
			if i != j || len(cohort) == 1 {
				vals = append(vals, raw[i][j])
			}
		}
	}
	mean, std := stat.PopMeanStdDev(vals, nil)
	if math.IsNaN(std) || std < 1e-12 {
		return Calibration{Scale: 1, Shift: -mean}, nil
	}
	return Calibration{Scale: 1 / std, Shift: -mean / std}, nil
}
