package cluster

import (
	"fmt"
	"slices"

	"github.com/maastricht-university/diarization-pipeline/scoring"
)

const defaultMaxIter = 20

// Calibrated is Lloyd-style clustering that assigns each embedding to the
// centroid with the highest calibrated score instead of the nearest one.
// The scorer need not be symmetric or metric, so MaxIter caps oscillation.
type Calibrated struct {
	Scorer      scoring.Scorer
	Calibration scoring.Calibration
	MaxIter     int
	Seeding     KMeansOptions
}

type Result struct {
	Centroids  [][]float64
	Labels     []int
	Iterations int
	Converged  bool
}

// Fit clusters x into k speakers. init, when non-nil, replaces the k-means
// seeding and must hold exactly k centroids. Centroid j of the result is
// the mean of the embeddings labelled j.
func (c *Calibrated) Fit(x [][]float64, k int, init [][]float64) (*Result, error) {
	if err := checkK(len(x), k); err != nil {
		return nil, err
	}
	if err := checkRows(x); err != nil {
		return nil, err
	}
	centroids := init
	if centroids == nil {
		seed, err := KMeans(x, k, c.Seeding)
		if err != nil {
			return nil, err
		}
		centroids = seed.Centroids
	} else if len(init) != k {
		return nil, fmt.Errorf("calibrated fit: %d initial centroids for k=%d", len(init), k)
	} else {
		for j, cen := range init {
			if len(cen) != len(x[0]) {
				return nil, fmt.Errorf("calibrated fit: %w: centroid %d has dim %d, want %d", scoring.ErrInvalidInput, j, len(cen), len(x[0]))
			}
		}
	}
	centroids = cloneAll(centroids)

	maxIter := c.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}

	res := &Result{}
	var labels []int
	for res.Iterations < maxIter {
		res.Iterations++
		scores, err := c.Scorer.Score(x, centroids, c.Calibration)
		if err != nil {
			return nil, fmt.Errorf("calibrated fit: %w", err)
		}
		next := Assign(scores)
		if slices.Equal(next, labels) {
			res.Converged = true
			break
		}
		labels = next
		centroids = means(x, labels, centroids)
	}
	res.Centroids, res.Labels = centroids, labels
	return res, nil
}

// Assign labels every row with its arg-max column.
func Assign(scores scoring.Matrix) []int {
	out := make([]int, len(scores))
	for i, row := range scores {
		out[i] = ArgMax(row)
	}
	return out
}

// ArgMax returns the index of the largest value; ties go to the lowest index.
func ArgMax(row []float64) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}

func cloneAll(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = clone(m[i])
	}
	return out
}
