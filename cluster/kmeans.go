// Package cluster groups embeddings into speaker clusters. KMeans is the
// Euclidean seeding step; Calibrated refines it with a similarity scorer.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/maastricht-university/diarization-pipeline/scoring"
)

// ErrInsufficientData is returned when more clusters are requested than
// there are points to put in them.
var ErrInsufficientData = errors.New("insufficient data for requested clusters")

type KMeansOptions struct {
	NInit   int
	MaxIter int
	Tol     float64
	Seed    uint64
}

func (o KMeansOptions) withDefaults() KMeansOptions {
	if o.NInit <= 0 {
		o.NInit = 10
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 300
	}
	if o.Tol <= 0 {
		o.Tol = 1e-4
	}
	return o
}

type KMeansResult struct {
	Centroids [][]float64
	Labels    []int
	Inertia   float64
}

func checkK(n, k int) error {
	if k < 1 || k > n {
		return fmt.Errorf("%w: %d clusters for %d points", ErrInsufficientData, k, n)
	}
	return nil
}

// checkRows rejects empty vectors and rows of differing length.
func checkRows(x [][]float64) error {
	if len(x) == 0 {
		return nil
	}
	d := len(x[0])
	if d == 0 {
		return fmt.Errorf("%w: zero-length vectors", scoring.ErrInvalidInput)
	}
	for i, v := range x {
		if len(v) != d {
			return fmt.Errorf("%w: vector %d has dim %d, want %d", scoring.ErrInvalidInput, i, len(v), d)
		}
	}
	return nil
}

// KMeans runs Lloyd's algorithm from NInit k-means++ starts and keeps the
// lowest-inertia run. The same Seed always gives the same result.
func KMeans(x [][]float64, k int, opts KMeansOptions) (*KMeansResult, error) {
	if err := checkK(len(x), k); err != nil {
		return nil, err
	}
	if err := checkRows(x); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var best *KMeansResult
	for run := 0; run < opts.NInit; run++ {
		res := lloyd(x, plusPlus(x, k, rng), opts)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func plusPlus(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(x[rng.IntN(len(x))]))
	dist := make([]float64, len(x))
	for i := range x {
		dist[i] = sqDist(x[i], centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(dist)
		pick := rng.IntN(len(x))
		if total > 0 {
			r := rng.Float64() * total
			for i, d := range dist {
				r -= d
				if r <= 0 {
					pick = i
					break
				}
			}
		}
		c := clone(x[pick])
		centers = append(centers, c)
		for i := range x {
			dist[i] = math.Min(dist[i], sqDist(x[i], c))
		}
	}
	return centers
}

func lloyd(x [][]float64, centers [][]float64, opts KMeansOptions) *KMeansResult {
	labels := make([]int, len(x))
	for it := 0; it < opts.MaxIter; it++ {
		for i, v := range x {
			best, bestD := 0, math.Inf(1)
			for j, c := range centers {
				if d := sqDist(v, c); d < bestD {
					best, bestD = j, d
				}
			}
			labels[i] = best
		}
		next := means(x, labels, centers)
		var shift float64
		for j := range centers {
			shift += sqDist(centers[j], next[j])
		}
		centers = next
		if shift <= opts.Tol {
			break
		}
	}
	var inertia float64
	for i, v := range x {
		best, bestD := 0, math.Inf(1)
		for j, c := range centers {
			if d := sqDist(v, c); d < bestD {
				best, bestD = j, d
			}
		}
		labels[i] = best
		inertia += bestD
	}
	return &KMeansResult{Centroids: centers, Labels: labels, Inertia: inertia}
}

// means recomputes each cluster mean. A cluster without members keeps its
// previous centroid.
func means(x [][]float64, labels []int, prev [][]float64) [][]float64 {
	d := len(x[0])
	sums := make([][]float64, len(prev))
	counts := make([]int, len(prev))
	for j := range sums {
		sums[j] = make([]float64, d)
	}
	for i, l := range labels {
		floats.Add(sums[l], x[i])
		counts[l]++
	}
	for j := range sums {
		if counts[j] == 0 {
			sums[j] = clone(prev[j])
			continue
		}
		floats.Scale(1/float64(counts[j]), sums[j])
	}
	return sums
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }
