// Package normalization calibrates scores against a cohort of embeddings
// and uses cohort-normalised centroid scores to estimate how many speakers
// a recording contains.
package normalization

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/maastricht-university/diarization-pipeline/classifier"
	"github.com/maastricht-university/diarization-pipeline/cluster"
	"github.com/maastricht-university/diarization-pipeline/ivec"
	"github.com/maastricht-university/diarization-pipeline/scoring"
)

// ErrNoCohort is returned by operations that need a normalization cohort
// when the engine was built without one.
var ErrNoCohort = errors.New("no normalization cohort configured")

const (
	DefaultMinSpeakers = 2
	DefaultMaxSpeakers = 6
)

type Options struct {
	MinSpeakers int
	MaxSpeakers int
	// Calibration is used when there is no cohort to derive one from.
	Calibration *scoring.Calibration
	MaxIter     int
	Seeding     cluster.KMeansOptions
}

// Engine is immutable after New and TrainSpeakerCounter, and safe to share
// between goroutines scoring different recordings.
type Engine struct {
	cohort    [][]float64
	scorer    scoring.Scorer
	cal       scoring.Calibration
	clf       classifier.Classifier
	clusterer *cluster.Calibrated
	min, max  int
	log       logrus.FieldLogger
}

// New builds an engine. With a non-empty cohort the scorer calibration is
// derived from the cohort scored against itself; this happens once.
func New(cohort [][]float64, scorer scoring.Scorer, clf classifier.Classifier, opts Options, log logrus.FieldLogger) (*Engine, error) {
	if opts.MinSpeakers <= 0 {
		opts.MinSpeakers = DefaultMinSpeakers
	}
	if opts.MaxSpeakers <= 0 {
		opts.MaxSpeakers = DefaultMaxSpeakers
	}
	if opts.MinSpeakers < 2 || opts.MaxSpeakers < opts.MinSpeakers {
		return nil, fmt.Errorf("normalization: bad speaker range [%d, %d]", opts.MinSpeakers, opts.MaxSpeakers)
	}

	cal := scoring.Identity
	if opts.Calibration != nil {
		cal = *opts.Calibration
	}
	if len(cohort) > 0 {
		var err error
		if cal, err = scoring.Calibrate(scorer, cohort); err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"cohort": len(cohort),
			"scale":  cal.Scale,
			"shift":  cal.Shift,
		}).Info("calibrated scorer on cohort")
	}

	return &Engine{
		cohort: cohort,
		scorer: scorer,
		cal:    cal,
		clf:    clf,
		clusterer: &cluster.Calibrated{
			Scorer:      scorer,
			Calibration: cal,
			MaxIter:     opts.MaxIter,
			Seeding:     opts.Seeding,
		},
		min: opts.MinSpeakers,
		max: opts.MaxSpeakers,
		log: log,
	}, nil
}

func (e *Engine) HasCohort() bool { return len(e.cohort) > 0 }

func (e *Engine) Calibration() scoring.Calibration { return e.cal }

// SpeakerRange is the candidate range used for estimation and training.
func (e *Engine) SpeakerRange() (int, int) { return e.min, e.max }

// Cluster runs the calibrated clusterer for a known speaker count.
func (e *Engine) Cluster(x [][]float64, k int) (*cluster.Result, error) {
	return e.clusterer.Fit(x, k, nil)
}

// Score scores x against centroids: symmetric-normalised when a cohort is
// configured, calibrated raw scores otherwise.
func (e *Engine) Score(x, centroids [][]float64) (scoring.Matrix, error) {
	if e.HasCohort() {
		return e.SymmetricNormalize(x, centroids)
	}
	return e.scorer.Score(x, centroids, e.cal)
}

// SymmetricNormalize is the s-norm of a against b: every raw score is
// z-normalised once with the cohort statistics of its row vector and once
// with those of its column vector, and the two are averaged.
func (e *Engine) SymmetricNormalize(a, b [][]float64) (scoring.Matrix, error) {
	if !e.HasCohort() {
		return nil, ErrNoCohort
	}
	raw, err := e.scorer.Score(a, b, e.cal)
	if err != nil {
		return nil, err
	}
	ma, sa, err := e.cohortStats(a)
	if err != nil {
		return nil, err
	}
	mb, sb, err := e.cohortStats(b)
	if err != nil {
		return nil, err
	}
	out := make(scoring.Matrix, len(raw))
	for i, row := range raw {
		out[i] = make([]float64, len(row))
		for j, s := range row {
			out[i][j] = 0.5 * ((s-ma[i])/sa[i] + (s-mb[j])/sb[j])
		}
	}
	return out, nil
}

// cohortStats returns, per vector, the mean and standard deviation of its
// scores against the cohort.
func (e *Engine) cohortStats(v [][]float64) (means, stds []float64, err error) {
	m, err := e.scorer.Score(v, e.cohort, e.cal)
	if err != nil {
		return nil, nil, fmt.Errorf("cohort scoring: %w", err)
	}
	means = make([]float64, len(m))
	stds = make([]float64, len(m))
	for i, row := range m {
		means[i], stds[i] = stat.PopMeanStdDev(row, nil)
		if math.IsNaN(stds[i]) || stds[i] < 1e-12 {
			stds[i] = 1
		}
	}
	return means, stds, nil
}

// Features turns the pairwise centroid scores of one candidate clustering
// into the fixed-length vector [mean, std, min, max], so every candidate
// count yields the same feature space.
func Features(scores []float64) []float64 {
	if len(scores) == 0 {
		return []float64{0, 0, 0, 0}
	}
	mean, std := stat.PopMeanStdDev(scores, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return []float64{mean, std, floats.Min(scores), floats.Max(scores)}
}

// LowerTriangle flattens the entries strictly below the diagonal, row by row.
func LowerTriangle(m scoring.Matrix) []float64 {
	var out []float64
	for i := 1; i < len(m); i++ {
		out = append(out, m[i][:i]...)
	}
	return out
}

type candidate struct {
	centroids [][]float64
	features  []float64
}

func (e *Engine) candidate(x [][]float64, c int) (*candidate, error) {
	res, err := e.clusterer.Fit(x, c, nil)
	if err != nil {
		return nil, err
	}
	s, err := e.SymmetricNormalize(res.Centroids, res.Centroids)
	if err != nil {
		return nil, err
	}
	return &candidate{centroids: res.Centroids, features: Features(LowerTriangle(s))}, nil
}

// TrainSpeakerCounter fits the classifier on cohort recordings whose
// speaker count is known: every candidate clustering of a recording is one
// sample labelled with the true count.
func (e *Engine) TrainSpeakerCounter(sets []*ivec.IvecSet) error {
	if !e.HasCohort() {
		return ErrNoCohort
	}
	if e.clf == nil {
		return errors.New("normalization: no classifier configured")
	}
	var x [][]float64
	var y []int
	for _, s := range sets {
		if s.NumSpeakers == nil || *s.NumSpeakers < e.min || *s.NumSpeakers > e.max {
			continue
		}
		vecs := s.Vectors()
		for c := e.min; c <= e.max && c <= len(vecs); c++ {
			cand, err := e.candidate(vecs, c)
			if err != nil {
				return fmt.Errorf("train %s (c=%d): %w", s.Name, c, err)
			}
			x = append(x, cand.features)
			y = append(y, *s.NumSpeakers)
		}
	}
	if len(x) == 0 {
		return errors.New("normalization: no cohort recording with a known speaker count in range")
	}
	e.log.WithFields(logrus.Fields{"samples": len(x), "min": e.min, "max": e.max}).Info("training speaker counter")
	return e.clf.Train(x, y)
}

// EstimateSpeakerCount clusters x for every candidate count in
// [minSpeakers, maxSpeakers], sums the classifier's class probabilities
// over all candidates and returns the best count together with the
// centroids computed for it. Candidates above len(x) are not tried.
func (e *Engine) EstimateSpeakerCount(x [][]float64, minSpeakers, maxSpeakers int) (int, [][]float64, error) {
	if !e.HasCohort() {
		return 0, nil, ErrNoCohort
	}
	if minSpeakers < 2 || maxSpeakers < minSpeakers {
		return 0, nil, fmt.Errorf("estimate: bad speaker range [%d, %d]", minSpeakers, maxSpeakers)
	}
	if len(x) < minSpeakers {
		return 0, nil, fmt.Errorf("estimate: %w: %d ivecs for at least %d speakers", cluster.ErrInsufficientData, len(x), minSpeakers)
	}
	maxSpeakers = min(maxSpeakers, len(x))

	cands := make([]*candidate, 0, maxSpeakers-minSpeakers+1)
	features := make([][]float64, 0, cap(cands))
	for c := minSpeakers; c <= maxSpeakers; c++ {
		cand, err := e.candidate(x, c)
		if err != nil {
			return 0, nil, fmt.Errorf("estimate (c=%d): %w", c, err)
		}
		cands = append(cands, cand)
		features = append(features, cand.features)
	}

	proba, err := e.clf.PredictProba(features)
	if err != nil {
		return 0, nil, err
	}
	mass := make(map[int]float64)
	for _, row := range proba {
		for ci, label := range e.clf.Classes() {
			mass[label] += row[ci]
		}
	}
	best := minSpeakers
	for c := minSpeakers + 1; c <= maxSpeakers; c++ {
		if mass[c] > mass[best] {
			best = c
		}
	}
	e.log.WithFields(logrus.Fields{"speakers": best, "mass": mass[best]}).Debug("estimated speaker count")
	return best, cands[best-minSpeakers].centroids, nil
}
