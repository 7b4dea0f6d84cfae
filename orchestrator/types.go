package orchestrator

import (
	"errors"

	"github.com/maastricht-university/diarization-pipeline/ivec"
	"github.com/maastricht-university/diarization-pipeline/scoring"
)

// ErrSpeakerCountUnknown means a recording has no speaker count and there is
// no cohort to estimate it from. It aborts the whole run.
var ErrSpeakerCountUnknown = errors.New("speaker count unknown and no normalization cohort")

// Result is one scored recording.
type Result struct {
	Name  string
	Group string
	Ivecs []ivec.Ivec
	// Scores has one row per ivec and one column per centroid.
	Scores      scoring.Matrix
	NumSpeakers int
	Estimated   bool
	Labels      []int
}

// Scored collects what a scoring pass produced. Failed holds recordings
// dropped on bad input; the other recordings are still valid.
type Scored struct {
	Results map[string]*Result
	Skipped []string
	Failed  map[string]error
}
