package orchestrator

import (
	"errors"
	"path/filepath"
	"sort"

	"github.com/maastricht-university/diarization-pipeline/cluster"
	"github.com/maastricht-university/diarization-pipeline/scoring"
)

// Labels picks the best centroid for every ivec, ties going to the lowest index.
func Labels(scores scoring.Matrix) []int { return cluster.Assign(scores) }

// recordingName normalises a manifest id into the key used for results.
func recordingName(id string) string { return filepath.Clean(id) }

// perRecording reports whether err only invalidates the recording it came from.
func perRecording(err error) bool {
	return errors.Is(err, scoring.ErrInvalidInput) || errors.Is(err, cluster.ErrInsufficientData)
}

func sortedNames(results map[string]*Result) []string {
	names := make([]string, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
