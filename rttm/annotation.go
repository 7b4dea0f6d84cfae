// Package rttm reads reference speaker annotations and writes hypothesis
// annotations in the rich transcription time-marked format.
package rttm

import (
	"slices"
)

// Segment is a labelled interval [Start, End) in seconds.
type Segment struct {
	Start float64
	End   float64
	Label string
}

func (s Segment) Duration() float64 { return s.End - s.Start }

// Annotation is a speaker-labelled timeline.
type Annotation struct {
	Segments []Segment
}

func (a *Annotation) Add(start, end float64, label string) {
	a.Segments = append(a.Segments, Segment{Start: start, End: end, Label: label})
}

// Labels returns the distinct labels in ascending order.
func (a *Annotation) Labels() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.Segments))
	for _, s := range a.Segments {
		out = append(out, s.Label)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Active returns the labels with a segment covering t.
func (a *Annotation) Active(t float64) []string {
	if a == nil {
		return nil
	}
	var out []string
	for _, s := range a.Segments {
		if s.Start <= t && t < s.End && !slices.Contains(out, s.Label) {
			out = append(out, s.Label)
		}
	}
	return out
}
