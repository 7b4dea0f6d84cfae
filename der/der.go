// Package der computes the diarization error rate between a reference and a
// hypothesis annotation.
package der

import (
	"math"
	"slices"
	"sort"

	"github.com/maastricht-university/diarization-pipeline/rttm"
)

const DefaultCollar = 0.25

// Metric evaluates DER with a forgiveness collar: Collar/2 seconds on
// either side of every reference boundary are left out.
type Metric struct {
	Collar float64
}

func New() Metric { return Metric{Collar: DefaultCollar} }

// Components are the error durations (seconds) behind one DER value.
type Components struct {
	Total      float64
	Missed     float64
	FalseAlarm float64
	Confusion  float64
}

func (c Components) Rate() float64 {
	errs := c.Missed + c.FalseAlarm + c.Confusion
	if c.Total == 0 {
		if errs == 0 {
			return 0
		}
		return 100
	}
	return 100 * errs / c.Total
}

// Compute returns the DER in percent.
func (m Metric) Compute(ref, hyp *rttm.Annotation) float64 {
	return m.Components(ref, hyp).Rate()
}

type piece struct {
	dur      float64
	ref, hyp []string
}

func (m Metric) Components(ref, hyp *rttm.Annotation) Components {
	pieces := m.pieces(ref, hyp)

	refLabels, hypLabels := ref.Labels(), hyp.Labels()
	cooc := make([][]float64, len(refLabels))
	for i := range cooc {
		cooc[i] = make([]float64, len(hypLabels))
	}
	for _, p := range pieces {
		for _, r := range p.ref {
			ri, _ := slices.BinarySearch(refLabels, r)
			for _, h := range p.hyp {
				hi, _ := slices.BinarySearch(hypLabels, h)
				cooc[ri][hi] += p.dur
			}
		}
	}
	mapping := make(map[string]string)
	for ri, hi := range maxAssignment(cooc) {
		if hi >= 0 && cooc[ri][hi] > 0 {
			mapping[hypLabels[hi]] = refLabels[ri]
		}
	}

	var c Components
	for _, p := range pieces {
		nr, nh := len(p.ref), len(p.hyp)
		correct := 0
		for _, h := range p.hyp {
			if r, ok := mapping[h]; ok && slices.Contains(p.ref, r) {
				correct++
			}
		}
		c.Total += p.dur * float64(nr)
		c.Missed += p.dur * float64(max(0, nr-nh))
		c.FalseAlarm += p.dur * float64(max(0, nh-nr))
		c.Confusion += p.dur * float64(min(nr, nh)-correct)
	}
	return c
}

// pieces cuts the joint extent of both annotations at every boundary and
// drops the pieces inside a collar.
func (m Metric) pieces(ref, hyp *rttm.Annotation) []piece {
	var bounds []float64
	var collars [][2]float64
	extent := [2]float64{math.Inf(1), math.Inf(-1)}
	for _, a := range []*rttm.Annotation{ref, hyp} {
		if a == nil {
			continue
		}
		for _, s := range a.Segments {
			bounds = append(bounds, s.Start, s.End)
			extent[0] = math.Min(extent[0], s.Start)
			extent[1] = math.Max(extent[1], s.End)
		}
	}
	if ref != nil && m.Collar > 0 {
		half := m.Collar / 2
		for _, s := range ref.Segments {
			for _, t := range []float64{s.Start, s.End} {
				collars = append(collars, [2]float64{t - half, t + half})
				bounds = append(bounds, t-half, t+half)
			}
		}
	}
	sort.Float64s(bounds)
	bounds = slices.Compact(bounds)

	var out []piece
	for i := 1; i < len(bounds); i++ {
		a, b := bounds[i-1], bounds[i]
		if a < extent[0] || b > extent[1] || b <= a {
			continue
		}
		mid := (a + b) / 2
		if inCollar(collars, mid) {
			continue
		}
		out = append(out, piece{dur: b - a, ref: ref.Active(mid), hyp: hyp.Active(mid)})
	}
	return out
}

func inCollar(collars [][2]float64, t float64) bool {
	for _, c := range collars {
		if c[0] < t && t < c[1] {
			return true
		}
	}
	return false
}

// GroupDER is the error rate of one recording group.
type GroupDER struct {
	Name string
	DER  float64
}

type Report struct {
	Groups  []GroupDER
	Average float64
}

// Report evaluates every reference group, sorted by name. A group without
// hypothesis counts as fully missed.
func (m Metric) Report(refs, hyps map[string]*rttm.Annotation) Report {
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)

	var r Report
	var sum float64
	for _, name := range names {
		hyp := hyps[name]
		if hyp == nil {
			hyp = &rttm.Annotation{}
		}
		v := m.Compute(refs[name], hyp)
		r.Groups = append(r.Groups, GroupDER{Name: name, DER: v})
		sum += v
	}
	if len(names) > 0 {
		r.Average = sum / float64(len(names))
	}
	return r
}
