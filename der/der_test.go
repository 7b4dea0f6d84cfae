package der

import (
	"math"
	"testing"

	"github.com/maastricht-university/diarization-pipeline/rttm"
)

func ann(segs ...rttm.Segment) *rttm.Annotation {
	return &rttm.Annotation{Segments: segs}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestIdenticalTimelinesHaveZeroError(t *testing.T) {
	ref := ann(
		rttm.Segment{Start: 0, End: 4, Label: "A"},
		rttm.Segment{Start: 4, End: 9, Label: "B"},
		rttm.Segment{Start: 8, End: 12, Label: "A"},
	)
	hyp := ann(ref.Segments...)
	for _, collar := range []float64{0, DefaultCollar} {
		if got := (Metric{Collar: collar}).Compute(ref, hyp); got != 0 {
			t.Errorf("collar %v: DER = %v, want 0", collar, got)
		}
	}
}

func TestRelabelledHypothesisHasZeroError(t *testing.T) {
	ref := ann(rttm.Segment{Start: 0, End: 5, Label: "spkA"}, rttm.Segment{Start: 5, End: 8, Label: "spkB"})
	hyp := ann(rttm.Segment{Start: 0, End: 5, Label: "1"}, rttm.Segment{Start: 5, End: 8, Label: "0"})
	if got := New().Compute(ref, hyp); got != 0 {
		t.Errorf("DER = %v, want 0", got)
	}
}

func TestMissedSpeech(t *testing.T) {
	ref := ann(rttm.Segment{Start: 0, End: 10, Label: "A"})
	c := New().Components(ref, ann())
	if !near(c.Total, 9.75) || !near(c.Missed, 9.75) {
		t.Errorf("components = %+v", c)
	}
	if got := c.Rate(); !near(got, 100) {
		t.Errorf("DER = %v, want 100", got)
	}
}

func TestConfusionAndFalseAlarm(t *testing.T) {
	ref := ann(rttm.Segment{Start: 0, End: 10, Label: "A"}, rttm.Segment{Start: 10, End: 20, Label: "B"})
	hyp := ann(rttm.Segment{Start: 0, End: 20, Label: "0"}, rttm.Segment{Start: 20, End: 25, Label: "0"})
	c := Metric{}.Components(ref, hyp)
	if !near(c.Total, 20) || !near(c.Confusion, 10) || !near(c.FalseAlarm, 5) || c.Missed != 0 {
		t.Errorf("components = %+v", c)
	}
	if got := c.Rate(); !near(got, 75) {
		t.Errorf("DER = %v, want 75", got)
	}
}

func TestReport(t *testing.T) {
	refs := map[string]*rttm.Annotation{
		"b": ann(rttm.Segment{Start: 0, End: 10, Label: "A"}),
		"a": ann(rttm.Segment{Start: 0, End: 2, Label: "A"}, rttm.Segment{Start: 2, End: 4, Label: "B"}),
	}
	hyps := map[string]*rttm.Annotation{
		"a": ann(rttm.Segment{Start: 0, End: 2, Label: "0"}, rttm.Segment{Start: 2, End: 4, Label: "1"}),
	}
	r := New().Report(refs, hyps)
	if len(r.Groups) != 2 || r.Groups[0].Name != "a" || r.Groups[1].Name != "b" {
		t.Fatalf("groups = %+v", r.Groups)
	}
	if r.Groups[0].DER != 0 || !near(r.Groups[1].DER, 100) || !near(r.Average, 50) {
		t.Errorf("report = %+v", r)
	}

	same := New().Report(refs, refs)
	for _, g := range same.Groups {
		if g.DER != 0 {
			t.Errorf("group %s: DER = %v on identical timelines", g.Name, g.DER)
		}
	}
}

func TestMaxAssignment(t *testing.T) {
	w := [][]float64{
		{1, 5, 0},
		{4, 4, 0},
	}
	got := maxAssignment(w)
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("assignment = %v, want [1 0]", got)
	}
	tall := maxAssignment([][]float64{{3}, {7}, {1}})
	if tall[1] != 0 || tall[0] != -1 || tall[2] != -1 {
		t.Errorf("tall assignment = %v", tall)
	}
}
