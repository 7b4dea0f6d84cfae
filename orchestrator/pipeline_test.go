package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/diarization-pipeline/clients"
	"github.com/maastricht-university/diarization-pipeline/cluster"
	cfg "github.com/maastricht-university/diarization-pipeline/config"
	"github.com/maastricht-university/diarization-pipeline/ivec"
	"github.com/maastricht-university/diarization-pipeline/scoring"
)

func testConfig(dir string) *cfg.Root {
	c := &cfg.Root{}
	c.Pipeline.Name = "test"
	c.Pipeline.Workers = 2
	c.Paths = cfg.Paths{
		InputList: filepath.Join(dir, "input.txt"),
		Ivecs:     filepath.Join(dir, "ivecs"),
		Out:       filepath.Join(dir, "out"),
	}
	c.Scoring.Kind = "cosine"
	c.Clustering = cfg.Clustering{MaxIter: 20, Seed: 1, KMeansInit: 10, KMeansMaxIter: 300}
	c.Speakers = cfg.Speakers{Min: 2, Max: 3}
	c.Classifier = cfg.Classifier{Kind: "logistic", MaxIter: 100, C: 1}
	c.Evaluation.Collar = 0.25
	c.Evaluation.PlotTitle = "DER"
	return c
}

// synthSet puts speaker s on axis s of a 4-d space, one second per ivec.
func synthSet(name string, truth []int, seed uint64) *ivec.IvecSet {
	r := rand.New(rand.NewPCG(seed, 7))
	s := &ivec.IvecSet{Name: name}
	for i, spk := range truth {
		v := make([]float64, 4)
		for d := range v {
			v[d] = 0.05 * r.NormFloat64()
		}
		v[spk] += 1
		s.Ivecs = append(s.Ivecs, ivec.Ivec{Vector: v, WindowStart: i * 1000, WindowEnd: (i + 1) * 1000})
	}
	return s
}

func writeSets(t *testing.T, dir string, sets ...*ivec.IvecSet) {
	t.Helper()
	for _, s := range sets {
		if err := ivec.WriteFile(dir, s); err != nil {
			t.Fatal(err)
		}
	}
}

func writeText(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func referenceLines(group string, truth []int) []string {
	var out []string
	for i, spk := range truth {
		out = append(out, fmt.Sprintf("SPEAKER %s 1 %d.0 1.0 <NA> <NA> ref%d <NA>", group, i, spk))
	}
	return out
}

func newTestPipeline(t *testing.T, c *cfg.Root) (*Pipeline, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	p, err := NewPipeline(c, Deps{Log: log})
	if err != nil {
		t.Fatal(err)
	}
	return p, hook
}

func TestRunKnownCounts(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)

	truthA := []int{0, 0, 1, 1, 0, 1}
	truthB := []int{2, 2, 3, 3, 3, 2, 2}
	writeSets(t, c.Paths.Ivecs,
		synthSet("sessA/rec1", truthA, 1),
		synthSet("sessB/beamformed/rec2", truthB, 2),
		&ivec.IvecSet{Name: "empty"},
	)
	writeText(t, c.Paths.InputList, "sessA/rec1 2", "sessB/beamformed/rec2 2", "empty 2", "missing 2")

	c.Paths.Reference = filepath.Join(dir, "ref.rttm")
	writeText(t, c.Paths.Reference, append(referenceLines("sessA", truthA), referenceLines("sessB", truthB)...)...)

	var mu sync.Mutex
	var plotted clients.DERPlotReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&plotted)
		_, _ = w.Write([]byte(`{"status":"ok","path":"der.html"}`))
	}))
	defer srv.Close()
	c.Services.Visualization.URL = srv.URL

	p, hook := newTestPipeline(t, c)
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(c.Paths.Out, "sessA", "rec1.rttm"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != len(truthA) {
		t.Fatalf("rttm has %d lines, want %d", len(lines), len(truthA))
	}
	if !strings.HasPrefix(lines[0], "SPEAKER sessA 1 0.0 1.0 <NA> <NA> sessA_spkr_") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if _, err := os.Stat(filepath.Join(c.Paths.Out, "sessB", "beamformed", "rec2.rttm")); err != nil {
		t.Errorf("rec2 rttm: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.Paths.Out, "empty.rttm")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("empty recording produced output: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(c.Paths.Out, "summary.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var sum RunSummary
	if err := yaml.Unmarshal(raw, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.RunID == "" || len(sum.Recordings) != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if strings.Join(sum.Skipped, ",") != "empty,missing" {
		t.Errorf("skipped = %v", sum.Skipped)
	}
	if sum.DER == nil || len(sum.DER.Groups) != 2 || math.Abs(sum.DER.Average) > 1e-9 {
		t.Errorf("der = %+v", sum.DER)
	}

	mu.Lock()
	if strings.Join(plotted.Names, ",") != "sessA,sessB" {
		t.Errorf("plotted names = %v", plotted.Names)
	}
	mu.Unlock()

	warned := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned++
		}
	}
	if warned != 2 {
		t.Errorf("got %d warnings, want 2 (missing blob, empty set)", warned)
	}
}

func TestScoreUnknownCountWithoutCohort(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(t.TempDir()))
	_, err := p.Score(context.Background(), []*ivec.IvecSet{synthSet("rec", []int{0, 1, 0}, 1)})
	if !errors.Is(err, ErrSpeakerCountUnknown) {
		t.Fatalf("err = %v, want ErrSpeakerCountUnknown", err)
	}
}

func TestScoreDropsRecordingWithTooFewIvecs(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(t.TempDir()))
	small := synthSet("small", []int{0, 1, 2}, 1)
	small.SetNumSpeakers(5)
	ok := synthSet("ok", []int{0, 1, 0}, 2)
	ok.SetNumSpeakers(2)

	s, err := p.Score(context.Background(), []*ivec.IvecSet{small, ok})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(s.Failed["small"], cluster.ErrInsufficientData) {
		t.Errorf("small failure = %v", s.Failed["small"])
	}
	r := s.Results["ok"]
	if r == nil {
		t.Fatal("ok recording missing from results")
	}
	if r.Scores.Rows() != 3 || r.Scores.Cols() != 2 {
		t.Errorf("scores are %dx%d, want 3x2", r.Scores.Rows(), r.Scores.Cols())
	}
	for i, l := range r.Labels {
		if l < 0 || l > 1 {
			t.Errorf("label %d = %d", i, l)
		}
	}
}

func TestScoreDropsRecordingWithMixedDims(t *testing.T) {
	p, _ := newTestPipeline(t, testConfig(t.TempDir()))
	mixed := synthSet("mixed", []int{0, 1, 0}, 1)
	mixed.Ivecs[1].Vector = mixed.Ivecs[1].Vector[:2]
	mixed.SetNumSpeakers(2)
	ok := synthSet("ok", []int{0, 1, 0, 1}, 2)
	ok.SetNumSpeakers(2)

	s, err := p.Score(context.Background(), []*ivec.IvecSet{mixed, ok})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(s.Failed["mixed"], scoring.ErrInvalidInput) {
		t.Errorf("mixed failure = %v, want ErrInvalidInput", s.Failed["mixed"])
	}
	if s.Results["mixed"] != nil {
		t.Error("mixed recording should not be scored")
	}
	if s.Results["ok"] == nil {
		t.Error("ok recording missing from results")
	}
}

func TestScoreEstimatesWithCohort(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)
	c.Paths.NormList = filepath.Join(dir, "norm.txt")

	cohort := []*ivec.IvecSet{
		synthSet("norm/a", []int{0, 1, 0, 1, 0, 1, 0, 1}, 10),
		synthSet("norm/b", []int{0, 1, 2, 0, 1, 2, 0, 1, 2}, 11),
		synthSet("norm/c", []int{2, 3, 2, 3, 2, 3, 2, 3}, 12),
		synthSet("norm/d", []int{1, 2, 3, 1, 2, 3, 1, 2, 3}, 13),
	}
	writeSets(t, c.Paths.Ivecs, cohort...)
	writeText(t, c.Paths.NormList, "norm/a 2", "norm/b 3", "norm/c 2", "norm/d 3")

	p, _ := newTestPipeline(t, c)
	if !p.Engine().HasCohort() {
		t.Fatal("engine has no cohort")
	}

	set := synthSet("rec", []int{0, 0, 1, 1, 2, 2, 0, 1}, 20)
	run := func() *Result {
		s, err := p.Score(context.Background(), []*ivec.IvecSet{set})
		if err != nil {
			t.Fatal(err)
		}
		return s.Results["rec"]
	}
	r := run()
	if !r.Estimated || r.NumSpeakers < 2 || r.NumSpeakers > 3 {
		t.Fatalf("estimated %d speakers (estimated=%v)", r.NumSpeakers, r.Estimated)
	}
	if r.Scores.Rows() != set.Size() || r.Scores.Cols() != r.NumSpeakers {
		t.Errorf("scores are %dx%d", r.Scores.Rows(), r.Scores.Cols())
	}
	again := run()
	if again.NumSpeakers != r.NumSpeakers || fmt.Sprint(again.Labels) != fmt.Sprint(r.Labels) {
		t.Errorf("second run differs: %d %v vs %d %v", again.NumSpeakers, again.Labels, r.NumSpeakers, r.Labels)
	}
}

func TestAnnotationsMissingReferenceGroup(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)
	ref := filepath.Join(dir, "ref.rttm")
	writeText(t, ref, referenceLines("other", []int{0, 1})...)
	p, hook := newTestPipeline(t, c)

	results := map[string]*Result{
		"g/rec": {Name: "g/rec", Group: "g", Ivecs: synthSet("g/rec", []int{0, 1}, 1).Ivecs, Labels: []int{0, 1}},
	}
	refs, hyps, err := p.Annotations(ref, results)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := refs["other"]; ok {
		t.Error("unscored group should not be evaluated")
	}
	if refs["g"] == nil || len(refs["g"].Segments) != 0 {
		t.Errorf("ref g = %+v, want empty", refs["g"])
	}
	if len(hyps["g"].Segments) != 2 {
		t.Errorf("hyp g has %d segments", len(hyps["g"].Segments))
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.WarnLevel {
		t.Error("expected a warning for the missing reference")
	}
}

func TestLabelsTieBreak(t *testing.T) {
	got := Labels(scoring.Matrix{{1, 1}, {0, 2}, {3, 3, 1}})
	if fmt.Sprint(got) != "[0 1 0]" {
		t.Errorf("Labels = %v", got)
	}
}
