package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/maastricht-university/diarization-pipeline/classifier"
	"github.com/maastricht-university/diarization-pipeline/clients"
	"github.com/maastricht-university/diarization-pipeline/cluster"
	cfg "github.com/maastricht-university/diarization-pipeline/config"
	"github.com/maastricht-university/diarization-pipeline/der"
	"github.com/maastricht-university/diarization-pipeline/ivec"
	"github.com/maastricht-university/diarization-pipeline/normalization"
	"github.com/maastricht-university/diarization-pipeline/rttm"
	"github.com/maastricht-university/diarization-pipeline/scoring"
)

// Deps overrides the collaborators NewPipeline would otherwise build from
// the configuration. Zero values mean "build from config".
type Deps struct {
	Log        logrus.FieldLogger
	HTTP       *clients.HTTP
	Scorer     scoring.Scorer
	Classifier classifier.Classifier
}

type Pipeline struct {
	cfg    *cfg.Root
	log    logrus.FieldLogger
	http   *clients.HTTP
	loader *ivec.Loader
	engine *normalization.Engine
}

func NewPipeline(c *cfg.Root, d Deps) (*Pipeline, error) {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := d.HTTP
	if h == nil {
		h = clients.NewHTTPWithTimeout(cfg.DurSeconds(c.Services.Visualization.TimeoutSeconds))
	}
	p := &Pipeline{cfg: c, log: log, http: h, loader: ivec.NewLoader(c.Paths.Ivecs, log)}

	scorer := d.Scorer
	if scorer == nil {
		var err error
		if scorer, err = newScorer(c); err != nil {
			return nil, err
		}
	}

	var cohortSets []*ivec.IvecSet
	var cohort [][]float64
	if c.Paths.NormList != "" {
		var err error
		if cohortSets, err = p.loader.LoadAll(c.Paths.NormList); err != nil {
			return nil, fmt.Errorf("load cohort: %w", err)
		}
		for _, s := range cohortSets {
			cohort = append(cohort, s.Vectors()...)
		}
		if len(cohort) == 0 {
			return nil, fmt.Errorf("cohort %s: %w", c.Paths.NormList, normalization.ErrNoCohort)
		}
	}

	clf := d.Classifier
	if clf == nil {
		var err error
		clf, err = classifier.New(classifier.Config{
			Kind:       classifier.Kind(c.Classifier.Kind),
			Components: c.Classifier.Components,
			Covariance: classifier.CovarianceType(c.Classifier.Covariance),
			MaxIter:    c.Classifier.MaxIter,
			C:          c.Classifier.C,
			Seed:       c.Clustering.Seed,
		})
		if err != nil {
			return nil, err
		}
	}

	engine, err := normalization.New(cohort, scorer, clf, normalization.Options{
		MinSpeakers: c.Speakers.Min,
		MaxSpeakers: c.Speakers.Max,
		Calibration: configuredCalibration(c.Scoring),
		MaxIter:     c.Clustering.MaxIter,
		Seeding: cluster.KMeansOptions{
			NInit:   c.Clustering.KMeansInit,
			MaxIter: c.Clustering.KMeansMaxIter,
			Seed:    c.Clustering.Seed,
		},
	}, log)
	if err != nil {
		return nil, err
	}
	if engine.HasCohort() {
		// Without labelled cohort recordings estimation fails later with
		// classifier.ErrNotTrained; recordings with a known count still work.
		if err := engine.TrainSpeakerCounter(cohortSets); err != nil {
			log.WithError(err).Warn("speaker counter not trained")
		}
	}
	p.engine = engine
	return p, nil
}

func newScorer(c *cfg.Root) (scoring.Scorer, error) {
	switch c.Scoring.Kind {
	case "cosine":
		return scoring.Cosine{}, nil
	case "plda", "":
		plda, err := scoring.LoadPLDA(c.Paths.PLDAModel)
		if err != nil {
			return nil, fmt.Errorf("load plda model: %w", err)
		}
		return plda, nil
	default:
		return nil, fmt.Errorf("unknown scoring kind %q", c.Scoring.Kind)
	}
}

func configuredCalibration(s cfg.Scoring) *scoring.Calibration {
	if s.Scale == nil && s.Shift == nil {
		return nil
	}
	cal := scoring.Identity
	if s.Scale != nil {
		cal.Scale = *s.Scale
	}
	if s.Shift != nil {
		cal.Shift = *s.Shift
	}
	return &cal
}

func (p *Pipeline) Engine() *normalization.Engine { return p.engine }

// Load reads the input manifest. Recordings without a blob are returned by
// id in missing.
func (p *Pipeline) Load() (sets []*ivec.IvecSet, missing []string, err error) {
	err = p.loader.Each(p.cfg.Paths.InputList, func(r ivec.Result) error {
		if r.Set == nil {
			missing = append(missing, r.Skipped)
			return nil
		}
		sets = append(sets, r.Set)
		return nil
	})
	return sets, missing, err
}

// Score runs every recording through clustering and scoring, at most
// pipeline.workers at a time. Configuration errors abort the run; bad input
// only drops the recording it came from.
func (p *Pipeline) Score(ctx context.Context, sets []*ivec.IvecSet) (*Scored, error) {
	out := &Scored{Results: map[string]*Result{}, Failed: map[string]error{}}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.cfg.Pipeline.Workers))
	for _, set := range sets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := recordingName(set.Name)
			res, err := p.scoreOne(name, set)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && perRecording(err):
				p.log.WithError(err).WithField("recording", name).Error("recording dropped")
				out.Failed[name] = err
			case err != nil:
				return fmt.Errorf("score %s: %w", name, err)
			case res == nil:
				out.Skipped = append(out.Skipped, name)
			default:
				out.Results[name] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(out.Skipped)
	return out, nil
}

// scoreOne returns nil for an empty set.
func (p *Pipeline) scoreOne(name string, set *ivec.IvecSet) (*Result, error) {
	log := p.log.WithField("recording", name)
	if set.Size() == 0 {
		log.Warn("no ivecs to score, skipping")
		return nil, nil
	}
	log.Info("scoring")

	x := set.Vectors()
	res := &Result{Name: name, Group: ivec.GroupName(set.Name), Ivecs: set.Ivecs}
	var centroids [][]float64
	switch {
	case set.NumSpeakers != nil:
		fit, err := p.engine.Cluster(x, *set.NumSpeakers)
		if err != nil {
			return nil, err
		}
		if !fit.Converged {
			log.WithField("iterations", fit.Iterations).Debug("clustering hit the iteration cap")
		}
		res.NumSpeakers, centroids = *set.NumSpeakers, fit.Centroids
	case p.engine.HasCohort():
		lo, hi := p.engine.SpeakerRange()
		n, c, err := p.engine.EstimateSpeakerCount(x, lo, hi)
		if err != nil {
			return nil, err
		}
		res.NumSpeakers, res.Estimated, centroids = n, true, c
		log.WithField("speakers", n).Info("estimated speaker count")
	default:
		return nil, ErrSpeakerCountUnknown
	}

	scores, err := p.engine.Score(x, centroids)
	if err != nil {
		return nil, err
	}
	res.Scores = scores
	res.Labels = Labels(scores)
	return res, nil
}

// rttmPath mirrors the recording's relative name under the output dir.
func (p *Pipeline) rttmPath(name string) string {
	return filepath.Join(p.cfg.Paths.Out, name+".rttm")
}

// DumpRTTM writes one file per scored recording. Each write is atomic, so a
// failure leaves earlier files intact.
func (p *Pipeline) DumpRTTM(results map[string]*Result) error {
	for _, name := range sortedNames(results) {
		r := results[name]
		path := p.rttmPath(name)
		if err := rttm.WriteFile(path, r.Group, r.Ivecs, r.Labels); err != nil {
			return fmt.Errorf("dump %s: %w", name, err)
		}
		p.log.WithFields(logrus.Fields{"recording": name, "path": path}).Info("wrote rttm")
	}
	return nil
}

// Run is load, score, dump, optional evaluation and the run summary. An
// unusable recording does not stop the others but makes Run fail at the end.
func (p *Pipeline) Run(ctx context.Context) error {
	sets, missing, err := p.Load()
	if err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"recordings": len(sets), "missing": len(missing)}).Info("loaded ivec sets")

	scored, err := p.Score(ctx, sets)
	if err != nil {
		return err
	}
	scored.Skipped = append(scored.Skipped, missing...)
	sort.Strings(scored.Skipped)

	if err := p.DumpRTTM(scored.Results); err != nil {
		return err
	}

	var report *der.Report
	if p.cfg.Paths.Reference != "" {
		if report, err = p.Evaluate(ctx, p.cfg.Paths.Reference, scored.Results); err != nil {
			return err
		}
	}

	path, err := p.Persist(scored, report)
	if err != nil {
		return err
	}
	p.log.WithField("path", path).Info("wrote run summary")

	if len(scored.Failed) > 0 {
		errs := make([]error, 0, len(scored.Failed))
		for name, e := range scored.Failed {
			errs = append(errs, fmt.Errorf("%s: %w", name, e))
		}
		return fmt.Errorf("%d recordings failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
