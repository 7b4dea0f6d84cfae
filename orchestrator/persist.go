package orchestrator

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/maastricht-university/diarization-pipeline/der"
)

type RecordingSummary struct {
	Name      string `yaml:"name"`
	Group     string `yaml:"group"`
	Ivecs     int    `yaml:"ivecs"`
	Speakers  int    `yaml:"speakers"`
	Estimated bool   `yaml:"estimated"`
	RTTM      string `yaml:"rttm"`
}

type GroupSummary struct {
	Name string  `yaml:"name"`
	DER  float64 `yaml:"der"`
}

type DERSummary struct {
	Collar  float64        `yaml:"collar"`
	Groups  []GroupSummary `yaml:"groups"`
	Average float64        `yaml:"average"`
}

type RunSummary struct {
	RunID       string             `yaml:"run_id"`
	Pipeline    string             `yaml:"pipeline"`
	GeneratedAt time.Time          `yaml:"generated_at"`
	Scorer      string             `yaml:"scorer"`
	Scale       float64            `yaml:"scale"`
	Shift       float64            `yaml:"shift"`
	Cohort      bool               `yaml:"cohort"`
	Recordings  []RecordingSummary `yaml:"recordings"`
	Skipped     []string           `yaml:"skipped,omitempty"`
	Failed      map[string]string  `yaml:"failed,omitempty"`
	DER         *DERSummary        `yaml:"der,omitempty"`
}

func (p *Pipeline) summaryPath() string {
	if p.cfg.Paths.Summary != "" {
		return p.cfg.Paths.Summary
	}
	return filepath.Join(p.cfg.Paths.Out, "summary.yaml")
}

func (p *Pipeline) summarize(s *Scored, report *der.Report) RunSummary {
	cal := p.engine.Calibration()
	sum := RunSummary{
		RunID:       uuid.NewString(),
		Pipeline:    p.cfg.Pipeline.Name,
		GeneratedAt: time.Now().UTC(),
		Scorer:      p.cfg.Scoring.Kind,
		Scale:       cal.Scale,
		Shift:       cal.Shift,
		Cohort:      p.engine.HasCohort(),
		Skipped:     s.Skipped,
	}
	for _, name := range sortedNames(s.Results) {
		r := s.Results[name]
		sum.Recordings = append(sum.Recordings, RecordingSummary{
			Name:      name,
			Group:     r.Group,
			Ivecs:     len(r.Ivecs),
			Speakers:  r.NumSpeakers,
			Estimated: r.Estimated,
			RTTM:      p.rttmPath(name),
		})
	}
	if len(s.Failed) > 0 {
		sum.Failed = make(map[string]string, len(s.Failed))
		for name, err := range s.Failed {
			sum.Failed[name] = err.Error()
		}
	}
	if report != nil {
		d := &DERSummary{Collar: p.cfg.Evaluation.Collar, Average: report.Average}
		for _, g := range report.Groups {
			d.Groups = append(d.Groups, GroupSummary{Name: g.Name, DER: g.DER})
		}
		sum.DER = d
	}
	return sum
}

func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Persist writes the run summary and returns its path.
func (p *Pipeline) Persist(s *Scored, report *der.Report) (string, error) {
	path := p.summaryPath()
	if err := writeYAML(path, p.summarize(s, report)); err != nil {
		return "", err
	}
	return path, nil
}
