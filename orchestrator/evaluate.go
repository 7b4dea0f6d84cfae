package orchestrator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/diarization-pipeline/clients"
	"github.com/maastricht-university/diarization-pipeline/der"
	"github.com/maastricht-university/diarization-pipeline/rttm"
)

// Annotations builds reference and hypothesis timelines per recording
// group. Only groups with at least one scored recording are evaluated; a
// group missing from the reference gets an empty one.
func (p *Pipeline) Annotations(refPath string, results map[string]*Result) (refs, hyps map[string]*rttm.Annotation, err error) {
	all, err := rttm.ReadReference(refPath)
	if err != nil {
		return nil, nil, err
	}
	refs, hyps = map[string]*rttm.Annotation{}, map[string]*rttm.Annotation{}
	for _, name := range sortedNames(results) {
		r := results[name]
		hyps[r.Group] = rttm.Hypothesis(hyps[r.Group], r.Ivecs, r.Labels)
		if _, ok := refs[r.Group]; ok {
			continue
		}
		ref, ok := all[r.Group]
		if !ok {
			p.log.WithField("group", r.Group).Warn("no reference annotation for group")
			ref = &rttm.Annotation{}
		}
		refs[r.Group] = ref
	}
	return refs, hyps, nil
}

// Evaluate computes the DER of every group against the reference and, when
// a visualization service is configured, posts the series for plotting.
// A failed upload is logged, not returned.
func (p *Pipeline) Evaluate(ctx context.Context, refPath string, results map[string]*Result) (*der.Report, error) {
	refs, hyps, err := p.Annotations(refPath, results)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	report := der.Metric{Collar: p.cfg.Evaluation.Collar}.Report(refs, hyps)

	names := make([]string, 0, len(report.Groups))
	values := make([]float64, 0, len(report.Groups))
	for _, g := range report.Groups {
		p.log.WithFields(logrus.Fields{"group": g.Name, "der": fmt.Sprintf("%.3f", g.DER)}).Info("DER")
		names = append(names, g.Name)
		values = append(values, g.DER)
	}
	p.log.WithField("der", fmt.Sprintf("%.3f", report.Average)).Info("average DER")

	if url := p.cfg.Services.Visualization.URL; url != "" && len(names) > 0 {
		plot := clients.NewDERPlot(p.cfg.Evaluation.PlotTitle, names, values)
		resp, err := p.http.PlotDER(ctx, url, plot)
		if err != nil {
			p.log.WithError(err).Warn("DER plot upload failed")
		} else {
			p.log.WithFields(logrus.Fields{"status": resp.Status, "path": resp.Path}).Info("DER plot uploaded")
		}
	}
	return &report, nil
}
