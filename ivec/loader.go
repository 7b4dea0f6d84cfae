package ivec

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
)

// Result is one item of the load sequence: either a set or the id of a
// recording whose blob was missing.
type Result struct {
	Set     *IvecSet
	Skipped string
}

type Loader struct {
	Dir string
	Log logrus.FieldLogger
}

func NewLoader(dir string, log logrus.FieldLogger) *Loader {
	return &Loader{Dir: dir, Log: log}
}

// Each walks the manifest and hands every set to fn, in manifest order. A
// missing blob is logged and reported as skipped; any other error stops the
// walk.
func (l *Loader) Each(manifest string, fn func(Result) error) error {
	f, err := os.Open(manifest)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	entries, err := ReadManifest(f)
	if err != nil {
		return fmt.Errorf("manifest %s: %w", manifest, err)
	}
	for _, e := range entries {
		l.Log.WithField("recording", e.ID).Info("loading ivec set")
		set, err := ReadFile(BlobPath(l.Dir, e.ID))
		if errors.Is(err, fs.ErrNotExist) {
			l.Log.WithField("recording", e.ID).Warn("no ivec file found, skipping")
			if err := fn(Result{Skipped: e.ID}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", e.ID, err)
		}
		if set.Name == "" {
			set.Name = e.ID
		}
		if e.NumSpeakers != nil {
			set.SetNumSpeakers(*e.NumSpeakers)
		}
		if err := fn(Result{Set: set}); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll drains Each into a fixed slice of loaded sets.
func (l *Loader) LoadAll(manifest string) ([]*IvecSet, error) {
	var sets []*IvecSet
	err := l.Each(manifest, func(r Result) error {
		if r.Set != nil {
			sets = append(sets, r.Set)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sets, nil
}
