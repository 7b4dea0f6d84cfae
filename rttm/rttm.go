package rttm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maastricht-university/diarization-pipeline/ivec"
)

const referenceFields = 9

// ParseReference reads reference lines
// "<type> <name> <chan> <start> <duration> <ortho> <stype> <speaker> <conf>"
// into one annotation per name.
func ParseReference(r io.Reader) (map[string]*Annotation, error) {
	out := make(map[string]*Annotation)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != referenceFields {
			return nil, fmt.Errorf("reference line %d: %d fields, want %d", lineNo, len(fields), referenceFields)
		}
		start, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("reference line %d: start: %w", lineNo, err)
		}
		dur, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, fmt.Errorf("reference line %d: duration: %w", lineNo, err)
		}
		name := fields[1]
		a, ok := out[name]
		if !ok {
			a = &Annotation{}
			out[name] = a
		}
		a.Add(start, start+dur, fields[7])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func ReadReference(path string) (map[string]*Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseReference(f)
}

// Hypothesis converts ivec windows (ms) and their cluster labels into an
// annotation in seconds.
func Hypothesis(a *Annotation, ivecs []ivec.Ivec, labels []int) *Annotation {
	if a == nil {
		a = &Annotation{}
	}
	for i, iv := range ivecs {
		a.Add(float64(iv.WindowStart)/1000, float64(iv.WindowEnd)/1000, strconv.Itoa(labels[i]))
	}
	return a
}

// seconds formats like the reference tooling does: always with a fraction.
func seconds(ms int) string {
	s := strconv.FormatFloat(float64(ms)/1000, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Encode writes one SPEAKER line per ivec.
func Encode(w io.Writer, group string, ivecs []ivec.Ivec, labels []int) error {
	if len(ivecs) != len(labels) {
		return fmt.Errorf("rttm: %d ivecs but %d labels", len(ivecs), len(labels))
	}
	bw := bufio.NewWriter(w)
	for i, iv := range ivecs {
		if _, err := fmt.Fprintf(bw, "SPEAKER %s 1 %s %s <NA> <NA> %s_spkr_%d <NA>\n",
			group, seconds(iv.WindowStart), seconds(iv.WindowEnd-iv.WindowStart), group, labels[i]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the file atomically: readers see either the previous
// content or the complete new file. Parent directories are created.
func WriteFile(path, group string, ivecs []ivec.Ivec, labels []int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, group, ivecs, labels); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
