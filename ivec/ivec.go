// Package ivec holds per-recording speaker embeddings ("ivecs") and the
// manifest/blob loader that produces them.
package ivec

import (
	"fmt"
	"regexp"
	"strings"
)

// Ivec is one segment's embedding. Window bounds are in milliseconds.
type Ivec struct {
	Vector      []float64 `msgpack:"vector"`
	WindowStart int       `msgpack:"window_start"`
	WindowEnd   int       `msgpack:"window_end"`
}

func NewIvec(vec []float64, start, end int) (Ivec, error) {
	if end <= start {
		return Ivec{}, fmt.Errorf("ivec window [%d, %d): end must be after start", start, end)
	}
	v := make([]float64, len(vec))
	copy(v, vec)
	return Ivec{Vector: v, WindowStart: start, WindowEnd: end}, nil
}

// IvecSet is the ordered sequence of embeddings for one recording.
// NumSpeakers is nil when the speaker count has to be estimated.
type IvecSet struct {
	Name        string `msgpack:"name"`
	NumSpeakers *int   `msgpack:"num_speakers,omitempty"`
	Ivecs       []Ivec `msgpack:"ivecs"`
}

func (s *IvecSet) Size() int { return len(s.Ivecs) }

// Vectors returns the embedding matrix, one row per ivec. Rows alias the
// underlying vectors and must not be modified.
func (s *IvecSet) Vectors() [][]float64 {
	out := make([][]float64, len(s.Ivecs))
	for i := range s.Ivecs {
		out[i] = s.Ivecs[i].Vector
	}
	return out
}

// SetNumSpeakers fixes a known speaker count.
func (s *IvecSet) SetNumSpeakers(n int) { s.NumSpeakers = &n }

var (
	beamformed = regexp.MustCompile(`beamformed/`)
	afterSlash = regexp.MustCompile(`/.*`)
)

// GroupName maps a recording name to its group: the literal "beamformed/"
// token is dropped and everything from the first '/' on is cut.
// "beamformed/EN2001a/Array1" -> "EN2001a".
func GroupName(name string) string {
	if strings.Contains(name, "beamformed") {
		name = beamformed.ReplaceAllString(name, "")
	}
	return afterSlash.ReplaceAllString(name, "")
}
