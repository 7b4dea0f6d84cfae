package ivec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedManifest is returned for manifest lines that are neither
// "<id>" nor "<id> <count>".
var ErrMalformedManifest = errors.New("malformed manifest")

// Entry is one manifest line.
type Entry struct {
	ID          string
	NumSpeakers *int
}

func ParseManifestLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		return Entry{ID: fields[0]}, nil
	case 2:
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return Entry{}, fmt.Errorf("%w: bad speaker count %q for %s", ErrMalformedManifest, fields[1], fields[0])
		}
		return Entry{ID: fields[0], NumSpeakers: &n}, nil
	default:
		return Entry{}, fmt.Errorf("%w: unexpected number of columns (%d) in %q", ErrMalformedManifest, len(fields), line)
	}
}

// ReadManifest parses every line. A blank line has no id and is malformed
// like any other; the whole manifest is rejected on the first bad line.
func ReadManifest(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		e, err := ParseManifestLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
