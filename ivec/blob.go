package ivec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// BlobExt is the file extension of serialized ivec sets.
const BlobExt = ".msgpack"

func Encode(s *IvecSet) ([]byte, error) {
	return msgpack.Marshal(s)
}

func Decode(data []byte) (*IvecSet, error) {
	var s IvecSet
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("ivec decode: %w", err)
	}
	for i, iv := range s.Ivecs {
		if len(iv.Vector) == 0 || len(iv.Vector) != len(s.Ivecs[0].Vector) {
			return nil, fmt.Errorf("ivec decode %s: ivec %d has dim %d, want %d", s.Name, i, len(iv.Vector), len(s.Ivecs[0].Vector))
		}
		if iv.WindowEnd <= iv.WindowStart {
			return nil, fmt.Errorf("ivec decode %s: ivec %d has empty window [%d, %d)", s.Name, i, iv.WindowStart, iv.WindowEnd)
		}
	}
	return &s, nil
}

// BlobPath is where the set with the given id lives under dir.
func BlobPath(dir, id string) string {
	return filepath.Join(dir, id+BlobExt)
}

// WriteFile stores s under dir using its name as id.
func WriteFile(dir string, s *IvecSet) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	p := BlobPath(dir, s.Name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func ReadFile(path string) (*IvecSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
