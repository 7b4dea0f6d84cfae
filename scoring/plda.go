package scoring

import (
	"fmt"
	"math"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// PLDAModel is a two-covariance PLDA model in its diagonalising basis:
// y = Transform*(x - Mean) has unit within-class and Psi between-class
// variance per dimension.
type PLDAModel struct {
	Mean      []float64   `msgpack:"mean"`
	Transform [][]float64 `msgpack:"transform"`
	Psi       []float64   `msgpack:"psi"`
}

// PLDA scores the log-likelihood ratio of same versus different speaker
// with a single enrollment vector per centroid.
type PLDA struct {
	mean  *mat.VecDense
	trans *mat.Dense
	psi   []float64
}

func NewPLDA(m PLDAModel) (*PLDA, error) {
	d := len(m.Mean)
	if d == 0 || len(m.Transform) == 0 {
		return nil, fmt.Errorf("plda: empty model")
	}
	if len(m.Psi) != len(m.Transform) {
		return nil, fmt.Errorf("plda: psi has %d dims, transform has %d rows", len(m.Psi), len(m.Transform))
	}
	trans := mat.NewDense(len(m.Transform), d, nil)
	for i, row := range m.Transform {
		if len(row) != d {
			return nil, fmt.Errorf("plda: transform row %d has %d cols, want %d", i, len(row), d)
		}
		trans.SetRow(i, row)
	}
	for i, p := range m.Psi {
		if p < 0 {
			return nil, fmt.Errorf("plda: negative psi[%d]", i)
		}
	}
	mean := mat.NewVecDense(d, append([]float64(nil), m.Mean...))
	return &PLDA{mean: mean, trans: trans, psi: append([]float64(nil), m.Psi...)}, nil
}

// LoadPLDA reads a msgpack encoded PLDAModel.
func LoadPLDA(path string) (*PLDA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plda load: %w", err)
	}
	var m PLDAModel
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plda decode: %w", err)
	}
	return NewPLDA(m)
}

func SavePLDA(path string, m PLDAModel) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *PLDA) project(x []float64) []float64 {
	r, _ := p.trans.Dims()
	v := mat.NewVecDense(len(x), append([]float64(nil), x...))
	v.SubVec(v, p.mean)
	out := mat.NewVecDense(r, nil)
	out.MulVec(p.trans, v)
	return out.RawVector().Data
}

func (p *PLDA) Score(vectors, centroids [][]float64, cal Calibration) (Matrix, error) {
	d, err := dims(vectors, centroids)
	if err != nil {
		return nil, err
	}
	if _, c := p.trans.Dims(); c != d {
		return nil, fmt.Errorf("%w: model expects dim %d, got %d", ErrInvalidInput, c, d)
	}

	// per-dimension constants of the same/different speaker Gaussians
	k := len(p.psi)
	gain := make([]float64, k)
	varSame := make([]float64, k)
	varDiff := make([]float64, k)
	var logNorm float64
	for i, psi := range p.psi {
		gain[i] = psi / (psi + 1)
		varSame[i] = 1 + gain[i]
		varDiff[i] = 1 + psi
		logNorm += math.Log(varDiff[i]) - math.Log(varSame[i])
	}

	ys := make([][]float64, len(vectors))
	for i, v := range vectors {
		ys[i] = p.project(v)
	}
	cs := make([][]float64, len(centroids))
	for j, c := range centroids {
		cs[j] = p.project(c)
	}

	out := make(Matrix, len(vectors))
	for i, y := range ys {
		row := make([]float64, len(cs))
		for j, c := range cs {
			llr := logNorm
			for t := 0; t < k; t++ {
				m := gain[t] * c[t]
				llr += y[t]*y[t]/varDiff[t] - (y[t]-m)*(y[t]-m)/varSame[t]
			}
			row[j] = cal.Apply(0.5 * llr)
		}
		out[i] = row
	}
	return out, nil
}
