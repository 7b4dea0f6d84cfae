package classifier

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression is a multinomial (softmax) linear classifier with an
// L2 penalty on the weights but not the intercepts.
type LogisticRegression struct {
	C       float64
	MaxIter int

	classes []int
	dim     int
	// weights holds one row of dim+1 values per class; the last is the intercept.
	weights [][]float64
}

func NewLogisticRegression(c float64, maxIter int) *LogisticRegression {
	if c <= 0 {
		c = 1
	}
	if maxIter <= 0 {
		maxIter = 100
	}
	return &LogisticRegression{C: c, MaxIter: maxIter}
}

func (m *LogisticRegression) Classes() []int { return slices.Clone(m.classes) }

func (m *LogisticRegression) Train(x [][]float64, y []int) error {
	m.classes, m.weights = nil, nil
	d, err := checkTrainingData(x, y)
	if err != nil {
		return err
	}
	classes, idx := uniqueSorted(y)
	k := len(classes)
	if k == 1 {
		m.classes, m.dim = classes, d
		m.weights = [][]float64{make([]float64, d+1)}
		return nil
	}

	stride := d + 1
	probs := make([]float64, k)
	objective := func(grad, w []float64) float64 {
		if grad != nil {
			for i := range grad {
				grad[i] = 0
			}
		}
		var loss float64
		for n, row := range x {
			for c := 0; c < k; c++ {
				wc := w[c*stride : (c+1)*stride]
				probs[c] = floats.Dot(wc[:d], row) + wc[d]
			}
			lse := floats.LogSumExp(probs)
			loss -= probs[idx[n]] - lse
			if grad == nil {
				continue
			}
			for c := 0; c < k; c++ {
				g := math.Exp(probs[c] - lse)
				if c == idx[n] {
					g--
				}
				g *= m.C
				gc := grad[c*stride : (c+1)*stride]
				floats.AddScaled(gc[:d], g, row)
				gc[d] += g
			}
		}
		loss *= m.C
		for c := 0; c < k; c++ {
			wc := w[c*stride : c*stride+d]
			loss += 0.5 * floats.Dot(wc, wc)
			if grad != nil {
				floats.Add(grad[c*stride:c*stride+d], wc)
			}
		}
		return loss
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 { return objective(nil, w) },
		Grad: func(grad, w []float64) { objective(grad, w) },
	}
	settings := &optimize.Settings{MajorIterations: m.MaxIter, GradientThreshold: 1e-6}
	res, err := optimize.Minimize(problem, make([]float64, k*stride), settings, &optimize.LBFGS{})
	if res == nil {
		return fmt.Errorf("logistic regression: %w", err)
	}

	m.classes, m.dim = classes, d
	m.weights = make([][]float64, k)
	for c := 0; c < k; c++ {
		m.weights[c] = slices.Clone(res.X[c*stride : (c+1)*stride])
	}
	return nil
}

func (m *LogisticRegression) PredictProba(x [][]float64) ([][]float64, error) {
	if m.classes == nil {
		return nil, ErrNotTrained
	}
	if err := checkInput(x, m.dim); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for n, row := range x {
		z := make([]float64, len(m.classes))
		for c, w := range m.weights {
			z[c] = floats.Dot(w[:m.dim], row) + w[m.dim]
		}
		lse := floats.LogSumExp(z)
		for c := range z {
			z[c] = math.Exp(z[c] - lse)
		}
		out[n] = z
	}
	return out, nil
}

func (m *LogisticRegression) Predict(x [][]float64) ([]int, error) {
	return predictFromProba(m, x)
}
