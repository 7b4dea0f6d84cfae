package classifier

import (
	"errors"
	"math"
	"slices"
	"testing"
)

// three well separated classes in 2-D, labelled like speaker counts
func threeClasses() ([][]float64, []int) {
	var x [][]float64
	var y []int
	centers := map[int][2]float64{2: {0, 0}, 3: {4, 0}, 4: {0, 4}}
	offsets := [][2]float64{{0, 0}, {0.3, 0.1}, {-0.2, 0.25}, {0.1, -0.3}, {-0.25, -0.1}}
	for _, label := range []int{2, 3, 4} {
		c := centers[label]
		for _, o := range offsets {
			x = append(x, []float64{c[0] + o[0], c[1] + o[1]})
			y = append(y, label)
		}
	}
	return x, y
}

func allClassifiers(t *testing.T) map[string]Classifier {
	t.Helper()
	out := map[string]Classifier{"logistic": NewLogisticRegression(1, 200)}
	for _, cov := range []CovarianceType{Spherical, Diagonal, Full, Tied} {
		g, err := NewGMM(1, cov, 100, 1)
		if err != nil {
			t.Fatal(err)
		}
		out["gmm-"+string(cov)] = g
	}
	return out
}

func TestNotTrained(t *testing.T) {
	for name, c := range allClassifiers(t) {
		if _, err := c.PredictProba([][]float64{{0, 0}}); !errors.Is(err, ErrNotTrained) {
			t.Errorf("%s PredictProba: err = %v, want ErrNotTrained", name, err)
		}
		if _, err := c.Predict([][]float64{{0, 0}}); !errors.Is(err, ErrNotTrained) {
			t.Errorf("%s Predict: err = %v, want ErrNotTrained", name, err)
		}
	}
}

func TestClassifiersSeparateClasses(t *testing.T) {
	x, y := threeClasses()
	probes := [][]float64{{0.1, 0.1}, {3.9, 0.2}, {-0.1, 4.1}}
	want := []int{2, 3, 4}

	for name, c := range allClassifiers(t) {
		t.Run(name, func(t *testing.T) {
			if err := c.Train(x, y); err != nil {
				t.Fatal(err)
			}
			if got := c.Classes(); !slices.Equal(got, []int{2, 3, 4}) {
				t.Fatalf("Classes = %v", got)
			}
			pred, err := c.Predict(probes)
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(pred, want) {
				t.Errorf("Predict = %v, want %v", pred, want)
			}
			proba, err := c.PredictProba(probes)
			if err != nil {
				t.Fatal(err)
			}
			for i, row := range proba {
				var sum float64
				for _, p := range row {
					if p < 0 || p > 1 {
						t.Errorf("row %d has probability %v", i, p)
					}
					sum += p
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("row %d sums to %v", i, sum)
				}
				if row[i] < 0.5 {
					t.Errorf("row %d: p(true class) = %v", i, row[i])
				}
			}
		})
	}
}

func TestRetrainDiscardsState(t *testing.T) {
	x, y := threeClasses()
	for name, c := range allClassifiers(t) {
		if err := c.Train(x, y); err != nil {
			t.Fatal(err)
		}
		relabel := make([]int, len(y))
		for i := range y {
			relabel[i] = 5 + i%2
		}
		if err := c.Train(x, relabel); err != nil {
			t.Fatal(err)
		}
		if got := c.Classes(); !slices.Equal(got, []int{5, 6}) {
			t.Errorf("%s: Classes after retrain = %v", name, got)
		}
	}
}

func TestTrainValidates(t *testing.T) {
	c := NewLogisticRegression(1, 10)
	if err := c.Train(nil, nil); err == nil {
		t.Error("expected error for empty training set")
	}
	if err := c.Train([][]float64{{1}}, []int{1, 2}); err == nil {
		t.Error("expected error for label count mismatch")
	}
	if err := c.Train([][]float64{{1}, {1, 2}}, []int{1, 2}); err == nil {
		t.Error("expected error for ragged features")
	}
	if err := c.Train([][]float64{{1}, {2}}, []int{1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.PredictProba([][]float64{{1, 2}}); err == nil {
		t.Error("expected error for wrong feature count")
	}
}

func TestSingleClass(t *testing.T) {
	c := NewLogisticRegression(1, 10)
	if err := c.Train([][]float64{{1}, {2}}, []int{3, 3}); err != nil {
		t.Fatal(err)
	}
	p, err := c.PredictProba([][]float64{{10}})
	if err != nil {
		t.Fatal(err)
	}
	if len(p[0]) != 1 || p[0][0] != 1 {
		t.Errorf("proba = %v", p)
	}
}

func TestNew(t *testing.T) {
	if c, err := New(Config{}); err != nil {
		t.Fatal(err)
	} else if _, ok := c.(*LogisticRegression); !ok {
		t.Errorf("default kind gave %T", c)
	}
	if c, err := New(Config{Kind: KindGMM, Components: 2, Covariance: Diagonal}); err != nil {
		t.Fatal(err)
	} else if g, ok := c.(*GMM); !ok || g.Covariance != Diagonal {
		t.Errorf("gmm kind gave %#v", c)
	}
	if _, err := New(Config{Kind: "svm"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := New(Config{Kind: KindGMM, Covariance: "banded"}); err == nil {
		t.Error("expected error for unknown covariance")
	}
}

func TestGMMMultiModalClass(t *testing.T) {
	square := [][2]float64{{0, 0}, {0.4, 0}, {0, 0.4}, {0.4, 0.4}, {0.2, 0.15}}
	var x [][]float64
	var y []int
	for _, base := range [][2]float64{{0, 0}, {10, 0}} {
		for _, o := range square {
			x = append(x, []float64{base[0] + o[0], base[1] + o[1]})
			y = append(y, 1)
		}
	}
	for _, base := range [][2]float64{{5, 8}, {5, -8}} {
		for _, o := range square {
			x = append(x, []float64{base[0] + o[0], base[1] + o[1]})
			y = append(y, 2)
		}
	}

	g, err := NewGMM(2, Full, 100, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Train(x, y); err != nil {
		t.Fatal(err)
	}
	pred, err := g.Predict([][]float64{{0.2, 0.2}, {10.2, 0.2}, {5.2, 8.2}, {5.2, -7.8}})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(pred, []int{1, 1, 2, 2}) {
		t.Errorf("Predict = %v, want [1 1 2 2]", pred)
	}
}
