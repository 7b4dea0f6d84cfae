package classifier

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/maastricht-university/diarization-pipeline/cluster"
)

type CovarianceType string

const (
	Spherical CovarianceType = "spherical"
	Diagonal  CovarianceType = "diag"
	Full      CovarianceType = "full"
	Tied      CovarianceType = "tied"
)

const (
	regCovar = 1e-6
	emTol    = 1e-3
)

// GMM is a generative classifier: every class is a Gaussian mixture and the
// class posterior is prior times mixture likelihood, normalised.
type GMM struct {
	Components int
	Covariance CovarianceType
	MaxIter    int
	Seed       uint64

	classes   []int
	dim       int
	logPriors []float64
	mixtures  []*mixture
}

func NewGMM(components int, cov CovarianceType, maxIter int, seed uint64) (*GMM, error) {
	if components <= 0 {
		components = 1
	}
	if cov == "" {
		cov = Full
	}
	switch cov {
	case Spherical, Diagonal, Full, Tied:
	default:
		return nil, fmt.Errorf("unknown covariance type %q", cov)
	}
	if maxIter <= 0 {
		maxIter = 100
	}
	return &GMM{Components: components, Covariance: cov, MaxIter: maxIter, Seed: seed}, nil
}

func (g *GMM) Classes() []int { return slices.Clone(g.classes) }

func (g *GMM) Train(x [][]float64, y []int) error {
	g.classes, g.mixtures, g.logPriors = nil, nil, nil
	d, err := checkTrainingData(x, y)
	if err != nil {
		return err
	}
	classes, idx := uniqueSorted(y)
	groups := make([][][]float64, len(classes))
	for i, row := range x {
		groups[idx[i]] = append(groups[idx[i]], row)
	}

	mixtures := make([]*mixture, len(classes))
	priors := make([]float64, len(classes))
	for c, rows := range groups {
		m, err := fitMixture(rows, min(g.Components, len(rows)), g.Covariance, g.MaxIter, g.Seed)
		if err != nil {
			return fmt.Errorf("gmm class %d: %w", classes[c], err)
		}
		mixtures[c] = m
		priors[c] = math.Log(float64(len(rows)) / float64(len(x)))
	}
	g.classes, g.dim, g.mixtures, g.logPriors = classes, d, mixtures, priors
	return nil
}

func (g *GMM) PredictProba(x [][]float64) ([][]float64, error) {
	if g.classes == nil {
		return nil, ErrNotTrained
	}
	if err := checkInput(x, g.dim); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for n, row := range x {
		lp := make([]float64, len(g.classes))
		for c, m := range g.mixtures {
			lp[c] = g.logPriors[c] + m.logProb(row)
		}
		lse := floats.LogSumExp(lp)
		for c := range lp {
			lp[c] = math.Exp(lp[c] - lse)
		}
		out[n] = lp
	}
	return out, nil
}

func (g *GMM) Predict(x [][]float64) ([]int, error) {
	return predictFromProba(g, x)
}

// --- mixture fitting (EM) ---

type mixture struct {
	logWeights []float64
	comps      []*distmv.Normal
}

func (m *mixture) logProb(x []float64) float64 {
	lp := make([]float64, len(m.comps))
	for k, c := range m.comps {
		lp[k] = m.logWeights[k] + c.LogProb(x)
	}
	return floats.LogSumExp(lp)
}

func fitMixture(x [][]float64, k int, cov CovarianceType, maxIter int, seed uint64) (*mixture, error) {
	init, err := cluster.KMeans(x, k, cluster.KMeansOptions{NInit: 1, Seed: seed})
	if err != nil {
		return nil, err
	}
	resp := make([][]float64, len(x))
	for i, l := range init.Labels {
		resp[i] = make([]float64, k)
		resp[i][l] = 1
	}

	m, err := mStep(x, resp, cov)
	if err != nil {
		return nil, err
	}
	prev := math.Inf(-1)
	for it := 0; it < maxIter; it++ {
		ll := eStep(m, x, resp)
		if math.Abs(ll-prev) < emTol {
			break
		}
		prev = ll
		if m, err = mStep(x, resp, cov); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// eStep fills resp with component responsibilities and returns the mean
// log-likelihood.
func eStep(m *mixture, x [][]float64, resp [][]float64) float64 {
	var total float64
	for i, row := range x {
		for k, c := range m.comps {
			resp[i][k] = m.logWeights[k] + c.LogProb(row)
		}
		lse := floats.LogSumExp(resp[i])
		for k := range resp[i] {
			resp[i][k] = math.Exp(resp[i][k] - lse)
		}
		total += lse
	}
	return total / float64(len(x))
}

func mStep(x [][]float64, resp [][]float64, cov CovarianceType) (*mixture, error) {
	n, d, k := len(x), len(x[0]), len(resp[0])
	nk := make([]float64, k)
	means := make([][]float64, k)
	for j := 0; j < k; j++ {
		means[j] = make([]float64, d)
	}
	for i, row := range x {
		for j := 0; j < k; j++ {
			nk[j] += resp[i][j]
			floats.AddScaled(means[j], resp[i][j], row)
		}
	}
	for j := 0; j < k; j++ {
		nk[j] += 10 * math.SmallestNonzeroFloat64
		floats.Scale(1/nk[j], means[j])
	}

	// scatter[j] = sum_i resp_ij (x_i - mu_j)(x_i - mu_j)^T
	scatter := make([]*mat.SymDense, k)
	diff := make([]float64, d)
	for j := 0; j < k; j++ {
		s := mat.NewSymDense(d, nil)
		for i, row := range x {
			if resp[i][j] == 0 {
				continue
			}
			floats.SubTo(diff, row, means[j])
			s.SymRankOne(s, resp[i][j], mat.NewVecDense(d, diff))
		}
		scatter[j] = s
	}

	covs := make([]*mat.SymDense, k)
	switch cov {
	case Full:
		for j := range covs {
			c := mat.NewSymDense(d, nil)
			c.ScaleSym(1/nk[j], scatter[j])
			covs[j] = addRidge(c)
		}
	case Tied:
		c := mat.NewSymDense(d, nil)
		for j := range scatter {
			c.AddSym(c, scatter[j])
		}
		c.ScaleSym(1/float64(n), c)
		c = addRidge(c)
		for j := range covs {
			covs[j] = c
		}
	case Diagonal, Spherical:
		for j := range covs {
			vars := make([]float64, d)
			for t := 0; t < d; t++ {
				vars[t] = scatter[j].At(t, t)/nk[j] + regCovar
			}
			if cov == Spherical {
				v := floats.Sum(vars) / float64(d)
				for t := range vars {
					vars[t] = v
				}
			}
			c := mat.NewSymDense(d, nil)
			for t, v := range vars {
				c.SetSym(t, t, v)
			}
			covs[j] = c
		}
	}

	m := &mixture{logWeights: make([]float64, k), comps: make([]*distmv.Normal, k)}
	for j := 0; j < k; j++ {
		m.logWeights[j] = math.Log(nk[j] / float64(n))
		normal, ok := distmv.NewNormal(means[j], covs[j], nil)
		if !ok {
			return nil, fmt.Errorf("component %d covariance is not positive definite", j)
		}
		m.comps[j] = normal
	}
	return m, nil
}

func addRidge(c *mat.SymDense) *mat.SymDense {
	d := c.SymmetricDim()
	for t := 0; t < d; t++ {
		c.SetSym(t, t, c.At(t, t)+regCovar)
	}
	return c
}
