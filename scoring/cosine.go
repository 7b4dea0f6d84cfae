package scoring

import "gonum.org/v1/gonum/floats"

// Cosine scores by cosine similarity. It needs no trained model.
type Cosine struct{}

func (Cosine) Score(vectors, centroids [][]float64, cal Calibration) (Matrix, error) {
	if _, err := dims(vectors, centroids); err != nil {
		return nil, err
	}
	cn := make([]float64, len(centroids))
	for j, c := range centroids {
		cn[j] = floats.Norm(c, 2)
	}
	out := make(Matrix, len(vectors))
	for i, v := range vectors {
		vn := floats.Norm(v, 2)
		row := make([]float64, len(centroids))
		for j, c := range centroids {
			var sim float64
			if vn > 0 && cn[j] > 0 {
				sim = floats.Dot(v, c) / (vn * cn[j])
			}
			row[j] = cal.Apply(sim)
		}
		out[i] = row
	}
	return out, nil
}
