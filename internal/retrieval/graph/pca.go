package graph

import "math"

// ProjectPCA centers the input vectors and projects them onto their
// first three principal components via the power iteration method
// (no external linear-algebra dependency; see DESIGN.md). If fewer than
// 2 vectors are given, or all vectors are identical (zero variance), it
// falls back to the vector's first three raw coordinates, zero-padded.
func ProjectPCA(vectors [][]float64) [][3]float64 {
	n := len(vectors)
	out := make([][3]float64, n)
	if n < 2 {
		for i, v := range vectors {
			out[i] = firstThree(v)
		}
		return out
	}

	dim := len(vectors[0])
	mean := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float64(n)
	}

	centered := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, dim)
		for j, x := range v {
			row[j] = x - mean[j]
		}
		centered[i] = row
	}

	components := make([][]float64, 0, 3)
	deflated := centered
	for c := 0; c < 3 && c < dim; c++ {
		pc, ok := powerIterationComponent(deflated, dim)
		if !ok {
			break
		}
		components = append(components, pc)
		deflated = deflate(deflated, pc)
	}

	for i, row := range centered {
		var coord [3]float64
		for c, pc := range components {
			coord[c] = dotProduct(row, pc)
		}
		out[i] = coord
	}
	if len(components) < 3 {
		for i, v := range vectors {
			fallback := firstThree(v)
			for c := len(components); c < 3; c++ {
				out[i][c] = fallback[c]
			}
		}
	}
	return out
}

func firstThree(v []float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3 && i < len(v); i++ {
		out[i] = v[i]
	}
	return out
}

// powerIterationComponent estimates the dominant eigenvector of the
// (implicit) covariance matrix of rows via repeated matrix-vector
// multiplication, without materializing the dim x dim covariance matrix.
func powerIterationComponent(rows [][]float64, dim int) ([]float64, bool) {
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = 1.0 / float64(dim+1)
	}

	const iterations = 50
	for iter := 0; iter < iterations; iter++ {
		next := make([]float64, dim)
		for _, row := range rows {
			proj := dotProduct(row, vec)
			for j, x := range row {
				next[j] += proj * x
			}
		}
		norm := l2norm(next)
		if norm == 0 {
			return nil, false
		}
		for j := range next {
			next[j] /= norm
		}
		vec = next
	}
	return vec, true
}

// deflate removes the projection onto pc from every row, so the next
// power-iteration pass finds the next-largest-variance direction.
func deflate(rows [][]float64, pc []float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		proj := dotProduct(row, pc)
		newRow := make([]float64, len(row))
		for j, x := range row {
			newRow[j] = x - proj*pc[j]
		}
		out[i] = newRow
	}
	return out
}

func dotProduct(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func l2norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
