package embedding

import "math"

// Cosine returns the cosine similarity of two vectors in [-1,1]. Mismatched
// or zero-magnitude inputs score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// SimilarityMatrix computes the full NxN pairwise cosine matrix.
func SimilarityMatrix(vectors [][]float32) [][]float64 {
	n := len(vectors)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		matrix[i][i] = 1.0
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim := Cosine(vectors[i], vectors[j])
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix
}

// Centroid returns the elementwise mean of the vectors. An empty input yields
// a zero vector of the given dimension.
func Centroid(vectors [][]float32, dimension int) []float32 {
	if len(vectors) == 0 {
		return make([]float32, dimension)
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	count := 0
	for _, vec := range vectors {
		if len(vec) != dim {
			continue
		}
		for i, v := range vec {
			sum[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return make([]float32, dimension)
	}

	out := make([]float32, dim)
	for i, v := range sum {
		out[i] = float32(v / float64(count))
	}
	return out
}

// IsZero reports whether every component of the vector is zero.
func IsZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
