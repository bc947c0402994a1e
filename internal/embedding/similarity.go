package embedding

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length, empty vectors and zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// UpdateCentroid folds embedding into a centroid that currently averages
// count vectors and returns the new mean. The input slices are not modified.
func UpdateCentroid(centroid, embedding []float64, count int) []float64 {
	if count <= 0 || len(centroid) != len(embedding) {
		out := make([]float64, len(embedding))
		copy(out, embedding)
		return out
	}

	n := float64(count)
	out := make([]float64, len(centroid))
	for i := range centroid {
		out[i] = (centroid[i]*n + embedding[i]) / (n + 1)
	}
	return out
}
