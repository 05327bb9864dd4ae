package utils

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

var (
	ErrEmptyVector       = errors.New("vectors cannot be empty")
	ErrDimensionMismatch = errors.New("vectors must have the same dimension")
)

// Dot calculates the dot product of two vectors.
func Dot(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "%d != %d", len(vec1), len(vec2))
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, ErrEmptyVector
	}
	product, err := Dot(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)

	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	return product / (mag1 * mag2), nil
}

// Scored pairs a candidate index with its similarity to a query.
type Scored struct {
	Index int
	Score float32
}

// TopK ranks candidates by cosine similarity to query, highest first, and returns at most k.
// Ties keep candidate order. Candidates with a different dimension are an error.
func TopK(query []float32, candidates [][]float32, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	scored := make([]Scored, 0, len(candidates))
	for i, candidate := range candidates {
		similarity, err := CosineSimilarity(query, candidate)
		if err != nil {
			return nil, errors.Wrapf(err, "candidate %d", i)
		}
		scored = append(scored, Scored{Index: i, Score: similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
