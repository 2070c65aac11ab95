package store

import (
	"fmt"
	"math"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// validateMatrix checks that vectors is a non-empty rectangular matrix and
// returns its column count.
func validateMatrix(vectors [][]float32) (int, error) {
	if len(vectors) == 0 {
		return 0, apperrors.ErrInvalidInput("vectors must be a 2-D matrix, got an empty input", nil)
	}
	dims := len(vectors[0])
	if dims == 0 {
		return 0, apperrors.ErrInvalidInput("vectors must be a 2-D matrix, got zero-width rows", nil)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return 0, apperrors.ErrInvalidInput(
				fmt.Sprintf("vectors must be a 2-D matrix, row %d has %d columns, row 0 has %d", i, len(v), dims), nil).
				WithDetail("row", fmt.Sprint(i))
		}
	}
	return dims, nil
}

// normalizeInPlace scales v to unit length. Zero vectors are left alone.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
