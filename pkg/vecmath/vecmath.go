// Package vecmath provides the float32 vector arithmetic shared by the index,
// the builder and the search service.
package vecmath

import (
	"math"
	"slices"
)

// MinNorm is the smallest Euclidean norm a vector may have and still be
// normalized. Anything at or below it is treated as zero.
const MinNorm = 1e-12

// SquaredL2 returns sum((a[i]-b[i])^2). Vectors must have equal length
// (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Dot returns the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the Euclidean norm of v, accumulated in float64.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Finite reports whether every element of v is neither NaN nor Inf.
func Finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// NormalizeInPlace scales v to unit norm.
// Returns false, leaving v untouched, if the norm is zero or not finite.
func NormalizeInPlace(v []float32) bool {
	n := Norm(v)
	if n <= MinNorm || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	inv := 1 / n
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return true
}

// Normalized returns a unit-norm copy of src, or false if src cannot be
// normalized.
func Normalized(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeInPlace(dst) {
		return nil, false
	}
	return dst, true
}
