package vecmath_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velodb/vela/internal/vecmath"
)

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	vecmath.Normalize(v)

	n := vecmath.Norm(v)
	assert.InDelta(t, 1.0, n, 1e-6)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	vecmath.Normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNormalized_DoesNotMutateInput(t *testing.T) {
	v := []float32{1, 0}
	out := vecmath.Normalized(v)
	require.NotSame(t, &v[0], &out[0])
	assert.Equal(t, []float32{1, 0}, v)
}

func TestDotAt(t *testing.T) {
	buf := []float32{1, 0, 0, 0, 1, 0}
	got := vecmath.DotAt(buf, 1, 3, []float32{0, 2, 0})
	assert.InDelta(t, 2.0, got, 1e-6)
}

func TestNegL2At(t *testing.T) {
	buf := []float32{1, 0, 0}
	got := vecmath.NegL2At(buf, 0, 3, []float32{0, 0, 0})
	assert.InDelta(t, -1.0, got, 1e-6)
}

func TestScoreAt_DotAndCosineShareKernel(t *testing.T) {
	buf := []float32{1, 2, 3}
	query := []float32{4, 5, 6}
	want := float32(1*4 + 2*5 + 3*6)

	assert.InDelta(t, float64(want), float64(vecmath.ScoreAt(vecmath.MetricDot, buf, 0, 3, query)), 1e-6)
	assert.InDelta(t, float64(want), float64(vecmath.ScoreAt(vecmath.MetricCosine, buf, 0, 3, query)), 1e-6)
}

func TestScoreAt_L2IsNegatedSquaredDistance(t *testing.T) {
	buf := []float32{0, 0, 0}
	query := []float32{1, 1, 1}
	got := vecmath.ScoreAt(vecmath.MetricL2, buf, 0, 3, query)
	assert.InDelta(t, -3.0, got, 1e-6)
}

func TestNormAgainstMathSqrt(t *testing.T) {
	v := []float32{1, 2, 2}
	assert.InDelta(t, math.Sqrt(9), float64(vecmath.Norm(v)), 1e-6)
}
