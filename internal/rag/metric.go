package rag

import (
	"fmt"
	"math"
	"strings"
)

// Metric is the distance function a store ranks passages by. A store uses
// one metric for its whole lifetime.
type Metric string

const (
	// MetricEuclidean ranks by L2 distance. It is the default.
	MetricEuclidean Metric = "euclidean"

	// MetricCosine ranks by cosine distance (1 - cosine similarity).
	MetricCosine Metric = "cosine"

	// MetricDot ranks by negated inner product.
	MetricDot Metric = "dot"
)

// ParseMetric resolves a metric name. The empty string selects MetricEuclidean.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricEuclidean, "l2":
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	case MetricDot, "inner_product":
		return MetricDot, nil
	default:
		return "", fmt.Errorf("rag: unknown distance metric %q: %w", s, ErrInvalidInput)
	}
}

// Distance returns the distance between a and b under m. Lower is nearer.
// a and b must have the same length.
func (m Metric) Distance(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
	case MetricDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(-dot)
	default:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	}
}
