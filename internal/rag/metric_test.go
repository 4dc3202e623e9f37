package rag

import (
	"errors"
	"math"
	"testing"
)

func TestParseMetric(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Metric
		wantErr bool
	}{
		{"", MetricEuclidean, false},
		{"euclidean", MetricEuclidean, false},
		{"L2", MetricEuclidean, false},
		{"cosine", MetricCosine, false},
		{" dot ", MetricDot, false},
		{"manhattan", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMetric(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseMetric(%q) err = %v, want ErrInvalidInput", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMetric(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestMetric_Distance(t *testing.T) {
	t.Parallel()
	a := []float32{1, 0}
	b := []float32{0, 1}

	if got := MetricEuclidean.Distance(a, b); math.Abs(float64(got)-math.Sqrt2) > 1e-6 {
		t.Errorf("euclidean = %v, want sqrt(2)", got)
	}
	if got := MetricCosine.Distance(a, b); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("cosine orthogonal = %v, want 1", got)
	}
	if got := MetricCosine.Distance(a, a); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("cosine identical = %v, want 0", got)
	}
	if got := MetricDot.Distance([]float32{2, 3}, []float32{4, 5}); got != -23 {
		t.Errorf("dot = %v, want -23", got)
	}
	if got := MetricCosine.Distance([]float32{0, 0}, a); got != 1 {
		t.Errorf("cosine zero vector = %v, want 1", got)
	}
}

func TestScoreToDistance(t *testing.T) {
	t.Parallel()
	if got := scoreToDistance(MetricCosine, 0.75); got != 0.25 {
		t.Errorf("cosine = %v, want 0.25", got)
	}
	if got := scoreToDistance(MetricEuclidean, 1.5); got != 1.5 {
		t.Errorf("euclidean = %v, want 1.5", got)
	}
	if got := scoreToDistance(MetricDot, 3); got != -3 {
		t.Errorf("dot = %v, want -3", got)
	}
}

func TestReason(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrNotFound, "not_found"},
		{errors.Join(ErrEmbeddingBatch, ErrUpstream), "embedding_batch_failed"},
		{ErrUpstream, "upstream_failed"},
		{ErrRetrievalDegraded, "retrieval_degraded"},
		{errors.New("x"), "internal"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
