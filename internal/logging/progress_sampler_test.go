package logging

import "testing"

func TestNewProgressSamplerDefaultsBucket(t *testing.T) {
	for _, size := range []float64{0, -1} {
		if s := NewProgressSampler(size); s.bucketSize != 5 {
			t.Fatalf("bucketSize for %v = %v, want 5", size, s.bucketSize)
		}
	}
	if s := NewProgressSampler(10); s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "transcribing") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(5)
	steps := []struct {
		percent float64
		stage   string
		want    bool
	}{
		{0, "transcribing", true},
		{1, "transcribing", false},
		{4.9, "transcribing", false},
		{5, "transcribing", true},
		{7, "transcribing", false},
		{12, "transcribing", true},
		{11, "transcribing", false},
		{150, "transcribing", true},
		{100, "transcribing", false},
		{0, "translating", true},
		{-1, "translating", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.stage); got != step.want {
			t.Fatalf("step %d (%v, %s): got %v want %v", i, step.percent, step.stage, got, step.want)
		}
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, "transcribing")
	s.Reset()
	if !s.ShouldLog(50, "transcribing") {
		t.Fatal("expected emit after reset")
	}
}
