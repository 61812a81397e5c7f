package logging

// ProgressSampler suppresses repetitive progress emissions while preserving
// signal at bucket boundaries. Fractions are in [0, 1]; 0 and 1 always emit.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the fraction crosses
// bucket boundaries (default 0.05).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 0.05
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldEmit reports whether a progress update at the given fraction should be
// published. The first call always emits, as does any call at or beyond 1.0.
func (s *ProgressSampler) ShouldEmit(fraction float64) bool {
	if s == nil {
		return true
	}
	if fraction < 0 {
		fraction = 0
	}
	bucket := int(fraction / s.bucketSize)
	if fraction >= 1 {
		bucket = int(1 / s.bucketSize)
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state for a new attempt.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastBucket = -1
}
