package logging

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when the pass changes or the percentage crosses a bucket boundary.
type ProgressSampler struct {
	bucketSize float64
	lastPass   int
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the pass index changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastPass: -1, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// percent means "unknown" and only pass changes are considered.
func (s *ProgressSampler) ShouldLog(percent float64, pass int) bool {
	if s == nil {
		return true
	}
	emit := false
	if pass >= 0 && pass != s.lastPass {
		s.lastPass = pass
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state (e.g. when a new command starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastPass = -1
	s.lastBucket = -1
}
