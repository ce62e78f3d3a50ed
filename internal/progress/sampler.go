package progress

import "strings"

// Sampler suppresses repetitive progress updates while preserving signal when
// stages or percentage buckets change. Messages are ignored for deduplication
// because they often carry volatile fields such as ETAs.
type Sampler struct {
	bucketSize float64
	lastStage  string
	lastBucket int
}

// NewSampler constructs a sampler that emits when the percent crosses bucket
// boundaries (default 5%) or when the stage changes.
func NewSampler(bucketSize float64) *Sampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &Sampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldEmit reports whether this update is worth surfacing. Percent below
// zero means "unknown" and only stage changes emit.
func (s *Sampler) ShouldEmit(stage string, percent float64) bool {
	if s == nil {
		return true
	}
	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
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

// Reset clears the sampler state for a new run.
func (s *Sampler) Reset() {
	if s == nil {
		return
	}
	s.lastStage = ""
	s.lastBucket = -1
}
