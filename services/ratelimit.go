package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SubjectLimiter keeps one token bucket per subject.
type SubjectLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	subjects map[string]*subjectBucket
}

type subjectBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSubjectLimiter allows perSecond events on average with bursts of burst.
func NewSubjectLimiter(perSecond float64, burst int) *SubjectLimiter {
	return &SubjectLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		subjects: make(map[string]*subjectBucket),
	}
}

// Allow consumes one token for subjectID at now.
func (l *SubjectLimiter) Allow(subjectID string, now time.Time) bool {
	l.mu.Lock()
	b, ok := l.subjects[subjectID]
	if !ok {
		b = &subjectBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.subjects[subjectID] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// Prune drops buckets idle since before cutoff and returns how many were removed.
func (l *SubjectLimiter) Prune(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, b := range l.subjects {
		if b.lastSeen.Before(cutoff) {
			delete(l.subjects, id)
			n++
		}
	}
	return n
}
