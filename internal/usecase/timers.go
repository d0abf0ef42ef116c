package usecase

import (
	"sync"
	"time"
)

// timerSet tracks the pending timers of one session so a reset can stop all of
// them at once.
type timerSet struct {
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[*time.Timer]struct{})}
}

func (s *timerSet) after(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[timer]
		delete(s.timers, timer)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	s.timers[timer] = struct{}{}
}

func (s *timerSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for timer := range s.timers {
		timer.Stop()
		delete(s.timers, timer)
	}
}

func (s *timerSet) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
