package hunter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pinnerd/pinnerd/internal/store"
)

// Scheduler runs one verification cycle at a time, never overlapping
// (spec §4.8.3).
type Scheduler struct {
	hunter              *Hunter
	cycleInterval       time.Duration
	maxConcurrentChecks int
	failureThreshold    int
	cooldownAfterFlag   time.Duration

	mu      sync.Mutex
	running bool
}

// NewScheduler constructs a Scheduler bound to hunter.
func NewScheduler(h *Hunter, cycleInterval time.Duration, maxConcurrentChecks, failureThreshold int, cooldownAfterFlag time.Duration) *Scheduler {
	return &Scheduler{
		hunter:              h,
		cycleInterval:       cycleInterval,
		maxConcurrentChecks: maxConcurrentChecks,
		failureThreshold:    failureThreshold,
		cooldownAfterFlag:   cooldownAfterFlag,
	}
}

// Run loops until ctx is cancelled, running one cycle every
// cycle_interval. Exits at the next natural check boundary on
// cancellation (spec §5).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	started := time.Now()
	summary := store.VerificationCycle{StartedAt: started}

	pins, err := s.hunter.store.GetTrackedPins(store.TrackedPinTracking, store.TrackedPinVerified, store.TrackedPinSuspect)
	if err != nil {
		log.Error().Err(err).Msg("failed to load tracked pins for verification cycle")
		return
	}

	eligible := make([]store.TrackedPin, 0, len(pins))
	for _, p := range pins {
		if p.FlaggedAt != nil && time.Since(*p.FlaggedAt) < s.cooldownAfterFlag {
			summary.Skipped++
			continue
		}
		eligible = append(eligible, p)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].ConsecutiveFailures != eligible[j].ConsecutiveFailures {
			return eligible[i].ConsecutiveFailures > eligible[j].ConsecutiveFailures
		}
		li, lj := eligible[i].LastCheckedAt, eligible[j].LastCheckedAt
		if li == nil {
			return true
		}
		if lj == nil {
			return false
		}
		return li.Before(*lj)
	})

	summary.TotalChecked = len(eligible)

	sem := make(chan struct{}, s.maxConcurrentChecks)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, pin := range eligible {
		pin := pin
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			passed, flagged, errored := s.hunter.checkOne(ctx, pin, s.failureThreshold)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errored:
				summary.Errors++
			case flagged:
				summary.Flagged++
			case passed:
				summary.Passed++
			default:
				summary.Failed++
			}
		}()
	}
	wg.Wait()

	summary.CompletedAt = time.Now()
	summary.DurationMs = summary.CompletedAt.Sub(started).Milliseconds()
	if err := s.hunter.store.AppendCycle(summary); err != nil {
		log.Error().Err(err).Msg("failed to append verification cycle summary")
	}

	msg := fmt.Sprintf("checked %d, passed %d, failed %d, flagged %d, skipped %d, errors %d",
		summary.TotalChecked, summary.Passed, summary.Failed, summary.Flagged, summary.Skipped, summary.Errors)
	if err := s.hunter.store.LogActivity("hunter_cycle", nil, "", nil, msg); err != nil {
		log.Error().Err(err).Msg("failed to log activity")
	}
}
