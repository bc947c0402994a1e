package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsdesk/patternd/internal/metrics"
)

// IdleClusterStore deactivates clusters that stopped receiving tickets
type IdleClusterStore interface {
	DeactivateIdleClusters(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClusterSweeper deactivates clusters that have not seen a ticket for the idle
// period, so old topics stop absorbing new tickets.
type ClusterSweeper struct {
	store    IdleClusterStore
	idleDays int
	now      func() time.Time
}

// NewClusterSweeper creates a sweeper. idleDays below 1 is treated as 1.
func NewClusterSweeper(store IdleClusterStore, idleDays int) *ClusterSweeper {
	if idleDays < 1 {
		idleDays = 1
	}
	return &ClusterSweeper{store: store, idleDays: idleDays, now: time.Now}
}

// Run executes one sweep and returns the number of clusters deactivated
func (s *ClusterSweeper) Run(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-time.Duration(s.idleDays) * 24 * time.Hour)

	n, err := s.store.DeactivateIdleClusters(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate idle clusters: %w", err)
	}
	if n > 0 {
		metrics.ClustersDeactivatedTotal.Add(float64(n))
		log.Printf("ClusterSweeper: Deactivated %d clusters idle since %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// ParseSchedule parses a standard 5-field cron expression
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid cluster sweep schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Start runs the sweeper on schedule until stop is closed. An empty schedule
// disables it. It returns an error only when the schedule cannot be parsed.
func (s *ClusterSweeper) Start(schedule string, stop <-chan struct{}) error {
	if strings.TrimSpace(schedule) == "" {
		log.Println("ClusterSweeper: Disabled (no schedule)")
		return nil
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	log.Printf("ClusterSweeper: Scheduled (cron: %s, idle after %d days)", schedule, s.idleDays)

	go func() {
		for {
			now := s.now()
			timer := time.NewTimer(sched.Next(now).Sub(now))

			select {
			case <-timer.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := s.Run(ctx); err != nil {
					log.Printf("ClusterSweeper: %v", err)
				}
				cancel()
			case <-stop:
				timer.Stop()
				log.Println("ClusterSweeper: Stopped")
				return
			}
		}
	}()
	return nil
}
