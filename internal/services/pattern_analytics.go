package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/metrics"
)

const (
	recentAlertWindow     = 24 * time.Hour
	topRecurringIssuesMax = 10
)

// AnalyticsStore is the read and review side of the pattern store
type AnalyticsStore interface {
	ListActiveClusters(ctx context.Context, department string) ([]database.Cluster, error)
	RecentPatternAlerts(ctx context.Context, department string, since time.Time) ([]database.PatternAlert, error)
	PendingSpamDetections(ctx context.Context, department string) ([]database.SpamDetection, error)
	AcknowledgePatternAlert(ctx context.Context, id uint, user string, at time.Time) (*database.PatternAlert, error)
	ReviewSpamDetection(ctx context.Context, id uint, status database.SpamStatus, reviewer string, at time.Time) (*database.SpamDetection, error)
	DeactivateCluster(ctx context.Context, id uint) error
	GetCluster(ctx context.Context, id uint) (*database.Cluster, error)
	GetPatternAlert(ctx context.Context, id uint) (*database.PatternAlert, error)
	GetSpamDetection(ctx context.Context, id uint) (*database.SpamDetection, error)
}

// RecurringIssue summarizes one active cluster for dashboards
type RecurringIssue struct {
	ClusterID   uint      `json:"cluster_id"`
	Keywords    []string  `json:"keywords"`
	TicketCount int       `json:"ticket_count"`
	Department  string    `json:"department"`
	LastSeen    time.Time `json:"last_seen"`
}

// PatternAnalytics is the dashboard view of the detector state
type PatternAnalytics struct {
	ActiveClusters     []database.Cluster       `json:"active_clusters"`
	RecentAlerts       []database.PatternAlert  `json:"recent_alerts"`
	TopRecurringIssues []RecurringIssue         `json:"top_recurring_issues"`
	SpamDetections     []database.SpamDetection `json:"spam_detections"`
}

// PatternService serves analytics and the administrative actions on alerts,
// spam detections and clusters
type PatternService struct {
	store AnalyticsStore
	now   func() time.Time
}

// NewPatternService creates a pattern service
func NewPatternService(store AnalyticsStore) *PatternService {
	return &PatternService{store: store, now: time.Now}
}

// Analytics gathers active clusters, alerts from the last 24 hours, the top
// recurring issues and pending spam detections. An empty department covers
// all departments.
func (s *PatternService) Analytics(ctx context.Context, department string) (*PatternAnalytics, error) {
	var out PatternAnalytics
	since := s.now().Add(-recentAlertWindow)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clusters, err := s.store.ListActiveClusters(gctx, department)
		if err != nil {
			return fmt.Errorf("failed to list clusters: %w", err)
		}
		out.ActiveClusters = clusters
		return nil
	})
	g.Go(func() error {
		alerts, err := s.store.RecentPatternAlerts(gctx, department, since)
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}
		out.RecentAlerts = alerts
		return nil
	})
	g.Go(func() error {
		spam, err := s.store.PendingSpamDetections(gctx, department)
		if err != nil {
			return fmt.Errorf("failed to list spam detections: %w", err)
		}
		out.SpamDetections = spam
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.TopRecurringIssues = TopRecurringIssues(out.ActiveClusters, topRecurringIssuesMax)
	return &out, nil
}

// TopRecurringIssues ranks clusters by member count, keeping the input order
// for equal counts, and returns at most limit entries.
func TopRecurringIssues(clusters []database.Cluster, limit int) []RecurringIssue {
	issues := make([]RecurringIssue, 0, len(clusters))
	for _, c := range clusters {
		issues = append(issues, RecurringIssue{
			ClusterID:   c.ID,
			Keywords:    c.Keywords,
			TicketCount: c.MemberCount(),
			Department:  c.Department,
			LastSeen:    c.LastSeen,
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].TicketCount > issues[j].TicketCount
	})

	if len(issues) > limit {
		issues = issues[:limit]
	}
	return issues
}

// ListClusters returns active clusters, most recently seen first
func (s *PatternService) ListClusters(ctx context.Context, department string) ([]database.Cluster, error) {
	return s.store.ListActiveClusters(ctx, department)
}

// GetCluster retrieves a cluster
func (s *PatternService) GetCluster(ctx context.Context, id uint) (*database.Cluster, error) {
	c, err := s.store.GetCluster(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, id)
	}
	return c, err
}

// GetAlert retrieves a pattern alert
func (s *PatternService) GetAlert(ctx context.Context, id uint) (*database.PatternAlert, error) {
	alert, err := s.store.GetPatternAlert(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrAlertNotFound, id)
	}
	return alert, err
}

// GetSpamDetection retrieves a spam detection
func (s *PatternService) GetSpamDetection(ctx context.Context, id uint) (*database.SpamDetection, error) {
	detection, err := s.store.GetSpamDetection(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrSpamNotFound, id)
	}
	return detection, err
}

// RecentAlerts returns alerts raised in the last 24 hours
func (s *PatternService) RecentAlerts(ctx context.Context, department string) ([]database.PatternAlert, error) {
	return s.store.RecentPatternAlerts(ctx, department, s.now().Add(-recentAlertWindow))
}

// PendingSpam returns spam detections awaiting review
func (s *PatternService) PendingSpam(ctx context.Context, department string) ([]database.SpamDetection, error) {
	return s.store.PendingSpamDetections(ctx, department)
}

// AcknowledgeAlert marks an alert as handled by user
func (s *PatternService) AcknowledgeAlert(ctx context.Context, id uint, user string) (*database.PatternAlert, error) {
	alert, err := s.store.AcknowledgePatternAlert(ctx, id, user, s.now())
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("%w: %d", ErrAlertNotFound, id)
	case errors.Is(err, database.ErrStateConflict):
		return alert, fmt.Errorf("%w: %d", ErrAlertAlreadyAcknowledged, id)
	case err != nil:
		return nil, err
	}
	log.Printf("PatternService: Alert %d acknowledged by %s", id, user)
	return alert, nil
}

// ReviewSpam confirms or dismisses a pending spam detection
func (s *PatternService) ReviewSpam(ctx context.Context, id uint, status database.SpamStatus, reviewer string) (*database.SpamDetection, error) {
	if status != database.SpamStatusConfirmed && status != database.SpamStatusDismissed {
		return nil, ErrInvalidReviewStatus
	}

	detection, err := s.store.ReviewSpamDetection(ctx, id, status, reviewer, s.now())
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("%w: %d", ErrSpamNotFound, id)
	case errors.Is(err, database.ErrStateConflict):
		return detection, fmt.Errorf("%w: %d", ErrSpamAlreadyReviewed, id)
	case err != nil:
		return nil, err
	}
	log.Printf("PatternService: Spam detection %d marked %s by %s", id, status, reviewer)
	return detection, nil
}

// DeactivateCluster stops a cluster from receiving new tickets
func (s *PatternService) DeactivateCluster(ctx context.Context, id uint) error {
	err := s.store.DeactivateCluster(ctx, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %d", ErrClusterNotFound, id)
	case errors.Is(err, database.ErrStateConflict):
		return fmt.Errorf("%w: %d", ErrClusterAlreadyInactive, id)
	case err != nil:
		return err
	}
	metrics.ClustersDeactivatedTotal.Inc()
	log.Printf("PatternService: Cluster %d deactivated", id)
	return nil
}
