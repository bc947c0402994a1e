// Package notifier delivers pattern alerts and escalations to people.
package notifier

import (
	"context"
	"errors"
	"log"

	"github.com/opsdesk/patternd/internal/database"
)

// Notifier is told about newly raised alerts and newly created incidents.
// Implementations must be safe for concurrent use.
type Notifier interface {
	NotifyPatternAlert(ctx context.Context, alert *database.PatternAlert, cluster *database.Cluster) error
	NotifyIncident(ctx context.Context, incident *database.IncidentTicket, cluster *database.Cluster) error
}

// Noop discards every notification
type Noop struct{}

func (Noop) NotifyPatternAlert(context.Context, *database.PatternAlert, *database.Cluster) error {
	return nil
}

func (Noop) NotifyIncident(context.Context, *database.IncidentTicket, *database.Cluster) error {
	return nil
}

// Multi fans a notification out to every notifier and joins their errors
type Multi []Notifier

// NotifyPatternAlert notifies every notifier
func (m Multi) NotifyPatternAlert(ctx context.Context, alert *database.PatternAlert, cluster *database.Cluster) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyPatternAlert(ctx, alert, cluster); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyIncident notifies every notifier
func (m Multi) NotifyIncident(ctx context.Context, incident *database.IncidentTicket, cluster *database.Cluster) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyIncident(ctx, incident, cluster); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort logs notification failures instead of returning them
type BestEffort struct {
	Next Notifier
}

// NotifyPatternAlert forwards to Next and logs any error
func (b BestEffort) NotifyPatternAlert(ctx context.Context, alert *database.PatternAlert, cluster *database.Cluster) error {
	if err := b.Next.NotifyPatternAlert(ctx, alert, cluster); err != nil {
		log.Printf("Notifier: Failed to deliver alert %d for cluster %d: %v", alert.ID, alert.ClusterID, err)
	}
	return nil
}

// NotifyIncident forwards to Next and logs any error
func (b BestEffort) NotifyIncident(ctx context.Context, incident *database.IncidentTicket, cluster *database.Cluster) error {
	if err := b.Next.NotifyIncident(ctx, incident, cluster); err != nil {
		log.Printf("Notifier: Failed to deliver incident %s for cluster %d: %v", incident.UUID, incident.ClusterID, err)
	}
	return nil
}
