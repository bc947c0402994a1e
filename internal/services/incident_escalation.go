package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/opsdesk/patternd/internal/config"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/metrics"
	"github.com/opsdesk/patternd/internal/notifier"
)

// IncidentStore persists incident tickets
type IncidentStore interface {
	EscalateCluster(ctx context.Context, clusterID uint, build func(*database.Cluster) *database.IncidentTicket) (*database.IncidentTicket, bool, error)
	GetIncidentTicket(ctx context.Context, id uint) (*database.IncidentTicket, error)
	ListIncidentTickets(ctx context.Context, department string) ([]database.IncidentTicket, error)
	UpdateIncidentTicket(ctx context.Context, id uint, updates map[string]interface{}) (*database.IncidentTicket, error)
}

// IncidentEscalator turns clusters into incident tickets
type IncidentEscalator struct {
	store    IncidentStore
	policy   *config.PolicySource
	notifier notifier.Notifier
}

// NewIncidentEscalator creates an escalator. A nil notifier disables delivery.
func NewIncidentEscalator(store IncidentStore, policy *config.PolicySource, n notifier.Notifier) *IncidentEscalator {
	if n == nil {
		n = notifier.Noop{}
	}
	return &IncidentEscalator{store: store, policy: policy, notifier: n}
}

// IncidentTitle builds the incident title from the first two cluster keywords
func IncidentTitle(keywords []string) string {
	if len(keywords) > 2 {
		keywords = keywords[:2]
	}
	subject := strings.Join(keywords, " and ")
	if subject == "" {
		subject = "similar"
	}
	return fmt.Sprintf("Incident: Multiple reports of %s issues", subject)
}

// IncidentDescription summarizes the cluster for the incident body
func IncidentDescription(memberCount int, keywords []string) string {
	return fmt.Sprintf("This incident encompasses %d related tickets reporting similar issues. Keywords: %s",
		memberCount, strings.Join(keywords, ", "))
}

// Escalate creates the incident ticket for a cluster. Escalation is
// idempotent: if the cluster already has an incident, that incident is
// returned and created is false.
func (e *IncidentEscalator) Escalate(ctx context.Context, clusterID uint, requestedBy string) (*database.IncidentTicket, bool, error) {
	pol := e.policy.Current()
	var snapshot database.Cluster

	incident, created, err := e.store.EscalateCluster(ctx, clusterID, func(c *database.Cluster) *database.IncidentTicket {
		snapshot = *c
		count := c.MemberCount()
		priority := database.IncidentPriorityHigh
		if count >= pol.Incident.UrgentAt {
			priority = database.IncidentPriorityUrgent
		}
		return &database.IncidentTicket{
			Title:         IncidentTitle(c.Keywords),
			Description:   IncidentDescription(count, c.Keywords),
			Status:        database.IncidentStatusOpen,
			Priority:      priority,
			Department:    c.Department,
			CreatedBy:     requestedBy,
			ImpactedUsers: count,
		}
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, false, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	if err != nil {
		return nil, false, err
	}

	if !created {
		log.Printf("IncidentEscalator: Cluster %d already escalated to incident %s", clusterID, incident.UUID)
		return incident, false, nil
	}

	metrics.IncidentsEscalatedTotal.WithLabelValues(incident.Department).Inc()
	log.Printf("IncidentEscalator: Created %s incident %s for cluster %d (%d tickets) requested by %s",
		incident.Priority, incident.UUID, clusterID, incident.ImpactedUsers, requestedBy)

	if err := e.notifier.NotifyIncident(ctx, incident, &snapshot); err != nil {
		log.Printf("IncidentEscalator: Failed to notify incident %s: %v", incident.UUID, err)
	}
	return incident, true, nil
}

// ListIncidents returns incident tickets, optionally for one department
func (e *IncidentEscalator) ListIncidents(ctx context.Context, department string) ([]database.IncidentTicket, error) {
	return e.store.ListIncidentTickets(ctx, department)
}

// GetIncident retrieves an incident ticket
func (e *IncidentEscalator) GetIncident(ctx context.Context, id uint) (*database.IncidentTicket, error) {
	incident, err := e.store.GetIncidentTicket(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrIncidentNotFound, id)
	}
	return incident, err
}

// IncidentUpdate holds the workflow fields an operator may change. Nil
// fields are left untouched.
type IncidentUpdate struct {
	Status              *database.IncidentStatus
	AssignedTo          *string
	EstimatedResolution *time.Time
	PublicStatement     *string
}

// UpdateIncident applies an operator update to an incident ticket
func (e *IncidentEscalator) UpdateIncident(ctx context.Context, id uint, upd IncidentUpdate) (*database.IncidentTicket, error) {
	if _, err := e.GetIncident(ctx, id); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if upd.Status != nil {
		if !database.ValidIncidentStatus(*upd.Status) {
			return nil, ErrInvalidIncidentStatus
		}
		updates["status"] = *upd.Status
	}
	if upd.AssignedTo != nil {
		updates["assigned_to"] = *upd.AssignedTo
	}
	if upd.EstimatedResolution != nil {
		updates["estimated_resolution"] = *upd.EstimatedResolution
	}
	if upd.PublicStatement != nil {
		updates["public_statement"] = *upd.PublicStatement
	}

	return e.store.UpdateIncidentTicket(ctx, id, updates)
}
