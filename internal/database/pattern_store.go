package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PatternStore persists tickets, clusters, alerts, spam detections and
// incident tickets. Every state change that must happen at most once is a
// conditional update, so concurrent callers cannot both succeed.
type PatternStore struct {
	db *gorm.DB
}

// NewPatternStore creates a store on db
func NewPatternStore(db *gorm.DB) *PatternStore {
	return &PatternStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ========== Tickets ==========

// CreateTicket stores a submitted ticket
func (s *PatternStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetTicket retrieves a ticket by ID
func (s *PatternStore) GetTicket(ctx context.Context, id uint) (*Ticket, error) {
	var ticket Ticket
	if err := s.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &ticket, nil
}

// SaveTicketEmbedding caches the embedding computed for a ticket
func (s *PatternStore) SaveTicketEmbedding(ctx context.Context, id uint, embedding []float64) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Ticket{}).Where("id = ?", id).Updates(map[string]interface{}{
		"embedding":   Vector(embedding),
		"analyzed_at": now,
	}).Error
}

// RecentTicketsByUser returns the tickets the user submitted after since and
// no later than upTo, newest first. upTo itself is included; a ticket created
// at the same instant counts as earlier when its id is not greater.
func (s *PatternStore) RecentTicketsByUser(ctx context.Context, userID string, since time.Time, upTo *Ticket) ([]Ticket, error) {
	var tickets []Ticket
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at > ?", userID, since).
		Where("created_at < ? OR (created_at = ? AND id <= ?)", upTo.CreatedAt, upTo.CreatedAt, upTo.ID).
		Order("created_at DESC").Order("id DESC").
		Find(&tickets).Error
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// ========== Clusters ==========

// ActiveClusters returns the active clusters of a department in creation order
func (s *PatternStore) ActiveClusters(ctx context.Context, department string) ([]Cluster, error) {
	var clusters []Cluster
	err := s.db.WithContext(ctx).
		Where("department = ? AND is_active = ?", department, true).
		Order("id ASC").
		Find(&clusters).Error
	if err != nil {
		return nil, err
	}
	return clusters, nil
}

// ListActiveClusters returns active clusters, most recently seen first.
// An empty department lists every department.
func (s *PatternStore) ListActiveClusters(ctx context.Context, department string) ([]Cluster, error) {
	q := s.db.WithContext(ctx).Where("is_active = ?", true)
	if department != "" {
		q = q.Where("department = ?", department)
	}

	var clusters []Cluster
	if err := q.Order("last_seen DESC").Order("id DESC").Find(&clusters).Error; err != nil {
		return nil, err
	}
	return clusters, nil
}

// GetCluster retrieves a cluster by ID
func (s *PatternStore) GetCluster(ctx context.Context, id uint) (*Cluster, error) {
	var cluster Cluster
	if err := s.db.WithContext(ctx).First(&cluster, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &cluster, nil
}

// CreateCluster stores a new cluster
func (s *PatternStore) CreateCluster(ctx context.Context, cluster *Cluster) error {
	cluster.IsActive = true
	if err := s.db.WithContext(ctx).Create(cluster).Error; err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	return nil
}

// UpdateClusterMembership writes the members, centroid and last-seen time of
// cluster if nobody else changed it since it was read. It returns
// ErrVersionConflict otherwise. On success cluster.Version is advanced.
func (s *PatternStore) UpdateClusterMembership(ctx context.Context, cluster *Cluster) error {
	result := s.db.WithContext(ctx).Model(&Cluster{}).
		Where("id = ? AND version = ?", cluster.ID, cluster.Version).
		Updates(map[string]interface{}{
			"member_ticket_ids":  cluster.MemberTicketIDs,
			"centroid_embedding": cluster.CentroidEmbedding,
			"last_seen":          cluster.LastSeen,
			"version":            gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update cluster %d: %w", cluster.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	cluster.Version++
	return nil
}

// DeactivateCluster marks a cluster inactive. It returns ErrNotFound for an
// unknown cluster and ErrStateConflict if it was already inactive.
func (s *PatternStore) DeactivateCluster(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&Cluster{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetCluster(ctx, id); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

// DeactivateIdleClusters deactivates active clusters last seen before cutoff
func (s *PatternStore) DeactivateIdleClusters(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Cluster{}).
		Where("is_active = ? AND last_seen < ?", true, cutoff).
		Update("is_active", false)
	return result.RowsAffected, result.Error
}

// ========== Pattern Alerts ==========

// RecordThresholdAlert flips the cluster's alert flag and stores alert in one
// transaction. It returns false without writing when the flag was already set.
func (s *PatternStore) RecordThresholdAlert(ctx context.Context, alert *PatternAlert) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Cluster{}).
			Where("id = ? AND alert_sent = ?", alert.ClusterID, false).
			Update("alert_sent", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record alert for cluster %d: %w", alert.ClusterID, err)
	}
	return created, nil
}

// RecentPatternAlerts returns alerts created after since, newest first.
// An empty department lists every department.
func (s *PatternStore) RecentPatternAlerts(ctx context.Context, department string, since time.Time) ([]PatternAlert, error) {
	q := s.db.WithContext(ctx).Where("created_at > ?", since)
	if department != "" {
		q = q.Where("department = ?", department)
	}

	var alerts []PatternAlert
	if err := q.Order("created_at DESC").Order("id DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// GetPatternAlert retrieves an alert by ID
func (s *PatternStore) GetPatternAlert(ctx context.Context, id uint) (*PatternAlert, error) {
	var alert PatternAlert
	if err := s.db.WithContext(ctx).First(&alert, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &alert, nil
}

// AcknowledgePatternAlert marks an alert acknowledged by user. It returns
// ErrStateConflict if the alert was already acknowledged.
func (s *PatternStore) AcknowledgePatternAlert(ctx context.Context, id uint, user string, at time.Time) (*PatternAlert, error) {
	result := s.db.WithContext(ctx).Model(&PatternAlert{}).
		Where("id = ? AND acknowledged = ?", id, false).
		Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_by": user,
			"acknowledged_at": at,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	alert, err := s.GetPatternAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return alert, ErrStateConflict
	}
	return alert, nil
}

// ========== Spam Detections ==========

// CreateSpamDetection stores a spam detection
func (s *PatternStore) CreateSpamDetection(ctx context.Context, detection *SpamDetection) error {
	if detection.Status == "" {
		detection.Status = SpamStatusPending
	}
	if err := s.db.WithContext(ctx).Create(detection).Error; err != nil {
		return fmt.Errorf("failed to create spam detection: %w", err)
	}
	return nil
}

// PendingSpamDetections returns detections awaiting review, newest first.
// An empty department lists every department.
func (s *PatternStore) PendingSpamDetections(ctx context.Context, department string) ([]SpamDetection, error) {
	q := s.db.WithContext(ctx).Where("status = ?", SpamStatusPending)
	if department != "" {
		q = q.Where("department = ?", department)
	}

	var detections []SpamDetection
	if err := q.Order("created_at DESC").Order("id DESC").Find(&detections).Error; err != nil {
		return nil, err
	}
	return detections, nil
}

// GetSpamDetection retrieves a spam detection by ID
func (s *PatternStore) GetSpamDetection(ctx context.Context, id uint) (*SpamDetection, error) {
	var detection SpamDetection
	if err := s.db.WithContext(ctx).First(&detection, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &detection, nil
}

// ReviewSpamDetection moves a pending detection to status. It returns
// ErrStateConflict if the detection was already reviewed.
func (s *PatternStore) ReviewSpamDetection(ctx context.Context, id uint, status SpamStatus, reviewer string, at time.Time) (*SpamDetection, error) {
	result := s.db.WithContext(ctx).Model(&SpamDetection{}).
		Where("id = ? AND status = ?", id, SpamStatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"reviewed_by": reviewer,
			"reviewed_at": at,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	detection, err := s.GetSpamDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return detection, ErrStateConflict
	}
	return detection, nil
}

// ========== Incident Tickets ==========

// EscalateCluster creates the incident ticket for a cluster and links it.
// build is called with the current cluster state inside the transaction.
// When the cluster already has an incident, that incident is returned with
// created set to false.
func (s *PatternStore) EscalateCluster(ctx context.Context, clusterID uint, build func(*Cluster) *IncidentTicket) (*IncidentTicket, bool, error) {
	var incident *IncidentTicket
	created := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cluster Cluster
		if err := tx.First(&cluster, clusterID).Error; err != nil {
			return notFound(err)
		}

		if cluster.IncidentTicketID != nil {
			var existing IncidentTicket
			if err := tx.First(&existing, *cluster.IncidentTicketID).Error; err != nil {
				return fmt.Errorf("cluster %d links missing incident %d: %w", clusterID, *cluster.IncidentTicketID, notFound(err))
			}
			incident = &existing
			return nil
		}

		incident = build(&cluster)
		incident.ClusterID = cluster.ID
		if err := tx.Create(incident).Error; err != nil {
			return err
		}

		result := tx.Model(&Cluster{}).
			Where("id = ? AND incident_ticket_id IS NULL", cluster.ID).
			Update("incident_ticket_id", incident.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStateConflict
		}
		created = true
		return nil
	})

	if errors.Is(err, ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		// A concurrent escalation won the unique cluster_id index or the
		// conditional link; hand back its incident.
		if existing, lookupErr := s.GetIncidentTicketByCluster(ctx, clusterID); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to escalate cluster %d: %w", clusterID, err)
	}
	return incident, created, nil
}

// GetIncidentTicket retrieves an incident ticket by ID
func (s *PatternStore) GetIncidentTicket(ctx context.Context, id uint) (*IncidentTicket, error) {
	var incident IncidentTicket
	if err := s.db.WithContext(ctx).First(&incident, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &incident, nil
}

// GetIncidentTicketByCluster retrieves the incident ticket of a cluster
func (s *PatternStore) GetIncidentTicketByCluster(ctx context.Context, clusterID uint) (*IncidentTicket, error) {
	var incident IncidentTicket
	if err := s.db.WithContext(ctx).Where("cluster_id = ?", clusterID).First(&incident).Error; err != nil {
		return nil, notFound(err)
	}
	return &incident, nil
}

// ListIncidentTickets returns incident tickets, newest first.
// An empty department lists every department.
func (s *PatternStore) ListIncidentTickets(ctx context.Context, department string) ([]IncidentTicket, error) {
	q := s.db.WithContext(ctx)
	if department != "" {
		q = q.Where("department = ?", department)
	}

	var incidents []IncidentTicket
	if err := q.Order("created_at DESC").Order("id DESC").Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

// UpdateIncidentTicket applies updates to an incident ticket
func (s *PatternStore) UpdateIncidentTicket(ctx context.Context, id uint, updates map[string]interface{}) (*IncidentTicket, error) {
	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&IncidentTicket{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to update incident %d: %w", id, result.Error)
		}
	}
	return s.GetIncidentTicket(ctx, id)
}
