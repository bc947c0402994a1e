package testhelpers

import (
	"time"

	"github.com/opsdesk/patternd/internal/database"
)

// ========================================
// Ticket Builder
// ========================================

// TicketBuilder builds Ticket instances for testing
type TicketBuilder struct {
	ticket database.Ticket
}

// NewTicketBuilder creates a new ticket builder with defaults
func NewTicketBuilder() *TicketBuilder {
	return &TicketBuilder{
		ticket: database.Ticket{
			ID:          1,
			Title:       "Test ticket",
			Description: "Test ticket description",
			Department:  database.DepartmentIT,
			UserID:      "test-user",
			CreatedAt:   time.Now(),
		},
	}
}

// WithID sets the ticket ID
func (b *TicketBuilder) WithID(id uint) *TicketBuilder {
	b.ticket.ID = id
	return b
}

// WithTitle sets the title
func (b *TicketBuilder) WithTitle(title string) *TicketBuilder {
	b.ticket.Title = title
	return b
}

// WithDescription sets the description
func (b *TicketBuilder) WithDescription(desc string) *TicketBuilder {
	b.ticket.Description = desc
	return b
}

// WithDepartment sets the department
func (b *TicketBuilder) WithDepartment(dept string) *TicketBuilder {
	b.ticket.Department = dept
	return b
}

// WithUser sets the submitting user
func (b *TicketBuilder) WithUser(userID string) *TicketBuilder {
	b.ticket.UserID = userID
	return b
}

// CreatedAt sets the creation time
func (b *TicketBuilder) CreatedAt(at time.Time) *TicketBuilder {
	b.ticket.CreatedAt = at
	return b
}

// Build returns the constructed ticket
func (b *TicketBuilder) Build() *database.Ticket {
	t := b.ticket
	return &t
}

// ========================================
// Cluster Builder
// ========================================

// ClusterBuilder builds Cluster instances for testing
type ClusterBuilder struct {
	cluster database.Cluster
}

// NewClusterBuilder creates an active IT cluster with one member
func NewClusterBuilder() *ClusterBuilder {
	now := time.Now()
	return &ClusterBuilder{
		cluster: database.Cluster{
			Department:        database.DepartmentIT,
			Keywords:          database.StringList{"test"},
			CentroidEmbedding: database.Vector{1, 0},
			MemberTicketIDs:   database.IDList{1},
			FirstSeen:         now,
			LastSeen:          now,
			IsActive:          true,
		},
	}
}

// WithDepartment sets the department
func (b *ClusterBuilder) WithDepartment(dept string) *ClusterBuilder {
	b.cluster.Department = dept
	return b
}

// WithKeywords sets the keywords
func (b *ClusterBuilder) WithKeywords(keywords ...string) *ClusterBuilder {
	b.cluster.Keywords = keywords
	return b
}

// WithCentroid sets the centroid embedding
func (b *ClusterBuilder) WithCentroid(vec ...float64) *ClusterBuilder {
	b.cluster.CentroidEmbedding = vec
	return b
}

// WithMembers sets the member ticket IDs
func (b *ClusterBuilder) WithMembers(ids ...uint) *ClusterBuilder {
	b.cluster.MemberTicketIDs = ids
	return b
}

// WithMemberCount sets members 1..n
func (b *ClusterBuilder) WithMemberCount(n int) *ClusterBuilder {
	ids := make(database.IDList, n)
	for i := range ids {
		ids[i] = uint(i + 1)
	}
	b.cluster.MemberTicketIDs = ids
	return b
}

// LastSeen sets the last activity time
func (b *ClusterBuilder) LastSeen(at time.Time) *ClusterBuilder {
	b.cluster.LastSeen = at
	if b.cluster.FirstSeen.After(at) {
		b.cluster.FirstSeen = at
	}
	return b
}

// Alerted marks the cluster's threshold alert as sent
func (b *ClusterBuilder) Alerted() *ClusterBuilder {
	b.cluster.AlertSent = true
	return b
}

// Build returns the constructed cluster
func (b *ClusterBuilder) Build() *database.Cluster {
	c := b.cluster
	return &c
}
