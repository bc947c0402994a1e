package api

import (
	"time"

	"github.com/opsdesk/patternd/internal/database"
)

// ========== Ticket Types ==========

// CreateTicketRequest is the request body for POST /api/tickets.
// The helpdesk owns ticket IDs; Department may be omitted when a classifier is configured.
type CreateTicketRequest struct {
	ID          uint       `json:"id" validate:"required"`
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description" validate:"max=20000"`
	Department  string     `json:"department" validate:"omitempty,department"`
	UserID      string     `json:"user_id" validate:"required,max=128"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// CreateTicketResponse is returned once a ticket is stored and queued for analysis.
type CreateTicketResponse struct {
	TicketID   uint   `json:"ticket_id"`
	Department string `json:"department"`
	Status     string `json:"status"`
}

// ========== Pattern Types ==========

// EscalateClusterRequest is the request body for POST /api/patterns/incidents.
type EscalateClusterRequest struct {
	ClusterID uint `json:"cluster_id" validate:"required"`
}

// EscalateClusterResponse reports the incident for a cluster and whether this call created it.
type EscalateClusterResponse struct {
	Incident *database.IncidentTicket `json:"incident"`
	Created  bool                     `json:"created"`
}

// ReviewSpamRequest is the request body for POST /api/patterns/spam/:id/review.
type ReviewSpamRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed dismissed"`
}

// UpdateIncidentRequest is the request body for PATCH /api/patterns/incidents/:id.
type UpdateIncidentRequest struct {
	Status              *string    `json:"status" validate:"omitempty,oneof=open investigating resolved"`
	AssignedTo          *string    `json:"assigned_to" validate:"omitempty,max=128"`
	EstimatedResolution *time.Time `json:"estimated_resolution"`
	PublicStatement     *string    `json:"public_statement" validate:"omitempty,max=4000"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ========== Mapper Output Types ==========

// ClusterListItem is a cluster without its centroid and member list.
type ClusterListItem struct {
	ID               uint      `json:"id"`
	Department       string    `json:"department"`
	Keywords         []string  `json:"keywords"`
	TicketCount      int       `json:"ticket_count"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
	AlertSent        bool      `json:"alert_sent"`
	IncidentTicketID *uint     `json:"incident_ticket_id,omitempty"`
}

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse carries a signed token.
type TokenResponse struct {
	Token      string `json:"token"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	ExpiresIn  int    `json:"expires_in"`
}

// IssueTokenRequest is the request body for POST /auth/tokens.
type IssueTokenRequest struct {
	Username   string `json:"username" validate:"required,max=128"`
	Department string `json:"department" validate:"required,department"`
}
