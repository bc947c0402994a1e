package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Departments known to the helpdesk. Tickets may carry other department names;
// those fall back to the default alert threshold.
const (
	DepartmentIT         = "IT"
	DepartmentHR         = "HR"
	DepartmentFinance    = "Finance"
	DepartmentAdmin      = "Admin"
	DepartmentFacilities = "Facilities"
	DepartmentGeneral    = "General"
)

// KnownDepartments lists the departments in display order.
var KnownDepartments = []string{
	DepartmentIT,
	DepartmentHR,
	DepartmentFinance,
	DepartmentAdmin,
	DepartmentFacilities,
	DepartmentGeneral,
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// Vector is an embedding stored as a JSON array
type Vector []float64

// Scan implements the sql.Scanner interface
func (v *Vector) Scan(value interface{}) error {
	*v = nil
	return scanJSON(value, v)
}

// Value implements the driver.Valuer interface
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal([]float64(v))
}

// StringList is a list of strings stored as a JSON array
type StringList []string

// Scan implements the sql.Scanner interface
func (s *StringList) Scan(value interface{}) error {
	*s = StringList{}
	return scanJSON(value, s)
}

// Value implements the driver.Valuer interface
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(s))
}

// IDList is a list of ticket IDs stored as a JSON array
type IDList []uint

// Scan implements the sql.Scanner interface
func (l *IDList) Scan(value interface{}) error {
	*l = IDList{}
	return scanJSON(value, l)
}

// Value implements the driver.Valuer interface
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]uint{})
	}
	return json.Marshal([]uint(l))
}

// Contains reports whether id is in the list
func (l IDList) Contains(id uint) bool {
	for _, existing := range l {
		if existing == id {
			return true
		}
	}
	return false
}

// Ticket is the local copy of a helpdesk ticket submitted for analysis
type Ticket struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Department  string     `gorm:"type:varchar(64);not null;index" json:"department"`
	UserID      string     `gorm:"type:varchar(128);not null;index:idx_tickets_user_created,priority:1" json:"user_id"`
	Embedding   Vector     `gorm:"type:jsonb" json:"-"`
	AnalyzedAt  *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index:idx_tickets_user_created,priority:2" json:"created_at"`
}

// Text returns the text analyzed for the ticket
func (t *Ticket) Text() string {
	return t.Title + " " + t.Description
}

// Cluster groups similar tickets of one department
type Cluster struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Department        string     `gorm:"type:varchar(64);not null;index" json:"department"`
	Keywords          StringList `gorm:"type:jsonb" json:"keywords"`
	CentroidEmbedding Vector     `gorm:"type:jsonb" json:"-"`
	MemberTicketIDs   IDList     `gorm:"type:jsonb" json:"member_ticket_ids"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          time.Time  `gorm:"index" json:"last_seen"`
	IsActive          bool       `gorm:"not null;default:true;index" json:"is_active"`
	AlertSent         bool       `gorm:"not null;default:false" json:"alert_sent"`
	IncidentTicketID  *uint      `json:"incident_ticket_id,omitempty"`
	Version           int        `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MemberCount returns the number of tickets in the cluster
func (c *Cluster) MemberCount() int {
	return len(c.MemberTicketIDs)
}

// AlertType classifies a pattern alert
type AlertType string

const (
	AlertTypeThresholdExceeded AlertType = "threshold_exceeded"
	AlertTypeSpamDetected      AlertType = "spam_detected"
	AlertTypeUnusualPattern    AlertType = "unusual_pattern"
)

// AlertSeverity represents the severity of a pattern alert
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// PatternAlert is raised when a cluster grows past its department threshold
type PatternAlert struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	ClusterID      uint          `gorm:"not null;index" json:"cluster_id"`
	AlertType      AlertType     `gorm:"type:varchar(50);not null" json:"alert_type"`
	Severity       AlertSeverity `gorm:"type:varchar(20);not null" json:"severity"`
	Message        string        `gorm:"type:text;not null" json:"message"`
	Department     string        `gorm:"type:varchar(64);not null;index" json:"department"`
	Acknowledged   bool          `gorm:"not null;default:false" json:"acknowledged"`
	AcknowledgedBy string        `gorm:"type:varchar(128)" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time     `gorm:"index" json:"created_at"`
}

// SpamReason says why a ticket was flagged
type SpamReason string

const (
	SpamReasonRapidSubmission  SpamReason = "rapid_submission"
	SpamReasonDuplicateContent SpamReason = "duplicate_content"
)

// SpamStatus represents the review state of a spam detection
type SpamStatus string

const (
	SpamStatusPending   SpamStatus = "pending"
	SpamStatusConfirmed SpamStatus = "confirmed"
	SpamStatusDismissed SpamStatus = "dismissed"
)

// SpamDetection flags a ticket for staff review
type SpamDetection struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TicketID   uint       `gorm:"not null;index" json:"ticket_id"`
	UserID     string     `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Department string     `gorm:"type:varchar(64);index" json:"department"`
	Reason     SpamReason `gorm:"type:varchar(50);not null" json:"reason"`
	Confidence int        `gorm:"not null" json:"confidence"`
	Status     SpamStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewedBy string     `gorm:"type:varchar(128)" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IncidentStatus represents the status of an incident ticket
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IncidentPriority represents the priority of an incident ticket
type IncidentPriority string

const (
	IncidentPriorityHigh   IncidentPriority = "high"
	IncidentPriorityUrgent IncidentPriority = "urgent"
)

// IncidentTicket aggregates the tickets of one cluster
type IncidentTicket struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	UUID                string           `gorm:"uniqueIndex;not null" json:"uuid"`
	ClusterID           uint             `gorm:"uniqueIndex;not null" json:"cluster_id"`
	Title               string           `gorm:"type:varchar(255);not null" json:"title"`
	Description         string           `gorm:"type:text" json:"description"`
	Status              IncidentStatus   `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	Priority            IncidentPriority `gorm:"type:varchar(20);not null" json:"priority"`
	Department          string           `gorm:"type:varchar(64);not null;index" json:"department"`
	CreatedBy           string           `gorm:"type:varchar(128)" json:"created_by"`
	AssignedTo          string           `gorm:"type:varchar(128)" json:"assigned_to,omitempty"`
	ImpactedUsers       int              `json:"impacted_users"`
	EstimatedResolution *time.Time       `json:"estimated_resolution,omitempty"`
	PublicStatement     string           `gorm:"type:text" json:"public_statement,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// BeforeCreate hook to assign a UUID
func (i *IncidentTicket) BeforeCreate(tx *gorm.DB) error {
	if i.UUID == "" {
		i.UUID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = IncidentStatusOpen
	}
	return nil
}

// ValidIncidentStatus reports whether s is a known incident status
func ValidIncidentStatus(s IncidentStatus) bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusResolved:
		return true
	}
	return false
}

// TableName overrides for explicit table naming
func (Ticket) TableName() string {
	return "tickets"
}

func (Cluster) TableName() string {
	return "ticket_clusters"
}

func (PatternAlert) TableName() string {
	return "pattern_alerts"
}

func (SpamDetection) TableName() string {
	return "spam_detections"
}

func (IncidentTicket) TableName() string {
	return "incident_tickets"
}

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when a cluster changed since it was read
	ErrVersionConflict = errors.New("cluster was modified concurrently")

	// ErrStateConflict is returned when a conditional state change finds the
	// record already in its target state
	ErrStateConflict = errors.New("record is not in the expected state")
)
