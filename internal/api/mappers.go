package api

import "github.com/opsdesk/patternd/internal/database"

// ClusterToListItem converts a cluster to its compact list representation.
func ClusterToListItem(c database.Cluster) ClusterListItem {
	keywords := []string(c.Keywords)
	if keywords == nil {
		keywords = []string{}
	}
	return ClusterListItem{
		ID:               c.ID,
		Department:       c.Department,
		Keywords:         keywords,
		TicketCount:      c.MemberCount(),
		FirstSeen:        c.FirstSeen,
		LastSeen:         c.LastSeen,
		AlertSent:        c.AlertSent,
		IncidentTicketID: c.IncidentTicketID,
	}
}

// ClustersToListItems converts clusters to list items.
func ClustersToListItems(clusters []database.Cluster) []ClusterListItem {
	items := make([]ClusterListItem, len(clusters))
	for i, c := range clusters {
		items[i] = ClusterToListItem(c)
	}
	return items
}

// TicketFromRequest builds the stored ticket for an ingestion request.
func TicketFromRequest(req CreateTicketRequest, department string) *database.Ticket {
	t := &database.Ticket{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		Department:  department,
		UserID:      req.UserID,
	}
	if req.CreatedAt != nil {
		t.CreatedAt = *req.CreatedAt
	}
	return t
}
