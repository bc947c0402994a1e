package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/middleware"
	"github.com/opsdesk/patternd/internal/services"
)

func TestPatternHandler_AnalyticsScoping(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	env.raiseHRAlert()
	env.submit(200, "IT", "it-user", "vpn down").AssertStatus(http.StatusAccepted)

	tests := []struct {
		name         string
		token        string
		query        string
		wantStatus   int
		wantClusters int
		wantAlerts   int
	}{
		{"admin sees all", env.adminToken(), "", http.StatusOK, 2, 1},
		{"admin filters", env.adminToken(), "?department=IT", http.StatusOK, 1, 0},
		{"HR member", env.memberToken("HR"), "", http.StatusOK, 1, 1},
		{"IT member cannot widen scope", env.memberToken("IT"), "?department=HR", http.StatusOK, 1, 0},
		{"other role", env.token("Viewer", "HR"), "", http.StatusForbidden, 0, 0},
		{"member without department", env.memberToken(""), "", http.StatusForbidden, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := env.do(http.MethodGet, "/api/patterns/analytics"+tt.query, tt.token, nil).AssertStatus(tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var analytics services.PatternAnalytics
			ctx.DecodeJSON(&analytics)
			if len(analytics.ActiveClusters) != tt.wantClusters {
				t.Errorf("expected %d clusters, got %d", tt.wantClusters, len(analytics.ActiveClusters))
			}
			if len(analytics.RecentAlerts) != tt.wantAlerts {
				t.Errorf("expected %d alerts, got %d", tt.wantAlerts, len(analytics.RecentAlerts))
			}
			if len(analytics.TopRecurringIssues) != tt.wantClusters {
				t.Errorf("expected %d recurring issues, got %d", tt.wantClusters, len(analytics.TopRecurringIssues))
			}
		})
	}
}

func TestPatternHandler_ListClustersPaginates(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	titles := []string{"vpn down", "printer jammed", "payroll wrong", "coffee machine"}
	for i, title := range titles {
		env.submit(uint(i+1), "IT", fmt.Sprintf("u%d", i), title).AssertStatus(http.StatusAccepted)
	}

	var page struct {
		Data       []api.ClusterListItem `json:"data"`
		Pagination api.PaginationMeta    `json:"pagination"`
	}
	env.do(http.MethodGet, "/api/patterns/clusters?page=2&per_page=3", env.adminToken(), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&page)

	if page.Pagination.Total != 4 || page.Pagination.TotalPages != 2 {
		t.Errorf("unexpected pagination %+v", page.Pagination)
	}
	if len(page.Data) != 1 {
		t.Errorf("expected 1 item on page 2, got %d", len(page.Data))
	}
}

func TestPatternHandler_GetCluster(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	env.raiseHRAlert()
	clusters, _ := env.store.ActiveClusters(context.Background(), "HR")
	path := fmt.Sprintf("/api/patterns/clusters/%d", clusters[0].ID)

	env.do(http.MethodGet, path, env.memberToken("HR"), nil).
		AssertStatus(http.StatusOK).
		AssertBodyContains("payroll")
	env.do(http.MethodGet, path, env.memberToken("IT"), nil).AssertStatus(http.StatusNotFound)
	env.do(http.MethodGet, "/api/patterns/clusters/999", env.adminToken(), nil).AssertStatus(http.StatusNotFound)
	env.do(http.MethodGet, "/api/patterns/clusters/abc", env.adminToken(), nil).AssertStatus(http.StatusBadRequest)
}

func TestPatternHandler_AcknowledgeAlert(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	env.raiseHRAlert()

	var list struct {
		Data []database.PatternAlert `json:"data"`
	}
	env.do(http.MethodGet, "/api/patterns/alerts", env.adminToken(), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&list)
	if len(list.Data) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(list.Data))
	}
	path := fmt.Sprintf("/api/patterns/alerts/%d/acknowledge", list.Data[0].ID)

	env.do(http.MethodPost, path, env.memberToken("IT"), nil).AssertStatus(http.StatusNotFound)

	var alert database.PatternAlert
	env.do(http.MethodPost, path, env.memberToken("HR"), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&alert)
	if !alert.Acknowledged || alert.AcknowledgedBy != "tester" || alert.AcknowledgedAt == nil {
		t.Errorf("expected acknowledged alert, got %+v", alert)
	}

	env.do(http.MethodPost, path, env.adminToken(), nil).AssertStatus(http.StatusConflict)
	env.do(http.MethodPost, "/api/patterns/alerts/999/acknowledge", env.adminToken(), nil).AssertStatus(http.StatusNotFound)
}

func TestPatternHandler_ReviewSpam(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	// one user, three tickets inside the spam window
	for i := uint(1); i <= 3; i++ {
		env.submit(i, "IT", "spammer", fmt.Sprintf("request number %d", i)).AssertStatus(http.StatusAccepted)
	}

	var list struct {
		Data []database.SpamDetection `json:"data"`
	}
	env.do(http.MethodGet, "/api/patterns/spam", env.memberToken("IT"), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&list)

	var rapid *database.SpamDetection
	for i := range list.Data {
		if list.Data[i].Reason == database.SpamReasonRapidSubmission {
			rapid = &list.Data[i]
		}
	}
	if rapid == nil {
		t.Fatalf("expected a rapid submission detection, got %+v", list.Data)
	}
	if rapid.Confidence != 60 || rapid.TicketID != 3 {
		t.Errorf("expected confidence 60 on ticket 3, got %+v", rapid)
	}
	path := fmt.Sprintf("/api/patterns/spam/%d/review", rapid.ID)

	env.do(http.MethodPost, path, env.adminToken(), map[string]string{"status": "pending"}).
		AssertStatus(http.StatusUnprocessableEntity)
	env.do(http.MethodPost, path, env.memberToken("HR"), map[string]string{"status": "confirmed"}).
		AssertStatus(http.StatusNotFound)

	var reviewed database.SpamDetection
	env.do(http.MethodPost, path, env.memberToken("IT"), map[string]string{"status": "confirmed"}).
		AssertStatus(http.StatusOK).
		DecodeJSON(&reviewed)
	if reviewed.Status != database.SpamStatusConfirmed || reviewed.ReviewedBy != "tester" {
		t.Errorf("expected confirmed detection, got %+v", reviewed)
	}

	env.do(http.MethodPost, path, env.adminToken(), map[string]string{"status": "dismissed"}).
		AssertStatus(http.StatusConflict)
}

func TestPatternHandler_DeactivateCluster(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	env.submit(1, "IT", "u1", "vpn down").AssertStatus(http.StatusAccepted)
	clusters, _ := env.store.ActiveClusters(context.Background(), "IT")
	path := fmt.Sprintf("/api/patterns/clusters/%d/deactivate", clusters[0].ID)

	env.do(http.MethodPost, path, env.memberToken("IT"), nil).AssertStatus(http.StatusForbidden)
	env.do(http.MethodPost, path, env.adminToken(), nil).AssertStatus(http.StatusOK)
	env.do(http.MethodPost, path, env.adminToken(), nil).AssertStatus(http.StatusConflict)

	active, _ := env.store.ActiveClusters(context.Background(), "IT")
	if len(active) != 0 {
		t.Errorf("expected no active clusters, got %d", len(active))
	}
}

func TestPatternHandler_EscalateAndUpdateIncident(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	env.raiseHRAlert()
	clusters, _ := env.store.ActiveClusters(context.Background(), "HR")
	body := map[string]uint{"cluster_id": clusters[0].ID}

	env.do(http.MethodPost, "/api/patterns/incidents", env.memberToken("IT"), body).AssertStatus(http.StatusNotFound)
	env.do(http.MethodPost, "/api/patterns/incidents", env.adminToken(), map[string]uint{}).AssertStatus(http.StatusUnprocessableEntity)

	var first api.EscalateClusterResponse
	env.do(http.MethodPost, "/api/patterns/incidents", env.memberToken("HR"), body).
		AssertStatus(http.StatusCreated).
		DecodeJSON(&first)
	if !first.Created || first.Incident == nil {
		t.Fatalf("expected created incident, got %+v", first)
	}
	if first.Incident.Title != "Incident: Multiple reports of payroll and late issues" {
		t.Errorf("unexpected title %q", first.Incident.Title)
	}
	if first.Incident.ImpactedUsers != 3 || first.Incident.Status != database.IncidentStatusOpen {
		t.Errorf("unexpected incident %+v", first.Incident)
	}

	var second api.EscalateClusterResponse
	env.do(http.MethodPost, "/api/patterns/incidents", env.adminToken(), body).
		AssertStatus(http.StatusOK).
		DecodeJSON(&second)
	if second.Created || second.Incident.ID != first.Incident.ID {
		t.Errorf("expected the existing incident, got %+v", second)
	}

	path := fmt.Sprintf("/api/patterns/incidents/%d", first.Incident.ID)
	env.do(http.MethodGet, path, env.memberToken("HR"), nil).AssertStatus(http.StatusOK)
	env.do(http.MethodGet, path, env.memberToken("IT"), nil).AssertStatus(http.StatusNotFound)

	env.do(http.MethodPatch, path, env.adminToken(), map[string]string{}).AssertStatus(http.StatusUnprocessableEntity)
	env.do(http.MethodPatch, path, env.adminToken(), map[string]string{"status": "closed"}).AssertStatus(http.StatusUnprocessableEntity)

	var updated database.IncidentTicket
	env.do(http.MethodPatch, path, env.memberToken("HR"), map[string]string{
		"status":           "investigating",
		"assigned_to":      "payroll-team",
		"public_statement": "We are looking into delayed payroll.",
	}).AssertStatus(http.StatusOK).DecodeJSON(&updated)
	if updated.Status != database.IncidentStatusInvestigating || updated.AssignedTo != "payroll-team" {
		t.Errorf("unexpected update result %+v", updated)
	}

	var list struct {
		Data []database.IncidentTicket `json:"data"`
	}
	env.do(http.MethodGet, "/api/patterns/incidents", env.memberToken("IT"), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&list)
	if len(list.Data) != 0 {
		t.Errorf("expected IT to see no incidents, got %d", len(list.Data))
	}
}

func TestCanAccess(t *testing.T) {
	tests := []struct {
		name   string
		claims *middleware.UserClaims
		dept   string
		want   bool
	}{
		{"admin", &middleware.UserClaims{Role: middleware.RoleAdministrator}, "HR", true},
		{"own department", &middleware.UserClaims{Role: middleware.RoleDepartmentMember, Department: "HR"}, "HR", true},
		{"other department", &middleware.UserClaims{Role: middleware.RoleDepartmentMember, Department: "IT"}, "HR", false},
		{"other role", &middleware.UserClaims{Role: "Viewer", Department: "HR"}, "HR", false},
		{"anonymous", nil, "HR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(middleware.WithClaims(r.Context(), tt.claims))
			if got := canAccess(r, tt.dept); got != tt.want {
				t.Errorf("canAccess = %v, want %v", got, tt.want)
			}
		})
	}
}
