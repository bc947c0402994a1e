package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsdesk/patternd/internal/database"
)

func TestTopRecurringIssues(t *testing.T) {
	clusters := []database.Cluster{
		{ID: 1, Department: "IT", Keywords: database.StringList{"vpn"}, MemberTicketIDs: database.IDList{1, 2}},
		{ID: 2, Department: "HR", Keywords: database.StringList{"payroll"}, MemberTicketIDs: database.IDList{3, 4, 5, 6}},
		{ID: 3, Department: "IT", Keywords: database.StringList{"printer"}, MemberTicketIDs: database.IDList{7, 8}},
		{ID: 4, Department: "Finance", Keywords: database.StringList{"invoice"}, MemberTicketIDs: database.IDList{9}},
	}

	tests := []struct {
		name  string
		limit int
		want  []uint
	}{
		{"ranked by size, ties keep input order", 10, []uint{2, 1, 3, 4}},
		{"limited", 2, []uint{2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TopRecurringIssues(clusters, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d issues, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ClusterID != id {
					t.Errorf("position %d: expected cluster %d, got %d", i, id, got[i].ClusterID)
				}
			}
			if got[0].TicketCount != 4 || got[0].Department != "HR" || got[0].Keywords[0] != "payroll" {
				t.Errorf("unexpected top issue %+v", got[0])
			}
		})
	}

	if got := TopRecurringIssues(nil, 10); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestPatternService_AnalyticsScopedByDepartment(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.submit(t, 1, "HR", "u1", "payroll missing")
	env.submit(t, 2, "HR", "u2", "payroll missing")
	env.submit(t, 3, "HR", "u3", "payroll missing")
	env.submit(t, 4, "IT", "u4", "printer jammed")

	svc := NewPatternService(env.store)

	hr, err := svc.Analytics(ctx, "HR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hr.ActiveClusters) != 1 || hr.ActiveClusters[0].Department != "HR" {
		t.Errorf("expected only the HR cluster, got %+v", hr.ActiveClusters)
	}
	if len(hr.RecentAlerts) != 1 {
		t.Errorf("expected 1 HR alert, got %d", len(hr.RecentAlerts))
	}
	if len(hr.TopRecurringIssues) != 1 || hr.TopRecurringIssues[0].TicketCount != 3 {
		t.Errorf("unexpected top issues %+v", hr.TopRecurringIssues)
	}
	if len(hr.SpamDetections) != 0 {
		t.Errorf("expected no spam, got %d", len(hr.SpamDetections))
	}

	all, err := svc.Analytics(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all.ActiveClusters) != 2 {
		t.Errorf("expected 2 clusters across departments, got %d", len(all.ActiveClusters))
	}
	if all.TopRecurringIssues[0].Department != "HR" {
		t.Errorf("expected HR cluster ranked first, got %+v", all.TopRecurringIssues[0])
	}

	it, _ := svc.Analytics(ctx, "IT")
	if len(it.RecentAlerts) != 0 {
		t.Errorf("expected no IT alerts, got %d", len(it.RecentAlerts))
	}
}

func TestPatternService_RecentAlertsWindow(t *testing.T) {
	env := setupTestEnv(t)
	env.submit(t, 1, "HR", "u1", "payroll missing")
	env.submit(t, 2, "HR", "u2", "payroll missing")
	env.submit(t, 3, "HR", "u3", "payroll missing")

	svc := NewPatternService(env.store)
	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	alerts, err := svc.RecentAlerts(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected alerts older than 24h to be excluded, got %d", len(alerts))
	}
}

func TestPatternService_AcknowledgeAlert(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.submit(t, 1, "HR", "u1", "payroll missing")
	env.submit(t, 2, "HR", "u2", "payroll missing")
	r := env.submit(t, 3, "HR", "u3", "payroll missing")
	if r.Alert == nil {
		t.Fatal("expected alert")
	}

	svc := NewPatternService(env.store)
	alert, err := svc.AcknowledgeAlert(ctx, r.Alert.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !alert.Acknowledged || alert.AcknowledgedBy != "alice" {
		t.Errorf("expected acknowledged alert, got %+v", alert)
	}

	if _, err := svc.AcknowledgeAlert(ctx, r.Alert.ID, "bob"); !errors.Is(err, ErrAlertAlreadyAcknowledged) {
		t.Errorf("expected ErrAlertAlreadyAcknowledged, got %v", err)
	}
	if _, err := svc.AcknowledgeAlert(ctx, 999, "bob"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestPatternService_ReviewSpam(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.submit(t, 1, "IT", "u1", "printer jammed")
	r := env.submit(t, 2, "IT", "u1", "printer jammed")
	if len(r.SpamFlags) != 1 {
		t.Fatalf("expected duplicate flag, got %+v", r.SpamFlags)
	}
	id := r.SpamFlags[0].ID

	svc := NewPatternService(env.store)

	tests := []struct {
		name    string
		id      uint
		status  database.SpamStatus
		wantErr error
	}{
		{"invalid status", id, database.SpamStatusPending, ErrInvalidReviewStatus},
		{"unknown detection", 999, database.SpamStatusConfirmed, ErrSpamNotFound},
		{"confirm", id, database.SpamStatusConfirmed, nil},
		{"already reviewed", id, database.SpamStatusDismissed, ErrSpamAlreadyReviewed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReviewSpam(ctx, tt.id, tt.status, "alice")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	pending, _ := svc.PendingSpam(ctx, "IT")
	if len(pending) != 0 {
		t.Errorf("expected no pending detections after review, got %d", len(pending))
	}
}

func TestPatternService_DeactivateCluster(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	r := env.submit(t, 1, "IT", "u1", "printer jammed")

	svc := NewPatternService(env.store)
	if err := svc.DeactivateCluster(ctx, r.ClusterID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.DeactivateCluster(ctx, r.ClusterID); !errors.Is(err, ErrClusterAlreadyInactive) {
		t.Errorf("expected ErrClusterAlreadyInactive, got %v", err)
	}
	if err := svc.DeactivateCluster(ctx, 999); !errors.Is(err, ErrClusterNotFound) {
		t.Errorf("expected ErrClusterNotFound, got %v", err)
	}

	// a deactivated cluster no longer attracts tickets
	next := env.submit(t, 2, "IT", "u2", "printer jammed")
	if next.Outcome != OutcomeCreated || next.ClusterID == r.ClusterID {
		t.Errorf("expected a fresh cluster, got %s", next)
	}
}
