package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/opsdesk/patternd/internal/api"
	"github.com/opsdesk/patternd/internal/testhelpers"
)

type stubClassifier struct {
	department string
	err        error
	calls      int
}

func (s *stubClassifier) Classify(ctx context.Context, title, description string) (string, error) {
	s.calls++
	return s.department, s.err
}

func TestTicketHandler_Accepts(t *testing.T) {
	env := setupHandlerEnv(t, nil)

	var resp api.CreateTicketResponse
	env.submit(1, "IT", "u1", "vpn keeps dropping").
		AssertStatus(http.StatusAccepted).
		DecodeJSON(&resp)

	if resp.TicketID != 1 || resp.Department != "IT" || resp.Status != "accepted" {
		t.Errorf("unexpected response %+v", resp)
	}

	ticket, err := env.store.GetTicket(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected stored ticket: %v", err)
	}
	if ticket.AnalyzedAt == nil {
		t.Error("expected ticket to be analyzed")
	}
	clusters, _ := env.store.ActiveClusters(context.Background(), "IT")
	if len(clusters) != 1 || !clusters[0].MemberTicketIDs.Contains(1) {
		t.Errorf("expected one IT cluster holding ticket 1, got %+v", clusters)
	}
}

func TestTicketHandler_RequiresAPIKey(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	body := map[string]interface{}{"id": 1, "title": "vpn", "user_id": "u1", "department": "IT"}

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/tickets", nil).
		WithJSONBody(body).
		Execute(env.handler).
		AssertStatus(http.StatusUnauthorized)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/tickets", nil).
		WithAPIKey("wrong").
		WithJSONBody(body).
		Execute(env.handler).
		AssertStatus(http.StatusUnauthorized)
}

func TestTicketHandler_RejectsDuplicateID(t *testing.T) {
	env := setupHandlerEnv(t, nil)

	env.submit(5, "IT", "u1", "printer jammed").AssertStatus(http.StatusAccepted)
	env.submit(5, "IT", "u1", "printer jammed").
		AssertStatus(http.StatusConflict).
		AssertBodyContains("duplicate_ticket")
}

func TestTicketHandler_Validation(t *testing.T) {
	env := setupHandlerEnv(t, nil)

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{"missing title", map[string]interface{}{"id": 1, "user_id": "u", "department": "IT"}, "title"},
		{"missing user", map[string]interface{}{"id": 1, "title": "t", "department": "IT"}, "user_id"},
		{"unknown department", map[string]interface{}{"id": 1, "title": "t", "user_id": "u", "department": "Legal"}, "department"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/tickets", nil).
				WithAPIKey(testAPIKey).
				WithJSONBody(tt.body).
				Execute(env.handler).
				AssertStatus(http.StatusUnprocessableEntity).
				AssertBodyContains(tt.field)
		})
	}
}

func TestTicketHandler_Department(t *testing.T) {
	tests := []struct {
		name       string
		classifier *stubClassifier
		want       string
		wantStatus int
	}{
		{"no classifier", nil, "", http.StatusUnprocessableEntity},
		{"classified", &stubClassifier{department: "Facilities"}, "Facilities", http.StatusAccepted},
		{"classifier fails", &stubClassifier{err: errors.New("overloaded")}, "General", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env *handlerEnv
			if tt.classifier != nil {
				env = setupHandlerEnv(t, tt.classifier)
			} else {
				env = setupHandlerEnv(t, nil)
			}

			ctx := env.submit(1, "", "u1", "broken chair").AssertStatus(tt.wantStatus)
			if tt.wantStatus != http.StatusAccepted {
				return
			}
			var resp api.CreateTicketResponse
			ctx.DecodeJSON(&resp)
			if resp.Department != tt.want {
				t.Errorf("expected department %s, got %s", tt.want, resp.Department)
			}
			if tt.classifier.calls != 1 {
				t.Errorf("expected one classifier call, got %d", tt.classifier.calls)
			}
		})
	}
}

func TestTicketHandler_ExplicitDepartmentSkipsClassifier(t *testing.T) {
	classifier := &stubClassifier{department: "HR"}
	env := setupHandlerEnv(t, classifier)

	env.submit(1, "Finance", "u1", "expense report").AssertStatus(http.StatusAccepted)
	if classifier.calls != 0 {
		t.Errorf("expected classifier to be skipped, got %d calls", classifier.calls)
	}
}

func TestTicketHandler_AnalysisFailureStillAccepts(t *testing.T) {
	env := setupHandlerEnv(t, nil)
	env.provider.Err = errors.New("provider down")

	env.submit(1, "IT", "u1", "vpn down").AssertStatus(http.StatusAccepted)

	if _, err := env.store.GetTicket(context.Background(), 1); err != nil {
		t.Errorf("expected ticket stored despite analysis failure: %v", err)
	}
	clusters, _ := env.store.ActiveClusters(context.Background(), "IT")
	if len(clusters) != 0 {
		t.Errorf("expected no clusters, got %d", len(clusters))
	}
}
