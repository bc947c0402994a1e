package testhelpers

import (
	"testing"
	"time"
)

func TestTicketBuilder(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ticket := NewTicketBuilder().
		WithID(42).
		WithTitle("VPN drops").
		WithDescription("every hour").
		WithDepartment("HR").
		WithUser("alice").
		CreatedAt(at).
		Build()

	if ticket.ID != 42 || ticket.Title != "VPN drops" || ticket.Description != "every hour" {
		t.Errorf("unexpected ticket %+v", ticket)
	}
	if ticket.Department != "HR" || ticket.UserID != "alice" {
		t.Errorf("unexpected ticket %+v", ticket)
	}
	if !ticket.CreatedAt.Equal(at) {
		t.Errorf("expected created at %v, got %v", at, ticket.CreatedAt)
	}
}

func TestTicketBuilder_BuildReturnsCopies(t *testing.T) {
	b := NewTicketBuilder()
	first := b.WithID(1).Build()
	second := b.WithID(2).Build()

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("expected independent tickets, got %d and %d", first.ID, second.ID)
	}
}

func TestClusterBuilder(t *testing.T) {
	c := NewClusterBuilder().
		WithDepartment("Finance").
		WithKeywords("payroll", "late").
		WithCentroid(0, 1).
		WithMemberCount(3).
		Alerted().
		Build()

	if c.Department != "Finance" || len(c.Keywords) != 2 {
		t.Errorf("unexpected cluster %+v", c)
	}
	if c.MemberCount() != 3 || !c.MemberTicketIDs.Contains(3) {
		t.Errorf("expected members 1..3, got %v", c.MemberTicketIDs)
	}
	if !c.IsActive || !c.AlertSent {
		t.Errorf("expected active alerted cluster, got %+v", c)
	}
}

func TestClusterBuilder_LastSeenMovesFirstSeen(t *testing.T) {
	old := time.Now().Add(-30 * 24 * time.Hour)
	c := NewClusterBuilder().LastSeen(old).Build()

	if !c.LastSeen.Equal(old) || c.FirstSeen.After(c.LastSeen) {
		t.Errorf("expected first seen <= last seen, got %v / %v", c.FirstSeen, c.LastSeen)
	}
}
