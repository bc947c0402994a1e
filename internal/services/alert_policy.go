package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/opsdesk/patternd/internal/config"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/metrics"
	"github.com/opsdesk/patternd/internal/notifier"
)

// AlertStore records threshold alerts
type AlertStore interface {
	RecordThresholdAlert(ctx context.Context, alert *database.PatternAlert) (bool, error)
}

// AlertPolicy raises one alert per cluster once it reaches the size threshold
// of its department
type AlertPolicy struct {
	store    AlertStore
	policy   *config.PolicySource
	notifier notifier.Notifier
}

// NewAlertPolicy creates an alert policy. A nil notifier disables delivery.
func NewAlertPolicy(store AlertStore, policy *config.PolicySource, n notifier.Notifier) *AlertPolicy {
	if n == nil {
		n = notifier.Noop{}
	}
	return &AlertPolicy{store: store, policy: policy, notifier: n}
}

// Severity maps a cluster size to an alert severity
func Severity(memberCount int, p *config.Policy) database.AlertSeverity {
	switch {
	case memberCount >= p.Severity.CriticalAt:
		return database.AlertSeverityCritical
	case memberCount >= p.Severity.HighAt:
		return database.AlertSeverityHigh
	default:
		return database.AlertSeverityMedium
	}
}

// AlertMessage builds the human-readable alert text
func AlertMessage(memberCount int, department string, keywords []string) string {
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	return fmt.Sprintf("%d similar tickets detected in %s department regarding: %s",
		memberCount, department, strings.Join(keywords, ", "))
}

// Evaluate raises the threshold alert for cluster if it is due. It returns the
// alert when this call created it and nil otherwise.
func (p *AlertPolicy) Evaluate(ctx context.Context, cluster *database.Cluster) (*database.PatternAlert, error) {
	if cluster.AlertSent {
		return nil, nil
	}

	pol := p.policy.Current()
	count := cluster.MemberCount()
	if count < pol.AlertThreshold(cluster.Department) {
		return nil, nil
	}

	alert := &database.PatternAlert{
		ClusterID:  cluster.ID,
		AlertType:  database.AlertTypeThresholdExceeded,
		Severity:   Severity(count, pol),
		Message:    AlertMessage(count, cluster.Department, cluster.Keywords),
		Department: cluster.Department,
	}

	created, err := p.store.RecordThresholdAlert(ctx, alert)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	cluster.AlertSent = true

	metrics.AlertsRaisedTotal.WithLabelValues(alert.Department, string(alert.Severity)).Inc()
	log.Printf("AlertPolicy: Raised %s alert %d for cluster %d (%d tickets, department=%s)",
		alert.Severity, alert.ID, cluster.ID, count, cluster.Department)

	if err := p.notifier.NotifyPatternAlert(ctx, alert, cluster); err != nil {
		log.Printf("AlertPolicy: Failed to notify alert %d: %v", alert.ID, err)
	}
	return alert, nil
}
