package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/utils"
)

// Slack rejects very long text blocks
const slackMaxDescription = 2500

// slackPoster is the part of *slack.Client the notifier uses
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts alerts and incidents to a Slack channel
type SlackNotifier struct {
	client  slackPoster
	channel string
}

// NewSlackNotifier creates a notifier posting to channel with a bot token
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// NotifyPatternAlert posts a formatted pattern alert
func (s *SlackNotifier) NotifyPatternAlert(ctx context.Context, alert *database.PatternAlert, cluster *database.Cluster) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(FormatPatternAlert(alert, cluster), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post alert to slack: %w", err)
	}
	return nil
}

// NotifyIncident posts a formatted incident escalation
func (s *SlackNotifier) NotifyIncident(ctx context.Context, incident *database.IncidentTicket, cluster *database.Cluster) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(FormatIncident(incident), false),
	)
	if err != nil {
		return fmt.Errorf("failed to post incident to slack: %w", err)
	}
	return nil
}

// FormatPatternAlert renders an alert as Slack mrkdwn
func FormatPatternAlert(alert *database.PatternAlert, cluster *database.Cluster) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s *Pattern alert: %s* (%s)\n", severityEmoji(alert.Severity), alert.Department, alert.Severity))
	sb.WriteString(alert.Message)
	sb.WriteString("\n")

	if cluster != nil {
		sb.WriteString(fmt.Sprintf("\n*Cluster* #%d, %d tickets", cluster.ID, cluster.MemberCount()))
		if !cluster.FirstSeen.IsZero() {
			sb.WriteString(fmt.Sprintf(", first seen %s", cluster.FirstSeen.UTC().Format("2006-01-02 15:04 MST")))
			if cluster.LastSeen.After(cluster.FirstSeen) {
				sb.WriteString(fmt.Sprintf(" (over %s)", utils.FormatDuration(cluster.LastSeen.Sub(cluster.FirstSeen))))
			}
		}
		sb.WriteString("\n")
		if len(cluster.Keywords) > 0 {
			sb.WriteString(fmt.Sprintf("*Keywords* %s\n", strings.Join(cluster.Keywords, ", ")))
		}
	}
	return sb.String()
}

// FormatIncident renders an incident escalation as Slack mrkdwn
func FormatIncident(incident *database.IncidentTicket) string {
	var sb strings.Builder

	emoji := ":large_orange_circle:"
	if incident.Priority == database.IncidentPriorityUrgent {
		emoji = ":rotating_light:"
	}
	sb.WriteString(fmt.Sprintf("%s *%s*\n", emoji, incident.Title))
	sb.WriteString(fmt.Sprintf("*Priority* %s | *Department* %s | *Impacted users* %d\n",
		incident.Priority, incident.Department, incident.ImpactedUsers))
	if incident.Description != "" {
		sb.WriteString(utils.TruncateText(incident.Description, slackMaxDescription))
		sb.WriteString("\n")
	}
	return sb.String()
}

func severityEmoji(severity database.AlertSeverity) string {
	switch severity {
	case database.AlertSeverityCritical:
		return ":red_circle:"
	case database.AlertSeverityHigh:
		return ":large_orange_circle:"
	case database.AlertSeverityMedium:
		return ":large_yellow_circle:"
	default:
		return ":white_circle:"
	}
}
