package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/opsdesk/patternd/internal/config"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/embedding"
	"github.com/opsdesk/patternd/internal/metrics"
)

// SpamStore reads recent submissions and records spam detections
type SpamStore interface {
	RecentTicketsByUser(ctx context.Context, userID string, since time.Time, upTo *database.Ticket) ([]database.Ticket, error)
	CreateSpamDetection(ctx context.Context, detection *database.SpamDetection) error
}

// SpamDetector flags rapid-fire and duplicate submissions
type SpamDetector struct {
	store    SpamStore
	embedder *TicketEmbedder
	policy   *config.PolicySource
	now      func() time.Time
}

// NewSpamDetector creates a spam detector
func NewSpamDetector(store SpamStore, embedder *TicketEmbedder, policy *config.PolicySource) *SpamDetector {
	return &SpamDetector{
		store:    store,
		embedder: embedder,
		policy:   policy,
		now:      time.Now,
	}
}

// RapidSubmissionConfidence returns the confidence for count submissions in
// the window: 60 at the threshold, 20 more per extra ticket, capped at 100.
func RapidSubmissionConfidence(count, threshold int) int {
	confidence := 60 + (count-threshold)*20
	if confidence > 100 {
		return 100
	}
	return confidence
}

// DuplicateConfidence converts a similarity into a 0-100 confidence
func DuplicateConfidence(similarity float64) int {
	confidence := int(math.Round(similarity * 100))
	if confidence > 100 {
		return 100
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// Check records spam detections for ticket, which must already be stored.
// Only the user's submissions up to ticket, within the window before its
// creation, are considered, so analysing tickets out of order gives the same
// flags. The ticket counts toward its own rapid-submission threshold. At most
// one duplicate detection is recorded per ticket.
func (d *SpamDetector) Check(ctx context.Context, ticket *database.Ticket) ([]database.SpamDetection, error) {
	pol := d.policy.Current()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = d.now()
	}
	since := ticket.CreatedAt.Add(-pol.SpamWindow())

	recent, err := d.store.RecentTicketsByUser(ctx, ticket.UserID, since, ticket)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent tickets for user %s: %w", ticket.UserID, err)
	}

	count := len(recent)
	if !containsTicket(recent, ticket.ID) {
		count++
	}

	var flagged []database.SpamDetection

	if count >= pol.Spam.RapidSubmissionThreshold {
		detection := &database.SpamDetection{
			TicketID:   ticket.ID,
			UserID:     ticket.UserID,
			Department: ticket.Department,
			Reason:     database.SpamReasonRapidSubmission,
			Confidence: RapidSubmissionConfidence(count, pol.Spam.RapidSubmissionThreshold),
		}
		if err := d.record(ctx, detection); err != nil {
			return flagged, err
		}
		flagged = append(flagged, *detection)
	}

	var current []float64
	for i := range recent {
		other := &recent[i]
		if other.ID == ticket.ID {
			continue
		}

		if current == nil {
			current, err = d.embedder.Embed(ctx, ticket)
			if err != nil {
				return flagged, err
			}
		}
		otherVec, err := d.embedder.Embed(ctx, other)
		if err != nil {
			return flagged, err
		}

		similarity := embedding.CosineSimilarity(current, otherVec)
		if similarity < pol.Spam.DuplicateSimilarityThreshold {
			continue
		}

		detection := &database.SpamDetection{
			TicketID:   ticket.ID,
			UserID:     ticket.UserID,
			Department: ticket.Department,
			Reason:     database.SpamReasonDuplicateContent,
			Confidence: DuplicateConfidence(similarity),
		}
		if err := d.record(ctx, detection); err != nil {
			return flagged, err
		}
		flagged = append(flagged, *detection)
		break
	}

	return flagged, nil
}

func (d *SpamDetector) record(ctx context.Context, detection *database.SpamDetection) error {
	if err := d.store.CreateSpamDetection(ctx, detection); err != nil {
		return err
	}
	metrics.SpamFlagsTotal.WithLabelValues(string(detection.Reason)).Inc()
	log.Printf("SpamDetector: Flagged ticket %d from user %s as %s (confidence %d)",
		detection.TicketID, detection.UserID, detection.Reason, detection.Confidence)
	return nil
}

func containsTicket(tickets []database.Ticket, id uint) bool {
	for _, t := range tickets {
		if t.ID == id {
			return true
		}
	}
	return false
}
