package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opsdesk/patternd/internal/config"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/embedding"
	"github.com/opsdesk/patternd/internal/metrics"
	"github.com/opsdesk/patternd/internal/textnorm"
)

// maxMergeAttempts bounds the re-read/re-match loop when a cluster changes
// between reading it and writing the merge.
const maxMergeAttempts = 3

// ClusterStore is the per-department cluster storage used by the detector
type ClusterStore interface {
	ActiveClusters(ctx context.Context, department string) ([]database.Cluster, error)
	CreateCluster(ctx context.Context, cluster *database.Cluster) error
	UpdateClusterMembership(ctx context.Context, cluster *database.Cluster) error
}

// AnalysisOutcome says what happened to a ticket during analysis
type AnalysisOutcome string

const (
	OutcomeMerged  AnalysisOutcome = "merged"
	OutcomeCreated AnalysisOutcome = "created"
	OutcomeSkipped AnalysisOutcome = "skipped"
)

// AnalysisResult reports one ticket analysis. It is only ever logged; ticket
// ingestion does not depend on it.
type AnalysisResult struct {
	TicketID    uint
	Department  string
	Outcome     AnalysisOutcome
	ClusterID   uint
	ClusterSize int
	Similarity  float64
	Alert       *database.PatternAlert
	SpamFlags   []database.SpamDetection
	SpamErr     error
	Err         error
	Duration    time.Duration
}

// String formats the result for logs
func (r AnalysisResult) String() string {
	s := fmt.Sprintf("ticket=%d department=%s outcome=%s", r.TicketID, r.Department, r.Outcome)
	if r.ClusterID != 0 {
		s += fmt.Sprintf(" cluster=%d size=%d", r.ClusterID, r.ClusterSize)
	}
	if r.Outcome == OutcomeMerged {
		s += fmt.Sprintf(" similarity=%.3f", r.Similarity)
	}
	if r.Alert != nil {
		s += fmt.Sprintf(" alert=%d severity=%s", r.Alert.ID, r.Alert.Severity)
	}
	if len(r.SpamFlags) > 0 {
		s += fmt.Sprintf(" spam_flags=%d", len(r.SpamFlags))
	}
	if r.SpamErr != nil {
		s += fmt.Sprintf(" spam_error=%q", r.SpamErr.Error())
	}
	if r.Err != nil {
		s += fmt.Sprintf(" error=%q", r.Err.Error())
	}
	return s
}

// PatternDetector clusters incoming tickets by embedding similarity within
// their department
type PatternDetector struct {
	store    ClusterStore
	embedder *TicketEmbedder
	policy   *config.PolicySource
	alerts   *AlertPolicy
	spam     *SpamDetector
	now      func() time.Time
}

// NewPatternDetector creates a pattern detector. spam may be nil to skip spam checks.
func NewPatternDetector(store ClusterStore, embedder *TicketEmbedder, policy *config.PolicySource, alerts *AlertPolicy, spam *SpamDetector) *PatternDetector {
	return &PatternDetector{
		store:    store,
		embedder: embedder,
		policy:   policy,
		alerts:   alerts,
		spam:     spam,
		now:      time.Now,
	}
}

// Analyze runs spam checks and clusters ticket. It never returns an error;
// failures are reported in the result.
func (d *PatternDetector) Analyze(ctx context.Context, ticket *database.Ticket) AnalysisResult {
	start := time.Now()
	result := AnalysisResult{
		TicketID:   ticket.ID,
		Department: ticket.Department,
		Outcome:    OutcomeSkipped,
	}

	if d.spam != nil {
		result.SpamFlags, result.SpamErr = d.spam.Check(ctx, ticket)
	}

	if err := d.cluster(ctx, ticket, &result); err != nil {
		result.Outcome = OutcomeSkipped
		result.Err = err
	}

	result.Duration = time.Since(start)
	metrics.AnalysisDuration.Observe(result.Duration.Seconds())
	metrics.TicketsAnalyzedTotal.WithLabelValues(ticket.Department, string(result.Outcome)).Inc()
	return result
}

func (d *PatternDetector) cluster(ctx context.Context, ticket *database.Ticket, result *AnalysisResult) error {
	vec, err := d.embedder.Embed(ctx, ticket)
	if err != nil {
		return err
	}
	keywords := textnorm.ExtractKeywords(ticket.Text())

	for attempt := 1; attempt <= maxMergeAttempts; attempt++ {
		pol := d.policy.Current()

		clusters, err := d.store.ActiveClusters(ctx, ticket.Department)
		if err != nil {
			return fmt.Errorf("failed to load clusters for %s: %w", ticket.Department, err)
		}

		match, similarity := bestMatch(clusters, vec, pol.SimilarityThreshold)
		if match == nil {
			return d.createCluster(ctx, ticket, vec, keywords, result)
		}

		if match.MemberTicketIDs.Contains(ticket.ID) {
			result.Outcome = OutcomeMerged
			result.ClusterID = match.ID
			result.ClusterSize = match.MemberCount()
			result.Similarity = similarity
			return nil
		}

		oldCount := match.MemberCount()
		match.CentroidEmbedding = embedding.UpdateCentroid(match.CentroidEmbedding, vec, oldCount)
		match.MemberTicketIDs = append(match.MemberTicketIDs, ticket.ID)
		match.LastSeen = d.now()

		err = d.store.UpdateClusterMembership(ctx, match)
		if errors.Is(err, database.ErrVersionConflict) {
			metrics.ClusterMergeConflictsTotal.Inc()
			log.Printf("PatternDetector: Cluster %d changed while merging ticket %d, retrying (attempt %d/%d)",
				match.ID, ticket.ID, attempt, maxMergeAttempts)
			continue
		}
		if err != nil {
			return err
		}

		result.Outcome = OutcomeMerged
		result.ClusterID = match.ID
		result.ClusterSize = match.MemberCount()
		result.Similarity = similarity

		alert, err := d.alerts.Evaluate(ctx, match)
		if err != nil {
			log.Printf("PatternDetector: Failed to evaluate alert threshold for cluster %d: %v", match.ID, err)
		}
		result.Alert = alert
		return nil
	}

	return fmt.Errorf("cluster merge for ticket %d kept conflicting after %d attempts: %w",
		ticket.ID, maxMergeAttempts, database.ErrVersionConflict)
}

func (d *PatternDetector) createCluster(ctx context.Context, ticket *database.Ticket, vec []float64, keywords []string, result *AnalysisResult) error {
	now := d.now()
	c := &database.Cluster{
		Department:        ticket.Department,
		Keywords:          keywords,
		CentroidEmbedding: append(database.Vector(nil), vec...),
		MemberTicketIDs:   database.IDList{ticket.ID},
		FirstSeen:         now,
		LastSeen:          now,
	}
	if err := d.store.CreateCluster(ctx, c); err != nil {
		return err
	}

	result.Outcome = OutcomeCreated
	result.ClusterID = c.ID
	result.ClusterSize = 1
	return nil
}

// bestMatch returns the first cluster reaching the highest similarity at or
// above threshold, or nil when none qualifies.
func bestMatch(clusters []database.Cluster, vec []float64, threshold float64) (*database.Cluster, float64) {
	var best *database.Cluster
	bestSim := 0.0
	for i := range clusters {
		sim := embedding.CosineSimilarity(vec, clusters[i].CentroidEmbedding)
		if !(sim >= threshold) {
			continue
		}
		if best == nil || sim > bestSim {
			best = &clusters[i]
			bestSim = sim
		}
	}
	return best, bestSim
}
