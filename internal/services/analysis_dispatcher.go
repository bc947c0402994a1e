package services

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/metrics"
	"github.com/opsdesk/patternd/internal/utils"
)

// Analyzer runs the pattern analysis of one ticket
type Analyzer interface {
	Analyze(ctx context.Context, ticket *database.Ticket) AnalysisResult
}

// AnalysisDispatcher runs ticket analyses in the background so ingestion
// never waits on embedding or clustering.
type AnalysisDispatcher struct {
	analyzer Analyzer
	sem      *semaphore.Weighted
	timeout  time.Duration
	wg       sync.WaitGroup

	// Sync runs Dispatch inline. Used by tests.
	Sync bool

	// OnResult, when set, receives every finished result
	OnResult func(AnalysisResult)
}

// NewAnalysisDispatcher creates a dispatcher running at most concurrency
// analyses at once, each bounded by timeout
func NewAnalysisDispatcher(analyzer Analyzer, concurrency int, timeout time.Duration) *AnalysisDispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnalysisDispatcher{
		analyzer: analyzer,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		timeout:  timeout,
	}
}

// Dispatch schedules the analysis of ticket and returns immediately
func (d *AnalysisDispatcher) Dispatch(ticket *database.Ticket) {
	if d.Sync {
		d.run(ticket)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ticket)
	}()
}

func (d *AnalysisDispatcher) run(ticket *database.Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		log.Printf("AnalysisDispatcher: Dropped analysis of ticket %d: %v", ticket.ID, err)
		return
	}
	defer d.sem.Release(1)

	metrics.AnalysesInFlight.Inc()
	result := d.analyzer.Analyze(ctx, ticket)
	metrics.AnalysesInFlight.Dec()

	if result.Err != nil {
		log.Printf("AnalysisDispatcher: Analysis failed: %s", result)
	} else {
		log.Printf("AnalysisDispatcher: Analysis done: %s duration=%s", result, utils.FormatDuration(result.Duration))
	}

	if d.OnResult != nil {
		d.OnResult(result)
	}
}

// Wait blocks until every dispatched analysis has finished
func (d *AnalysisDispatcher) Wait() {
	d.wg.Wait()
}
