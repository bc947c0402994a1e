package services

import (
	"context"
	"fmt"
	"log"

	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/embedding"
	"github.com/opsdesk/patternd/internal/textnorm"
)

// EmbeddingStore caches ticket embeddings
type EmbeddingStore interface {
	SaveTicketEmbedding(ctx context.Context, id uint, embedding []float64) error
}

// TicketEmbedder embeds the normalized text of a ticket once and remembers the
// vector on the ticket row.
type TicketEmbedder struct {
	provider embedding.Provider
	store    EmbeddingStore
}

// NewTicketEmbedder creates a ticket embedder
func NewTicketEmbedder(provider embedding.Provider, store EmbeddingStore) *TicketEmbedder {
	return &TicketEmbedder{provider: provider, store: store}
}

// Embed returns the ticket's embedding, computing and storing it if needed.
func (e *TicketEmbedder) Embed(ctx context.Context, ticket *database.Ticket) ([]float64, error) {
	if len(ticket.Embedding) > 0 {
		return ticket.Embedding, nil
	}

	vec, err := e.provider.Embed(ctx, textnorm.Normalize(ticket.Text()))
	if err != nil {
		return nil, fmt.Errorf("failed to embed ticket %d: %w", ticket.ID, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("failed to embed ticket %d: %w", ticket.ID, embedding.ErrEmptyEmbedding)
	}

	ticket.Embedding = vec
	if err := e.store.SaveTicketEmbedding(ctx, ticket.ID, vec); err != nil {
		log.Printf("TicketEmbedder: Failed to cache embedding for ticket %d: %v", ticket.ID, err)
	}
	return vec, nil
}
