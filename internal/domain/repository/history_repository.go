package repository

import (
	"context"
	"time"

	"github.com/vertextoedge/archive-fetch/internal/domain"
)

// HistoryRepository persists the record of past download runs
type HistoryRepository interface {
	// CreateRun inserts a run in the running state
	CreateRun(ctx context.Context, run *domain.RunRecord) error

	// FinishRun stores the final counters and status of a run
	FinishRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun returns a run by ID, or nil if it does not exist
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRecent returns the newest runs, optionally restricted to one identifier
	ListRecent(ctx context.Context, identifier string, limit int) ([]*domain.RunRecord, error)

	// GetStats aggregates all recorded runs
	GetStats(ctx context.Context) (*domain.HistoryStats, error)

	// PruneOlderThan removes finished runs started before now minus age
	PruneOlderThan(ctx context.Context, age time.Duration) (int, error)
}
