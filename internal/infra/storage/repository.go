package storage

import (
	"context"
	"errors"

	"github.com/bford21/vitalikrun/internal/core/domain"
)

var (
	// ErrNotFound is returned when a wallet has no leaderboard entry
	ErrNotFound = errors.New("leaderboard entry not found")
)

// LeaderboardRepository handles leaderboard storage operations. It is the
// only write path to leaderboard entries; every mutation goes through the
// single conditional upsert.
type LeaderboardRepository interface {
	// UpsertIfHigher inserts the entry, or overwrites the existing one for
	// the same wallet only when the new score is strictly greater. The
	// compare-and-write is a single atomic operation; concurrent submissions
	// for one wallet can never interleave between read and write. Returns
	// whether the write applied.
	UpsertIfHigher(ctx context.Context, entry *domain.LeaderboardEntry) (bool, error)

	// GetByWallet retrieves the entry for a case-normalized wallet address.
	// Returns ErrNotFound when the wallet has no entry.
	GetByWallet(ctx context.Context, address string) (*domain.LeaderboardEntry, error)

	// Rank returns 1 + the count of entries with a strictly greater score.
	Rank(ctx context.Context, score int64) (int64, error)

	// ListTop returns entries ordered by score descending, each with its
	// 1-based rank computed at query time.
	ListTop(ctx context.Context, offset, limit int) ([]*domain.RankedEntry, error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int64, error)
}
