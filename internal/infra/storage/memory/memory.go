package memory

import (
	"context"
	"sort"
	"time"

	"sync"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/storage"
)

// LeaderboardRepo is an in-memory storage.LeaderboardRepository used when no
// database is configured and throughout the test suite. The conditional
// upsert holds the write lock for the whole compare-and-write, giving the
// same atomicity as the SQL statement.
type LeaderboardRepo struct {
	mu      sync.RWMutex
	entries map[string]*domain.LeaderboardEntry
}

// NewLeaderboardRepo creates an empty in-memory repository.
func NewLeaderboardRepo() *LeaderboardRepo {
	return &LeaderboardRepo{entries: make(map[string]*domain.LeaderboardEntry)}
}

func (r *LeaderboardRepo) UpsertIfHigher(ctx context.Context, entry *domain.LeaderboardEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	existing, ok := r.entries[entry.WalletAddress]
	if ok && entry.Score <= existing.Score {
		return false, nil
	}

	stored := *entry
	stored.UpdatedAt = now
	if ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	r.entries[entry.WalletAddress] = &stored
	return true, nil
}

func (r *LeaderboardRepo) GetByWallet(ctx context.Context, address string) (*domain.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

func (r *LeaderboardRepo) Rank(ctx context.Context, score int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var greater int64
	for _, entry := range r.entries {
		if entry.Score > score {
			greater++
		}
	}
	return greater + 1, nil
}

func (r *LeaderboardRepo) ListTop(ctx context.Context, offset, limit int) ([]*domain.RankedEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := make([]*domain.LeaderboardEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		sorted = append(sorted, entry)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].WalletAddress < sorted[j].WalletAddress
	})

	// Standard competition ranking: ties share a rank, the next distinct
	// score skips the shared positions.
	ranked := make([]*domain.RankedEntry, 0, len(sorted))
	for i, entry := range sorted {
		rank := int64(i + 1)
		if i > 0 && entry.Score == sorted[i-1].Score {
			rank = ranked[i-1].Rank
		}
		cp := *entry
		ranked = append(ranked, &domain.RankedEntry{LeaderboardEntry: cp, Rank: rank})
	}

	if offset >= len(ranked) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[offset:end], nil
}

func (r *LeaderboardRepo) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries)), nil
}
