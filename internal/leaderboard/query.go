package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// PageCache is an optional read-side cache for serialized leaderboard pages.
// Implementations are expected to fail soft: a cache miss and a cache error
// look the same to the query layer.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
}

// Page is one read view over the leaderboard.
type Page struct {
	Entries []*domain.RankedEntry
	Total   int64
	Offset  int
	Limit   int
}

// Query provides read-only ranked views over the leaderboard store.
type Query struct {
	repo  storage.LeaderboardRepository
	cache PageCache
	log   *slog.Logger
}

// NewQuery creates a query service. cache may be nil.
func NewQuery(repo storage.LeaderboardRepository, cache PageCache) *Query {
	return &Query{repo: repo, cache: cache, log: slog.Default()}
}

// ListTop returns entries ordered by score descending with ranks and the
// total entry count. limit is clamped server-side to 100 regardless of the
// requested value; non-positive values fall back to the default of 50.
func (q *Query) ListTop(ctx context.Context, offset, limit int) (*Page, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	cacheKey := fmt.Sprintf("leaderboard:page:%d:%d", offset, limit)
	if q.cache != nil {
		if payload, ok := q.cache.Get(ctx, cacheKey); ok {
			var page Page
			if err := json.Unmarshal(payload, &page); err == nil {
				return &page, nil
			}
			q.log.Warn("Discarding unreadable cached page", "key", cacheKey)
		}
	}

	entries, err := q.repo.ListTop(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	total, err := q.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count leaderboard: %w", err)
	}

	page := &Page{Entries: entries, Total: total, Offset: offset, Limit: limit}
	if q.cache != nil {
		if payload, err := json.Marshal(page); err == nil {
			q.cache.Set(ctx, cacheKey, payload)
		}
	}
	return page, nil
}

// GetByWallet returns one wallet's entry with its rank, or
// storage.ErrNotFound when the wallet never submitted.
func (q *Query) GetByWallet(ctx context.Context, address string) (*domain.RankedEntry, error) {
	wallet := domain.NormalizeAddress(address)
	entry, err := q.repo.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}
	rank, err := q.repo.Rank(ctx, entry.Score)
	if err != nil {
		return nil, fmt.Errorf("compute rank: %w", err)
	}
	return &domain.RankedEntry{LeaderboardEntry: *entry, Rank: rank}, nil
}
