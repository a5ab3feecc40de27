package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/storage"
)

// LeaderboardRepo implements storage.LeaderboardRepository using PostgreSQL.
type LeaderboardRepo struct {
	db *DB
}

// NewLeaderboardRepo creates a new PostgreSQL leaderboard repository.
func NewLeaderboardRepo(db *DB) *LeaderboardRepo {
	return &LeaderboardRepo{db: db}
}

type entryRow struct {
	WalletAddress        string         `db:"wallet_address"`
	ENSName              sql.NullString `db:"ens_name"`
	Score                int64          `db:"score"`
	EthCollected         int64          `db:"eth_collected"`
	BlocksPassed         int64          `db:"blocks_passed"`
	Signature            string         `db:"signature"`
	Message              string         `db:"message"`
	FarcasterFID         sql.NullInt64  `db:"farcaster_fid"`
	FarcasterUsername    sql.NullString `db:"farcaster_username"`
	FarcasterDisplayName sql.NullString `db:"farcaster_display_name"`
	FarcasterPfpURL      sql.NullString `db:"farcaster_pfp_url"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

type rankedRow struct {
	entryRow
	Rank int64 `db:"rank"`
}

const entryColumns = `wallet_address, ens_name, score, eth_collected, blocks_passed,
	signature, message, farcaster_fid, farcaster_username, farcaster_display_name,
	farcaster_pfp_url, created_at, updated_at`

// UpsertIfHigher performs the conditional commit as a single statement: the
// guard lives in the ON CONFLICT clause, so two racing submissions for one
// wallet serialize inside the database and the lower score can never win.
func (r *LeaderboardRepo) UpsertIfHigher(ctx context.Context, entry *domain.LeaderboardEntry) (bool, error) {
	query := `
		INSERT INTO leaderboard (
			wallet_address, score, eth_collected, blocks_passed, signature, message,
			farcaster_fid, farcaster_username, farcaster_display_name, farcaster_pfp_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (wallet_address)
		DO UPDATE SET
			score = EXCLUDED.score,
			eth_collected = EXCLUDED.eth_collected,
			blocks_passed = EXCLUDED.blocks_passed,
			signature = EXCLUDED.signature,
			message = EXCLUDED.message,
			farcaster_fid = COALESCE(EXCLUDED.farcaster_fid, leaderboard.farcaster_fid),
			farcaster_username = COALESCE(EXCLUDED.farcaster_username, leaderboard.farcaster_username),
			farcaster_display_name = COALESCE(EXCLUDED.farcaster_display_name, leaderboard.farcaster_display_name),
			farcaster_pfp_url = COALESCE(EXCLUDED.farcaster_pfp_url, leaderboard.farcaster_pfp_url),
			updated_at = NOW()
		WHERE EXCLUDED.score > leaderboard.score
		RETURNING wallet_address`

	var wallet string
	err := r.db.QueryRowxContext(ctx, query,
		entry.WalletAddress,
		entry.Score,
		entry.EthCollected,
		entry.BlocksPassed,
		entry.Signature,
		entry.Message,
		entry.FarcasterFID,
		entry.FarcasterUsername,
		entry.FarcasterDisplayName,
		entry.FarcasterPfpURL,
	).Scan(&wallet)
	if errors.Is(err, sql.ErrNoRows) {
		// Guard rejected the update: the stored score is not lower.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert leaderboard entry: %w", err)
	}
	return true, nil
}

// GetByWallet retrieves an entry by its case-normalized wallet address.
func (r *LeaderboardRepo) GetByWallet(ctx context.Context, address string) (*domain.LeaderboardEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM leaderboard WHERE wallet_address = $1`, entryColumns)

	var row entryRow
	err := r.db.GetContext(ctx, &row, query, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard entry: %w", err)
	}
	return row.toDomain(), nil
}

// Rank returns 1 + the count of entries scoring strictly higher.
func (r *LeaderboardRepo) Rank(ctx context.Context, score int64) (int64, error) {
	var rank int64
	err := r.db.GetContext(ctx, &rank,
		`SELECT COUNT(*) + 1 FROM leaderboard WHERE score > $1`, score)
	if err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return rank, nil
}

// ListTop returns entries by descending score with their competition rank.
// The window function runs over the full table, so ranks stay correct on
// any page.
func (r *LeaderboardRepo) ListTop(ctx context.Context, offset, limit int) ([]*domain.RankedEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s, RANK() OVER (ORDER BY score DESC) AS rank
		FROM leaderboard
		ORDER BY score DESC, wallet_address ASC
		LIMIT $1 OFFSET $2`, entryColumns)

	var rows []rankedRow
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}

	entries := make([]*domain.RankedEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, &domain.RankedEntry{
			LeaderboardEntry: *row.toDomain(),
			Rank:             row.Rank,
		})
	}
	return entries, nil
}

// Count returns the total number of leaderboard entries.
func (r *LeaderboardRepo) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM leaderboard`); err != nil {
		return 0, fmt.Errorf("failed to count leaderboard: %w", err)
	}
	return total, nil
}

func (row *entryRow) toDomain() *domain.LeaderboardEntry {
	entry := &domain.LeaderboardEntry{
		WalletAddress: row.WalletAddress,
		Score:         row.Score,
		EthCollected:  row.EthCollected,
		BlocksPassed:  row.BlocksPassed,
		Signature:     row.Signature,
		Message:       row.Message,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.ENSName.Valid {
		entry.ENSName = &row.ENSName.String
	}
	if row.FarcasterFID.Valid {
		entry.FarcasterFID = &row.FarcasterFID.Int64
	}
	if row.FarcasterUsername.Valid {
		entry.FarcasterUsername = &row.FarcasterUsername.String
	}
	if row.FarcasterDisplayName.Valid {
		entry.FarcasterDisplayName = &row.FarcasterDisplayName.String
	}
	if row.FarcasterPfpURL.Valid {
		entry.FarcasterPfpURL = &row.FarcasterPfpURL.String
	}
	return entry
}
