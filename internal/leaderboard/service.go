package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/storage"
	"github.com/bford21/vitalikrun/internal/metrics"
)

// Score weighting: one point of score per collected ETH and per passed
// block, both worth 100.
const (
	ethPointValue   = 100
	blockPointValue = 100
)

// SubmitResult is the outcome of an accepted or not-improved submission.
// Validation and authentication failures surface as errors instead.
type SubmitResult struct {
	Improved       bool
	Rank           int64
	Score          int64
	WalletAddress  string
	CurrentScore   int64
	SubmittedScore int64
}

// Service authenticates and conditionally commits gameplay results.
type Service struct {
	repo storage.LeaderboardRepository
	log  *slog.Logger
}

// NewService creates a submission service over the given repository.
func NewService(repo storage.LeaderboardRepository) *Service {
	return &Service{repo: repo, log: slog.Default()}
}

// Submit validates, authenticates and conditionally commits one submission.
//
// The pipeline runs in a fixed order: structural checks, deterministic score
// recomputation, message binding, signature recovery, then a single atomic
// conditional write. At most one durable write happens per call. A valid
// submission that does not beat the stored score is an expected outcome, not
// an error.
func (s *Service) Submit(ctx context.Context, sub domain.ScoreSubmission) (*SubmitResult, error) {
	if sub.WalletAddress == "" || sub.Signature == "" || sub.Message == "" || sub.Score == 0 {
		return nil, s.reject(ErrMissingFields)
	}
	if sub.Score < 0 || sub.EthCollected < 0 || sub.BlocksPassed < 0 {
		return nil, s.reject(ErrInvalidScoreData)
	}

	expected := sub.EthCollected*ethPointValue + sub.BlocksPassed*blockPointValue
	if expected != sub.Score {
		return nil, s.reject(ErrScoreMismatch)
	}

	// The signed message must literally carry the claimed numbers, so a
	// signature cannot be replayed against altered values.
	for _, want := range []string{
		fmt.Sprintf("Score: %d", sub.Score),
		fmt.Sprintf("ETH Collected: %d", sub.EthCollected),
		fmt.Sprintf("Blocks Passed: %d", sub.BlocksPassed),
	} {
		if !strings.Contains(sub.Message, want) {
			return nil, s.reject(ErrMessageMismatch)
		}
	}

	wallet := domain.NormalizeAddress(sub.WalletAddress)
	recovered, err := RecoverSigner(sub.Message, sub.Signature)
	if err != nil {
		s.log.Warn("Signature recovery failed", "wallet", wallet, "error", err)
		return nil, s.reject(ErrInvalidSignature)
	}
	if domain.NormalizeAddress(recovered.Hex()) != wallet {
		s.log.Warn("Signature does not match claimed wallet",
			"wallet", wallet, "recovered", domain.NormalizeAddress(recovered.Hex()))
		return nil, s.reject(ErrInvalidSignature)
	}

	entry := &domain.LeaderboardEntry{
		WalletAddress: wallet,
		Score:         sub.Score,
		EthCollected:  sub.EthCollected,
		BlocksPassed:  sub.BlocksPassed,
		Signature:     sub.Signature,
		Message:       sub.Message,
	}
	if fc := sub.Farcaster; fc != nil && fc.FID != 0 {
		entry.FarcasterFID = &fc.FID
		entry.FarcasterUsername = optional(fc.Username)
		entry.FarcasterDisplayName = optional(fc.DisplayName)
		entry.FarcasterPfpURL = optional(fc.PfpURL)
	}

	applied, err := s.repo.UpsertIfHigher(ctx, entry)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store submission: %w", err)
	}

	if !applied {
		current, err := s.repo.GetByWallet(ctx, wallet)
		if err != nil {
			metrics.SubmissionsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load current score: %w", err)
		}
		metrics.SubmissionsTotal.WithLabelValues("not_improved").Inc()
		s.log.Info("Score not improved",
			"wallet", wallet, "current", current.Score, "submitted", sub.Score)
		return &SubmitResult{
			Improved:       false,
			WalletAddress:  wallet,
			CurrentScore:   current.Score,
			SubmittedScore: sub.Score,
		}, nil
	}

	rank, err := s.repo.Rank(ctx, sub.Score)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("compute rank: %w", err)
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	s.log.Info("Score committed", "wallet", wallet, "score", sub.Score, "rank", rank)
	return &SubmitResult{
		Improved:      true,
		Rank:          rank,
		Score:         sub.Score,
		WalletAddress: wallet,
	}, nil
}

func (s *Service) reject(err error) error {
	metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
