package domain

import (
	"strings"
	"time"
)

// ScoreSubmission is an inbound, untrusted gameplay result. All fields come
// straight from the client; nothing here is authenticated yet.
type ScoreSubmission struct {
	WalletAddress string
	Score         int64
	EthCollected  int64
	BlocksPassed  int64
	Signature     string
	Message       string
	Farcaster     *FarcasterIdentity
}

// FarcasterIdentity carries optional social-identity fields attached to a
// submission when the player connected through a Farcaster frame.
type FarcasterIdentity struct {
	FID         int64
	Username    string
	DisplayName string
	PfpURL      string
}

// LeaderboardEntry is the durable record for one wallet. Exactly one entry
// exists per wallet address; the stored score never decreases across updates.
type LeaderboardEntry struct {
	WalletAddress        string
	ENSName              *string
	Score                int64
	EthCollected         int64
	BlocksPassed         int64
	Signature            string
	Message              string
	FarcasterFID         *int64
	FarcasterUsername    *string
	FarcasterDisplayName *string
	FarcasterPfpURL      *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RankedEntry is a leaderboard entry with its 1-based rank computed at query
// time. Rank is never stored.
type RankedEntry struct {
	LeaderboardEntry
	Rank int64
}

// NormalizeAddress lowercases a wallet address so it can serve as a stable
// primary key regardless of checksum casing.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
