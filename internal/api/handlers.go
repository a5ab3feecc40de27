package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/storage"
	"github.com/bford21/vitalikrun/internal/leaderboard"
	"github.com/bford21/vitalikrun/internal/stream"
	"github.com/bford21/vitalikrun/internal/watch"
)

type farcasterPayload struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	PfpURL      string `json:"pfpUrl"`
}

type submitScoreRequest struct {
	WalletAddress string            `json:"walletAddress"`
	Score         int64             `json:"score"`
	EthCollected  int64             `json:"ethCollected"`
	BlocksPassed  int64             `json:"blocksPassed"`
	Signature     string            `json:"signature"`
	Message       string            `json:"message"`
	Farcaster     *farcasterPayload `json:"farcaster,omitempty"`
}

// entryPayload is the JSON shape of one leaderboard entry.
type entryPayload struct {
	WalletAddress        string  `json:"walletAddress"`
	ENSName              *string `json:"ensName,omitempty"`
	Score                int64   `json:"score"`
	EthCollected         int64   `json:"ethCollected"`
	BlocksPassed         int64   `json:"blocksPassed"`
	FarcasterFID         *int64  `json:"farcasterFid,omitempty"`
	FarcasterUsername    *string `json:"farcasterUsername,omitempty"`
	FarcasterDisplayName *string `json:"farcasterDisplayName,omitempty"`
	FarcasterPfpURL      *string `json:"farcasterPfpUrl,omitempty"`
	Rank                 int64   `json:"rank"`
	UpdatedAt            string  `json:"updatedAt"`
}

func toEntryPayload(entry *domain.RankedEntry) entryPayload {
	return entryPayload{
		WalletAddress:        entry.WalletAddress,
		ENSName:              entry.ENSName,
		Score:                entry.Score,
		EthCollected:         entry.EthCollected,
		BlocksPassed:         entry.BlocksPassed,
		FarcasterFID:         entry.FarcasterFID,
		FarcasterUsername:    entry.FarcasterUsername,
		FarcasterDisplayName: entry.FarcasterDisplayName,
		FarcasterPfpURL:      entry.FarcasterPfpURL,
		Rank:                 entry.Rank,
		UpdatedAt:            entry.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	var req submitScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	sub := domain.ScoreSubmission{
		WalletAddress: req.WalletAddress,
		Score:         req.Score,
		EthCollected:  req.EthCollected,
		BlocksPassed:  req.BlocksPassed,
		Signature:     req.Signature,
		Message:       req.Message,
	}
	if fc := req.Farcaster; fc != nil {
		sub.Farcaster = &domain.FarcasterIdentity{
			FID:         fc.FID,
			Username:    fc.Username,
			DisplayName: fc.DisplayName,
			PfpURL:      fc.PfpURL,
		}
	}

	result, err := s.submissions.Submit(r.Context(), sub)
	if err != nil {
		switch {
		case errors.Is(err, leaderboard.ErrInvalidSignature):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		case errors.Is(err, leaderboard.ErrMissingFields),
			errors.Is(err, leaderboard.ErrInvalidScoreData),
			errors.Is(err, leaderboard.ErrScoreMismatch),
			errors.Is(err, leaderboard.ErrMessageMismatch):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			s.log.Error("Score submission failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		return
	}

	if !result.Improved {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        false,
			"message":        "Score not higher than existing score",
			"currentScore":   result.CurrentScore,
			"submittedScore": result.SubmittedScore,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"rank":          result.Rank,
		"score":         result.Score,
		"walletAddress": result.WalletAddress,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 0)

	page, err := s.query.ListTop(r.Context(), offset, limit)
	if err != nil {
		s.log.Error("Leaderboard query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	entries := make([]entryPayload, 0, len(page.Entries))
	for _, entry := range page.Entries {
		entries = append(entries, toEntryPayload(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leaderboard": entries,
		"total":       page.Total,
		"offset":      page.Offset,
		"limit":       page.Limit,
	})
}

func (s *Server) handleUserScore(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	entry, err := s.query.GetByWallet(r.Context(), address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
			return
		}
		s.log.Error("User score query failed", "wallet", address, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toEntryPayload(entry))
}

// handleBlockStream upgrades the response to a server-sent-event stream and
// keeps the subscriber registered until the client disconnects.
func (s *Server) handleBlockStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sink, err := stream.NewSSESink(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id, err := s.broadcaster.Register(sink)
	if err != nil {
		s.log.Warn("Failed to register stream subscriber", "error", err)
		return
	}
	defer s.broadcaster.Unregister(id)

	select {
	case <-r.Context().Done():
	case <-s.closing:
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type watcherStatus struct {
	Chain          string `json:"chain"`
	State          string `json:"state"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

func (s *Server) handleWatcherHealth(w http.ResponseWriter, r *http.Request) {
	statuses := make([]watcherStatus, 0, len(s.watchers))
	healthy := true
	for _, watcher := range s.watchers {
		state := watcher.State()
		if state != watch.StateSubscribed {
			healthy = false
		}
		statuses = append(statuses, watcherStatus{
			Chain:          string(watcher.Chain()),
			State:          string(state),
			SubscriptionID: watcher.SubscriptionID(),
		})
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"watchers":    statuses,
		"subscribers": s.broadcaster.Subscribers(),
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
