package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/storage/memory"
	"github.com/bford21/vitalikrun/internal/leaderboard"
	"github.com/bford21/vitalikrun/internal/stream"
	"github.com/bford21/vitalikrun/internal/watch"
)

type testEnv struct {
	server      *Server
	repo        *memory.LeaderboardRepo
	broadcaster *stream.Broadcaster
}

func newTestEnv(t *testing.T, watchers ...*watch.Watcher) *testEnv {
	t.Helper()
	repo := memory.NewLeaderboardRepo()
	broadcaster := stream.NewBroadcaster()
	server := NewServer(0, "",
		leaderboard.NewService(repo),
		leaderboard.NewQuery(repo, nil),
		broadcaster,
		watchers,
	)
	return &testEnv{server: server, repo: repo, broadcaster: broadcaster}
}

func signedSubmission(t *testing.T, key *ecdsa.PrivateKey, eth, blocks int64) map[string]any {
	t.Helper()
	score := eth*100 + blocks*100
	message := fmt.Sprintf("Score: %d\nETH Collected: %d\nBlocks Passed: %d", score, eth, blocks)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return map[string]any{
		"walletAddress": crypto.PubkeyToAddress(key.PublicKey).Hex(),
		"score":         score,
		"ethCollected":  eth,
		"blocksPassed":  blocks,
		"message":       message,
		"signature":     hexutil.Encode(sig),
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("Decode %s response: %v", path, err)
		}
	}
	return rec
}

func TestSubmitScore_Accepted(t *testing.T) {
	env := newTestEnv(t)
	key, _ := crypto.GenerateKey()

	rec := postJSON(t, env.server.Handler(), "/api/submit-score", signedSubmission(t, key, 2, 1))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success       bool   `json:"success"`
		Rank          int64  `json:"rank"`
		Score         int64  `json:"score"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if !resp.Success || resp.Rank != 1 || resp.Score != 300 {
		t.Errorf("Response = %+v, want success rank 1 score 300", resp)
	}
	if resp.WalletAddress != strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()) {
		t.Errorf("WalletAddress = %q, want lowercase signer address", resp.WalletAddress)
	}
}

func TestSubmitScore_NotImproved(t *testing.T) {
	env := newTestEnv(t)
	key, _ := crypto.GenerateKey()
	body := signedSubmission(t, key, 1, 1)

	if rec := postJSON(t, env.server.Handler(), "/api/submit-score", body); rec.Code != http.StatusOK {
		t.Fatalf("First submit status = %d", rec.Code)
	}

	rec := postJSON(t, env.server.Handler(), "/api/submit-score", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	var resp struct {
		Success        bool  `json:"success"`
		CurrentScore   int64 `json:"currentScore"`
		SubmittedScore int64 `json:"submittedScore"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	if resp.Success || resp.CurrentScore != 200 || resp.SubmittedScore != 200 {
		t.Errorf("Response = %+v, want success=false 200/200", resp)
	}
}

func TestSubmitScore_Rejections(t *testing.T) {
	env := newTestEnv(t)
	key, _ := crypto.GenerateKey()
	attacker, _ := crypto.GenerateKey()

	valid := signedSubmission(t, key, 1, 1)

	forged := signedSubmission(t, key, 1, 1)
	forged["signature"] = signedSubmission(t, attacker, 1, 1)["signature"]

	mismatched := signedSubmission(t, key, 1, 1)
	mismatched["score"] = 9999

	missing := signedSubmission(t, key, 1, 1)
	missing["walletAddress"] = ""

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
	}{
		{"forged signature", forged, http.StatusUnauthorized},
		{"score mismatch", mismatched, http.StatusBadRequest},
		{"missing wallet", missing, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, env.server.Handler(), "/api/submit-score", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d; body: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	// The valid body still goes through afterwards.
	if rec := postJSON(t, env.server.Handler(), "/api/submit-score", valid); rec.Code != http.StatusOK {
		t.Errorf("Valid submit status = %d, want 200", rec.Code)
	}
}

func TestSubmitScore_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/submit-score", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestLeaderboard_ListAndClamp(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 4; i++ {
		entry := &domain.LeaderboardEntry{
			WalletAddress: fmt.Sprintf("0x%040d", i),
			Score:         int64(i * 100),
		}
		if _, err := env.repo.UpsertIfHigher(context.Background(), entry); err != nil {
			t.Fatalf("Seed failed: %v", err)
		}
	}

	var resp struct {
		Leaderboard []struct {
			WalletAddress string `json:"walletAddress"`
			Score         int64  `json:"score"`
			Rank          int64  `json:"rank"`
		} `json:"leaderboard"`
		Total  int64 `json:"total"`
		Offset int   `json:"offset"`
		Limit  int   `json:"limit"`
	}
	rec := getJSON(t, env.server.Handler(), "/api/leaderboard?limit=9999", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if resp.Limit != 100 {
		t.Errorf("Limit = %d, want clamped to 100", resp.Limit)
	}
	if resp.Total != 4 || len(resp.Leaderboard) != 4 {
		t.Fatalf("Total = %d with %d entries, want 4/4", resp.Total, len(resp.Leaderboard))
	}
	if resp.Leaderboard[0].Score != 400 || resp.Leaderboard[0].Rank != 1 {
		t.Errorf("Top entry = %+v, want score 400 rank 1", resp.Leaderboard[0])
	}
}

func TestUserScore(t *testing.T) {
	env := newTestEnv(t)
	entry := &domain.LeaderboardEntry{WalletAddress: "0xabc", Score: 700}
	if _, err := env.repo.UpsertIfHigher(context.Background(), entry); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	var resp struct {
		WalletAddress string `json:"walletAddress"`
		Score         int64  `json:"score"`
		Rank          int64  `json:"rank"`
	}
	rec := getJSON(t, env.server.Handler(), "/api/user-score/0xABC", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if resp.WalletAddress != "0xabc" || resp.Score != 700 || resp.Rank != 1 {
		t.Errorf("Response = %+v", resp)
	}

	if rec := getJSON(t, env.server.Handler(), "/api/user-score/0xmissing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Unknown wallet status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	var resp struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	rec := getJSON(t, env.server.Handler(), "/health", &resp)
	if rec.Code != http.StatusOK || resp.Status != "ok" || resp.Timestamp == "" {
		t.Errorf("Status = %d, body = %+v", rec.Code, resp)
	}
}

func TestWatcherHealth_DegradedWhileDisconnected(t *testing.T) {
	watcher := watch.New(watch.Config{Chain: domain.ChainNameEthereum}, nil, nil, nil)
	env := newTestEnv(t, watcher)

	var resp struct {
		Status   string `json:"status"`
		Watchers []struct {
			Chain string `json:"chain"`
			State string `json:"state"`
		} `json:"watchers"`
	}
	rec := getJSON(t, env.server.Handler(), "/health/watchers", &resp)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503 before any subscription", rec.Code)
	}
	if resp.Status != "degraded" || len(resp.Watchers) != 1 {
		t.Fatalf("Body = %+v", resp)
	}
	if resp.Watchers[0].Chain != "eth" || resp.Watchers[0].State != "connecting" {
		t.Errorf("Watcher status = %+v", resp.Watchers[0])
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestBlockStream_AckThenEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/blocks/stream", nil)
	if err != nil {
		t.Fatalf("Build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Open stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	reader := bufio.NewReader(resp.Body)
	readFrame := func() string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("Read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
	}

	if ack := readFrame(); ack != `{"status":"connected"}` {
		t.Fatalf("Ack frame = %q", ack)
	}

	// The registration happens before the handler blocks, but give the
	// broadcaster a moment to observe the subscriber.
	deadline := time.Now().Add(2 * time.Second)
	for env.broadcaster.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	env.broadcaster.Publish(domain.BlockEvent{
		Chain:       domain.ChainNameBase,
		BlockNumber: 123,
		TxCount:     45,
		ObservedAt:  time.UnixMilli(1700000000000),
	})

	var event struct {
		Chain       string `json:"chain"`
		BlockNumber uint64 `json:"blockNumber"`
		TxCount     uint64 `json:"txCount"`
		Timestamp   int64  `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(readFrame()), &event); err != nil {
		t.Fatalf("Decode event frame: %v", err)
	}
	if event.Chain != "base" || event.BlockNumber != 123 || event.TxCount != 45 || event.Timestamp != 1700000000000 {
		t.Errorf("Event = %+v", event)
	}
}

func TestShutdown_ReleasesStreamSubscribers(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/blocks/stream", nil)
	if err != nil {
		t.Fatalf("Build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Open stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("Read ack: %v", err)
	}

	// An open stream never goes idle; Shutdown must release it instead of
	// waiting out the drain deadline.
	start := time.Now()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := env.server.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown took %v, want prompt return", elapsed)
	}

	// The handler exits, closes the stream and drops its registration.
	if _, err := reader.ReadString('\n'); err == nil {
		deadline := time.Now().Add(2 * time.Second)
		for err == nil && time.Now().Before(deadline) {
			_, err = reader.ReadString('\n')
		}
		if err == nil {
			t.Error("Stream still open after shutdown")
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.broadcaster.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := env.broadcaster.Subscribers(); got != 0 {
		t.Errorf("Subscribers = %d after shutdown, want 0", got)
	}
}
