package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/chain"
	"github.com/bford21/vitalikrun/internal/metrics"
)

// State is the watcher's connection lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateClosing      State = "closing"
	StateReconnecting State = "reconnecting"
)

const enrichTimeout = 15 * time.Second

// Publisher receives every enriched block event a watcher produces.
type Publisher interface {
	Publish(event domain.BlockEvent)
}

// Config holds per-chain watcher settings.
type Config struct {
	Chain          domain.ChainName
	ReconnectDelay time.Duration
}

// Watcher keeps one chain's newHeads subscription alive and turns raw
// notifications into enriched BlockEvents. A failure on one chain never
// affects another; each watcher runs in its own goroutine.
type Watcher struct {
	cfg      Config
	source   chain.HeadSubscriber
	enricher chain.Enricher
	sink     Publisher
	log      *slog.Logger

	mu    sync.RWMutex
	state State
	subID string
}

// New creates a Watcher for one chain.
func New(cfg Config, source chain.HeadSubscriber, enricher chain.Enricher, sink Publisher) *Watcher {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Watcher{
		cfg:      cfg,
		source:   source,
		enricher: enricher,
		sink:     sink,
		log:      slog.Default().With("chain", cfg.Chain),
		state:    StateConnecting,
	}
}

// Chain returns the chain this watcher observes.
func (w *Watcher) Chain() domain.ChainName { return w.cfg.Chain }

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SubscriptionID returns the provider-assigned id of the live subscription,
// or the last one when reconnecting.
func (w *Watcher) SubscriptionID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.subID
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Watcher) setSubscription(id string) {
	w.mu.Lock()
	w.state = StateSubscribed
	w.subID = id
	w.mu.Unlock()
}

// Run drives the connection state machine until ctx is cancelled. On
// transport close it waits the configured fixed delay and subscribes again
// with the same configuration, indefinitely. Cancelling ctx aborts any
// pending reconnect timer.
func (w *Watcher) Run(ctx context.Context) {
	for {
		w.setState(StateConnecting)
		sub, err := w.source.SubscribeHeads(ctx)
		if err != nil {
			w.log.Error("Failed to open subscription", "error", err)
		} else {
			w.setSubscription(sub.ID())
			w.log.Info("Subscribed to new heads", "subscription", sub.ID())
			w.consume(ctx, sub)
			sub.Close()
		}

		if ctx.Err() != nil {
			w.setState(StateClosing)
			w.log.Info("Watcher stopped")
			return
		}

		w.setState(StateReconnecting)
		metrics.WatcherReconnects.WithLabelValues(string(w.cfg.Chain)).Inc()
		w.log.Warn("Connection lost, reconnecting", "delay", w.cfg.ReconnectDelay)

		timer := time.NewTimer(w.cfg.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			w.setState(StateClosing)
			w.log.Info("Watcher stopped during reconnect wait")
			return
		}
	}
}

// consume processes heads until the transport closes or ctx is cancelled.
func (w *Watcher) consume(ctx context.Context, sub chain.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			w.log.Error("Subscription transport closed", "error", err)
			return
		case head := <-sub.Heads():
			w.handleHead(ctx, head)
		}
	}
}

// handleHead enriches one notification and publishes the resulting event.
// An enrichment failure drops this one block only; the next head is
// unaffected.
func (w *Watcher) handleHead(ctx context.Context, head chain.Head) {
	enrichCtx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	start := time.Now()
	txCount, err := w.enricher.TxCount(enrichCtx, head.Number)
	if err != nil {
		metrics.EnrichmentErrors.WithLabelValues(string(w.cfg.Chain)).Inc()
		w.log.Error("Enrichment failed, dropping block", "block", head.Number, "error", err)
		return
	}
	metrics.EnrichmentLatency.WithLabelValues(string(w.cfg.Chain)).Observe(time.Since(start).Seconds())

	w.sink.Publish(domain.BlockEvent{
		Chain:       w.cfg.Chain,
		BlockNumber: head.Number,
		TxCount:     txCount,
		ObservedAt:  time.Now(),
	})
	metrics.BlocksReceived.WithLabelValues(string(w.cfg.Chain)).Inc()
	w.log.Info("New block", "block", head.Number, "txs", txCount)
}
