package stream

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/metrics"
)

// Sink is one subscriber's outbound frame writer. Send must be safe for
// concurrent use; a returned error marks the sink dead.
type Sink interface {
	Send(frame []byte) error
}

// connectedFrame is the acknowledgement payload written to every new
// subscriber before any events.
var connectedFrame = []byte(`{"status":"connected"}`)

// blockFrame is the wire shape of one broadcast event.
type blockFrame struct {
	Chain       domain.ChainName `json:"chain"`
	BlockNumber uint64           `json:"blockNumber"`
	TxCount     uint64           `json:"txCount"`
	Timestamp   int64            `json:"timestamp"`
}

// Broadcaster fans every published block event out to all currently
// registered subscribers. Watchers publish and connection handlers
// register/unregister concurrently; the registry is lock-free.
//
// Delivery is fire-and-forget: no buffering, no replay for late subscribers,
// and a slow or dead sink only ever costs itself its registration.
type Broadcaster struct {
	subs *xsync.Map[string, Sink]
	log  *slog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: xsync.NewMap[string, Sink](),
		log:  slog.Default(),
	}
}

// Register adds a sink to the subscriber set after writing the
// connection-acknowledgement frame to it. Returns the subscriber id used to
// unregister later.
func (b *Broadcaster) Register(sink Sink) (string, error) {
	if err := sink.Send(connectedFrame); err != nil {
		return "", err
	}

	id := uuid.NewString()
	b.subs.Store(id, sink)
	metrics.StreamSubscribers.Set(float64(b.subs.Size()))
	b.log.Info("Stream subscriber connected", "id", id, "total", b.subs.Size())
	return id, nil
}

// Unregister removes a subscriber. Removing an unknown id is a no-op.
func (b *Broadcaster) Unregister(id string) {
	if _, loaded := b.subs.LoadAndDelete(id); loaded {
		metrics.StreamSubscribers.Set(float64(b.subs.Size()))
		b.log.Info("Stream subscriber disconnected", "id", id, "total", b.subs.Size())
	}
}

// Publish serializes the event once and writes it to every member of the
// current subscriber set. A write failure unregisters that sink; delivery to
// the remaining sinks continues and no error reaches the producer.
func (b *Broadcaster) Publish(ev domain.BlockEvent) {
	frame, err := json.Marshal(blockFrame{
		Chain:       ev.Chain,
		BlockNumber: ev.BlockNumber,
		TxCount:     ev.TxCount,
		Timestamp:   ev.ObservedAt.UnixMilli(),
	})
	if err != nil {
		b.log.Error("Failed to serialize block event", "error", err)
		return
	}

	b.subs.Range(func(id string, sink Sink) bool {
		if err := sink.Send(frame); err != nil {
			metrics.BroadcastFailures.Inc()
			b.log.Warn("Dropping stream subscriber after write failure",
				"id", id, "error", err)
			b.Unregister(id)
		}
		return true
	})
	metrics.EventsBroadcast.Inc()
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	return b.subs.Size()
}
