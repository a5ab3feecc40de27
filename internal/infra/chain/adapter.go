package chain

import (
	"context"
)

// Head is one raw new-block notification delivered by a provider.
type Head struct {
	Number uint64
}

// Subscription is a live newHeads subscription against one provider.
// Implementations deliver heads in provider arrival order and report the
// transport closing with exactly one send on Err.
type Subscription interface {
	// ID returns the opaque subscription identifier assigned by the provider.
	ID() string

	// Heads returns the channel of incoming block notifications.
	Heads() <-chan Head

	// Err reports a fatal transport error. After a receive on this channel
	// no further heads are delivered.
	Err() <-chan error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// HeadSubscriber opens newHeads subscriptions. Each call dials a fresh
// connection; reconnecting means subscribing again, never reusing a dead
// transport.
type HeadSubscriber interface {
	SubscribeHeads(ctx context.Context) (Subscription, error)
}

// Enricher resolves the transaction count for a block by number.
type Enricher interface {
	TxCount(ctx context.Context, blockNumber uint64) (uint64, error)
}
