package domain

import "time"

// BlockEvent is one enriched block observation: a newly mined block on one
// chain plus the number of transactions it carries. Events are produced by a
// chain watcher, broadcast to stream subscribers once, and discarded; they
// are never persisted.
type BlockEvent struct {
	Chain       ChainName
	BlockNumber uint64
	TxCount     uint64
	ObservedAt  time.Time
}
