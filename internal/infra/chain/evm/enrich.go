package evm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EnrichmentClient resolves transaction counts over a JSON-RPC HTTP endpoint.
// It holds one long-lived client; go-ethereum's rpc package pools the
// underlying HTTP connections.
type EnrichmentClient struct {
	rpc *rpc.Client
}

// DialEnrichment connects an EnrichmentClient to the given endpoint.
func DialEnrichment(ctx context.Context, httpURL string) (*EnrichmentClient, error) {
	client, err := rpc.DialContext(ctx, httpURL)
	if err != nil {
		return nil, fmt.Errorf("dial enrichment endpoint: %w", err)
	}
	return &EnrichmentClient{rpc: client}, nil
}

// Close releases the underlying RPC client.
func (c *EnrichmentClient) Close() {
	c.rpc.Close()
}

// blockBody is the slice of eth_getBlockByNumber we care about. Transaction
// hashes only (second param false); the count is all we need.
type blockBody struct {
	Transactions []json.RawMessage `json:"transactions"`
}

// TxCount fetches the block by number and returns how many transactions it
// holds.
func (c *EnrichmentClient) TxCount(ctx context.Context, blockNumber uint64) (uint64, error) {
	var body *blockBody
	err := c.rpc.CallContext(ctx, &body, "eth_getBlockByNumber",
		hexutil.EncodeUint64(blockNumber), false)
	if err != nil {
		return 0, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	if body == nil {
		return 0, fmt.Errorf("block %d not found", blockNumber)
	}
	return uint64(len(body.Transactions)), nil
}
