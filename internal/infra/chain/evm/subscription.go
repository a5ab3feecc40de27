package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"

	"github.com/bford21/vitalikrun/internal/core/domain"
	"github.com/bford21/vitalikrun/internal/infra/chain"
)

const (
	subscribeRequestID = 1
	defaultAckTimeout  = 10 * time.Second

	// headBufferSize absorbs short consumer stalls; beyond it the read loop
	// blocks until the watcher catches up.
	headBufferSize = 16
)

// Subscriber opens newHeads subscriptions over a JSON-RPC websocket endpoint.
// Every SubscribeHeads call dials a fresh connection.
type Subscriber struct {
	chain      domain.ChainName
	wsURL      string
	ackTimeout time.Duration
	log        *slog.Logger
}

// NewSubscriber creates a Subscriber for one chain endpoint.
func NewSubscriber(chainName domain.ChainName, wsURL string) *Subscriber {
	return &Subscriber{
		chain:      chainName,
		wsURL:      wsURL,
		ackTimeout: defaultAckTimeout,
		log:        slog.Default().With("chain", chainName),
	}
}

// SubscribeHeads dials the websocket endpoint, issues eth_subscribe and
// waits for the provider's acknowledgement before returning.
func (s *Subscriber) SubscribeHeads(ctx context.Context) (chain.Subscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send eth_subscribe: %w", err)
	}

	sub := &headSubscription{
		conn:  conn,
		log:   s.log,
		heads: make(chan chain.Head, headBufferSize),
		errCh: make(chan error, 1),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go sub.readLoop()

	select {
	case <-sub.ready:
		return sub, nil
	case err := <-sub.errCh:
		sub.Close()
		return nil, fmt.Errorf("waiting for subscription ack: %w", err)
	case <-time.After(s.ackTimeout):
		sub.Close()
		return nil, fmt.Errorf("timed out waiting for subscription ack")
	case <-ctx.Done():
		sub.Close()
		return nil, ctx.Err()
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcFrame covers the three inbound frame shapes: subscription ack,
// eth_subscription notification, and error.
type rpcFrame struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string `json:"subscription"`
		Result       struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type headSubscription struct {
	conn *websocket.Conn
	log  *slog.Logger

	subID string
	acked bool

	heads chan chain.Head
	errCh chan error
	ready chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func (s *headSubscription) ID() string               { return s.subID }
func (s *headSubscription) Heads() <-chan chain.Head { return s.heads }
func (s *headSubscription) Err() <-chan error        { return s.errCh }

func (s *headSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *headSubscription) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		var frame rpcFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Error("Failed to parse subscription frame", "error", err)
			continue
		}

		switch {
		case frame.Error != nil:
			if !s.acked {
				// The subscribe request itself was rejected.
				s.fail(fmt.Errorf("eth_subscribe rejected: %s (code %d)",
					frame.Error.Message, frame.Error.Code))
				return
			}
			// Transport-level error frame: logged only, connection stays up.
			s.log.Error("Provider error frame",
				"code", frame.Error.Code, "message", frame.Error.Message)

		case frame.ID == subscribeRequestID && len(frame.Result) > 0 && !s.acked:
			var id string
			if err := json.Unmarshal(frame.Result, &id); err != nil {
				s.fail(fmt.Errorf("invalid subscription ack: %w", err))
				return
			}
			s.subID = id
			s.acked = true
			close(s.ready)

		case frame.Method == "eth_subscription" && frame.Params != nil:
			number, err := hexutil.DecodeUint64(frame.Params.Result.Number)
			if err != nil {
				s.log.Error("Failed to parse block number",
					"raw", frame.Params.Result.Number, "error", err)
				continue
			}
			select {
			case s.heads <- chain.Head{Number: number}:
			case <-s.done:
				return
			}
		}
	}
}

// fail reports a fatal transport error once; later failures are dropped.
func (s *headSubscription) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}
