package evm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bford21/vitalikrun/internal/core/domain"
)

var upgrader = websocket.Upgrader{}

// fakeProvider serves a websocket endpoint that consumes the subscribe
// request and then plays back the scripted frames, holding the connection
// open until the client closes it.
func fakeProvider(t *testing.T, frames ...string) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestSubscribeHeads_AckThenHeads(t *testing.T) {
	url := fakeProvider(t,
		`{"jsonrpc":"2.0","id":1,"result":"0xsub1"}`,
		`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{"number":"0x10"}}}`,
	)

	sub, err := NewSubscriber(domain.ChainNameEthereum, url).SubscribeHeads(context.Background())
	if err != nil {
		t.Fatalf("SubscribeHeads failed: %v", err)
	}
	defer sub.Close()

	if sub.ID() != "0xsub1" {
		t.Errorf("Subscription ID = %q, want 0xsub1", sub.ID())
	}
	select {
	case head := <-sub.Heads():
		if head.Number != 16 {
			t.Errorf("Head number = %d, want 16", head.Number)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for head")
	}
}

func TestSubscribeHeads_RejectedSubscribe(t *testing.T) {
	url := fakeProvider(t,
		`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`,
	)

	if _, err := NewSubscriber(domain.ChainNameEthereum, url).SubscribeHeads(context.Background()); err == nil {
		t.Fatal("Expected error for rejected eth_subscribe")
	}
}

func TestSubscribeHeads_DuplicateAckIgnored(t *testing.T) {
	url := fakeProvider(t,
		`{"jsonrpc":"2.0","id":1,"result":"0xsub1"}`,
		`{"jsonrpc":"2.0","id":1,"result":"0xother"}`,
		`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xsub1","result":{"number":"0x2a"}}}`,
	)

	sub, err := NewSubscriber(domain.ChainNameEthereum, url).SubscribeHeads(context.Background())
	if err != nil {
		t.Fatalf("SubscribeHeads failed: %v", err)
	}
	defer sub.Close()

	// The repeated ack must neither crash the read loop nor replace the
	// subscription id; the head behind it still comes through.
	select {
	case head := <-sub.Heads():
		if head.Number != 42 {
			t.Errorf("Head number = %d, want 42", head.Number)
		}
	case err := <-sub.Err():
		t.Fatalf("Read loop died: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for head after duplicate ack")
	}
	if sub.ID() != "0xsub1" {
		t.Errorf("Subscription ID = %q, want the original 0xsub1", sub.ID())
	}
}
