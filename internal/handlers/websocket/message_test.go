package websocket

import (
	"fmt"
	"testing"

	"github.com/escrowhouse/auction-engine/internal/bank"
	"github.com/escrowhouse/auction-engine/internal/engine"
	"github.com/escrowhouse/auction-engine/internal/registry"
	"github.com/escrowhouse/auction-engine/pkg/types"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

type handlerFixture struct {
	handler *AuctionHandler
	nft     *registry.Memory
	ledger  *bank.Memory
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	nft := registry.NewMemory()
	registries := registry.NewDirectory()
	registries.Register("nft", nft)
	ledger := bank.NewMemory()

	eng := engine.New(engine.Config{EscrowAccount: "auction-engine"}, registries, ledger, nil)
	t.Cleanup(eng.Close)

	handler := &AuctionHandler{
		engine:  eng,
		clients: make(map[*Client]bool),
	}
	return &handlerFixture{handler: handler, nft: nft, ledger: ledger}
}

func newTestClient(id string) *Client {
	return &Client{
		ID:          id,
		Send:        make(chan []byte, 16),
		RateLimiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// reply drains one queued message and decodes its envelope.
func reply(t *testing.T, client *Client) *Message {
	t.Helper()

	select {
	case raw := <-client.Send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("undecodable reply %s: %v", raw, err)
		}
		return &msg
	default:
		t.Fatal("no reply queued")
		return nil
	}
}

func wantErrorReply(t *testing.T, client *Client, code int) {
	t.Helper()

	select {
	case raw := <-client.Send:
		var payload struct {
			Type    string `json:"type"`
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("undecodable error reply %s: %v", raw, err)
		}
		if payload.Type != "error" || payload.Code != code {
			t.Fatalf("expected error reply with code %d, got %s", code, raw)
		}
	default:
		t.Fatal("no error reply queued")
	}
}

func TestHandleMessageInvalidJSON(t *testing.T) {
	f := newHandlerFixture(t)
	client := newTestClient("user1")

	f.handler.HandleMessage(client, []byte(`{not json`))
	wantErrorReply(t, client, 1101)
}

func TestHandleMessageUnknownType(t *testing.T) {
	f := newHandlerFixture(t)
	client := newTestClient("user1")

	f.handler.HandleMessage(client, []byte(`{"type":"bid"}`))
	wantErrorReply(t, client, 1102)
}

func TestHandleMessageRateLimited(t *testing.T) {
	f := newHandlerFixture(t)
	client := newTestClient("user1")
	client.RateLimiter = rate.NewLimiter(0, 0)

	f.handler.HandleMessage(client, []byte(`{"type":"info","data":{"auction_id":1}}`))

	select {
	case raw := <-client.Send:
		var payload struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("undecodable reply %s: %v", raw, err)
		}
		if payload.Type != "error" || payload.Message != "Rate limit exceeded" {
			t.Fatalf("expected rate limit reply, got %s", raw)
		}
	default:
		t.Fatal("no reply queued")
	}
}

func TestStartAndBuyOverMessages(t *testing.T) {
	f := newHandlerFixture(t)
	seller := newTestClient("user1")
	buyer := newTestClient("user4")

	assetID := f.nft.Mint("user1")
	if err := f.nft.Approve("user1", "auction-engine", assetID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.ledger.Deposit("user4", 100)

	f.handler.HandleMessage(seller, []byte(fmt.Sprintf(
		`{"type":"start","data":{"registry":"nft","asset_id":%d,"start_price":10}}`, assetID)))

	msg := reply(t, seller)
	if msg.Type != "started" {
		t.Fatalf("expected started reply, got %s", msg.Type)
	}
	var auction types.Auction
	if err := json.Unmarshal(msg.Data, &auction); err != nil {
		t.Fatalf("decode auction: %v", err)
	}
	if auction.ID != 1 || auction.Owner != "user1" {
		t.Fatalf("unexpected auction in reply: %+v", auction)
	}

	// Exact payment required.
	f.handler.HandleMessage(buyer, []byte(`{"type":"buy","data":{"auction_id":1,"amount":9}}`))
	wantErrorReply(t, buyer, 1006)

	f.handler.HandleMessage(buyer, []byte(`{"type":"buy","data":{"auction_id":1,"amount":10}}`))
	msg = reply(t, buyer)
	if msg.Type != "bought" {
		t.Fatalf("expected bought reply, got %s", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, &auction); err != nil {
		t.Fatalf("decode auction: %v", err)
	}
	if auction.Winner != "user4" || auction.Status != types.AuctionEnded {
		t.Fatalf("unexpected auction after buy: %+v", auction)
	}
}

func TestOfferFlowOverMessages(t *testing.T) {
	f := newHandlerFixture(t)
	seller := newTestClient("user2")
	bidder := newTestClient("user6")

	assetID := f.nft.Mint("user2")
	if err := f.nft.Approve("user2", "auction-engine", assetID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.ledger.Deposit("user6", 100)

	f.handler.HandleMessage(seller, []byte(fmt.Sprintf(
		`{"type":"start","data":{"registry":"nft","asset_id":%d,"start_price":20}}`, assetID)))
	reply(t, seller)

	f.handler.HandleMessage(bidder, []byte(`{"type":"offer","data":{"auction_id":1,"amount":18}}`))
	msg := reply(t, bidder)
	if msg.Type != "offer_recorded" {
		t.Fatalf("expected offer_recorded reply, got %s", msg.Type)
	}

	f.handler.HandleMessage(bidder, []byte(`{"type":"offers","data":{"auction_id":1}}`))
	msg = reply(t, bidder)
	var offers []types.Offer
	if err := json.Unmarshal(msg.Data, &offers); err != nil {
		t.Fatalf("decode offers: %v", err)
	}
	if msg.Type != "offers" || len(offers) != 1 || offers[0] != (types.Offer{User: "user6", Value: 18}) {
		t.Fatalf("unexpected offers reply: %s %+v", msg.Type, offers)
	}

	// Acceptance is owner-only, enforced through the client identity.
	f.handler.HandleMessage(bidder, []byte(`{"type":"accept","data":{"auction_id":1,"user":"user6","amount":18}}`))
	wantErrorReply(t, bidder, 1004)

	f.handler.HandleMessage(seller, []byte(`{"type":"accept","data":{"auction_id":1,"user":"user6","amount":18}}`))
	msg = reply(t, seller)
	if msg.Type != "offer_accepted" {
		t.Fatalf("expected offer_accepted reply, got %s", msg.Type)
	}

	f.handler.HandleMessage(bidder, []byte(`{"type":"withdraw","data":{"auction_id":1,"amount":18}}`))
	msg = reply(t, bidder)
	if msg.Type != "finalized" {
		t.Fatalf("expected finalized reply, got %s", msg.Type)
	}
	var auction types.Auction
	if err := json.Unmarshal(msg.Data, &auction); err != nil {
		t.Fatalf("decode auction: %v", err)
	}
	if auction.Winner != "user6" || !auction.Accepted {
		t.Fatalf("unexpected auction after withdraw: %+v", auction)
	}
}

func TestCancelOverMessages(t *testing.T) {
	f := newHandlerFixture(t)
	seller := newTestClient("user3")
	stranger := newTestClient("user5")

	assetID := f.nft.Mint("user3")
	if err := f.nft.Approve("user3", "auction-engine", assetID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.handler.HandleMessage(seller, []byte(fmt.Sprintf(
		`{"type":"start","data":{"registry":"nft","asset_id":%d,"start_price":30}}`, assetID)))
	reply(t, seller)

	f.handler.HandleMessage(stranger, []byte(`{"type":"cancel","data":{"auction_id":1}}`))
	wantErrorReply(t, stranger, 1004)

	f.handler.HandleMessage(seller, []byte(`{"type":"cancel","data":{"auction_id":1}}`))
	if msg := reply(t, seller); msg.Type != "canceled" {
		t.Fatalf("expected canceled reply, got %s", msg.Type)
	}
}

func TestInfoUnknownAuction(t *testing.T) {
	f := newHandlerFixture(t)
	client := newTestClient("user1")

	f.handler.HandleMessage(client, []byte(`{"type":"info","data":{"auction_id":9}}`))
	wantErrorReply(t, client, 1002)
}

func TestEventSinkBroadcastsCommits(t *testing.T) {
	f := newHandlerFixture(t)
	watcher := newTestClient("user9")

	f.handler.clientMu.Lock()
	f.handler.clients[watcher] = true
	f.handler.clientMu.Unlock()
	f.handler.engine.AttachSink(f.handler.EventSink())

	seller := newTestClient("user1")
	assetID := f.nft.Mint("user1")
	if err := f.nft.Approve("user1", "auction-engine", assetID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	f.handler.HandleMessage(seller, []byte(fmt.Sprintf(
		`{"type":"start","data":{"registry":"nft","asset_id":%d,"start_price":10}}`, assetID)))
	reply(t, seller)

	// Close drains the dispatcher, so the broadcast is queued by now.
	f.handler.engine.Close()

	msg := reply(t, watcher)
	if msg.Type != "event" || msg.Event == nil {
		t.Fatalf("expected event broadcast, got %+v", msg)
	}
	if msg.Event.Type != types.EventAuctionStarted || msg.Event.AuctionID != 1 {
		t.Fatalf("unexpected broadcast event: %+v", msg.Event)
	}
}
