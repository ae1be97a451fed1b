package websocket

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/pkg/errors"
	"github.com/escrowhouse/auction-engine/pkg/types"
	json "github.com/goccy/go-json"
)

type Message struct {
	Type  string          `json:"type"`            // e.g. "start", "buy", "offer"
	Data  json.RawMessage `json:"data,omitempty"`  // Request payload
	Event *types.Event    `json:"event,omitempty"` // Set on broadcast notifications
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type. The client's
// authenticated id is the principal for every engine call.
func (h *AuctionHandler) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for client %s", client.ID)
		client.Send <- []byte(`{"type": "error", "message": "Rate limit exceeded"}`)
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from client %s: %v", client.ID, err)
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid message format"))
		return
	}

	switch msg.Type {
	case "start":
		h.handleStart(client, msg.Data)
	case "buy":
		h.handleBuy(client, msg.Data)
	case "offer":
		h.handleOffer(client, msg.Data)
	case "offers":
		h.handleGetOffers(client, msg.Data)
	case "accept":
		h.handleAccept(client, msg.Data)
	case "withdraw":
		h.handleWithdraw(client, msg.Data)
	case "cancel":
		h.handleCancel(client, msg.Data)
	case "info":
		h.handleInfo(client, msg.Data)
	default:
		log.Warnf("Unknown message type: %s", msg.Type)
		h.sendError(client, errors.New(errors.ErrUnknownMessageType, "Unknown message type"))
	}
}

func (h *AuctionHandler) sendError(client *Client, appErr *errors.AppError) {
	client.Send <- []byte(appErr.ToJSON())
}

func (h *AuctionHandler) sendEngineError(client *Client, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		h.sendError(client, appErr)
		return
	}
	log.Error("Unexpected engine error: ", err)
	h.sendError(client, errors.New(errors.ErrInternalServer, "Internal server error"))
}

func (h *AuctionHandler) reply(client *Client, replyType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("Error marshalling reply: ", err)
		h.sendError(client, errors.New(errors.ErrInternalServer, "Internal server error"))
		return
	}
	raw, err := json.Marshal(&Message{Type: replyType, Data: data})
	if err != nil {
		log.Error("Error marshalling reply envelope: ", err)
		return
	}
	client.Send <- raw
}

// Handlers for specific message types

func (h *AuctionHandler) handleStart(client *Client, data json.RawMessage) {
	type StartMessage struct {
		Registry   string `json:"registry"`
		AssetID    int64  `json:"asset_id"`
		StartPrice int64  `json:"start_price"`
	}
	var startMsg StartMessage
	if err := json.Unmarshal(data, &startMsg); err != nil || startMsg.Registry == "" {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid start message"))
		return
	}

	auction, err := h.engine.Start(context.Background(), client.ID, startMsg.Registry, startMsg.AssetID, startMsg.StartPrice)
	if err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "started", auction)
}

func (h *AuctionHandler) handleBuy(client *Client, data json.RawMessage) {
	type BuyMessage struct {
		AuctionID int64 `json:"auction_id"`
		Amount    int64 `json:"amount"`
	}
	var buyMsg BuyMessage
	if err := json.Unmarshal(data, &buyMsg); err != nil {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid buy message"))
		return
	}

	auction, err := h.engine.Buy(context.Background(), client.ID, buyMsg.AuctionID, buyMsg.Amount)
	if err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "bought", auction)
}

func (h *AuctionHandler) handleOffer(client *Client, data json.RawMessage) {
	type OfferMessage struct {
		AuctionID int64 `json:"auction_id"`
		Amount    int64 `json:"amount"`
	}
	var offerMsg OfferMessage
	if err := json.Unmarshal(data, &offerMsg); err != nil || offerMsg.Amount <= 0 {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid offer message"))
		return
	}

	if err := h.engine.SetOffer(context.Background(), client.ID, offerMsg.AuctionID, offerMsg.Amount); err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "offer_recorded", types.Offer{User: client.ID, Value: offerMsg.Amount})
}

func (h *AuctionHandler) handleGetOffers(client *Client, data json.RawMessage) {
	type OffersMessage struct {
		AuctionID int64 `json:"auction_id"`
	}
	var offersMsg OffersMessage
	if err := json.Unmarshal(data, &offersMsg); err != nil {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid offers message"))
		return
	}

	offers, err := h.engine.GetOffers(offersMsg.AuctionID)
	if err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "offers", offers)
}

func (h *AuctionHandler) handleAccept(client *Client, data json.RawMessage) {
	type AcceptMessage struct {
		AuctionID int64  `json:"auction_id"`
		User      string `json:"user"`
		Amount    int64  `json:"amount"`
	}
	var acceptMsg AcceptMessage
	if err := json.Unmarshal(data, &acceptMsg); err != nil || acceptMsg.User == "" {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid accept message"))
		return
	}

	candidate := types.Offer{User: acceptMsg.User, Value: acceptMsg.Amount}
	if err := h.engine.AcceptOffer(context.Background(), client.ID, acceptMsg.AuctionID, candidate); err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "offer_accepted", candidate)
}

func (h *AuctionHandler) handleWithdraw(client *Client, data json.RawMessage) {
	type WithdrawMessage struct {
		AuctionID int64 `json:"auction_id"`
		Amount    int64 `json:"amount"`
	}
	var withdrawMsg WithdrawMessage
	if err := json.Unmarshal(data, &withdrawMsg); err != nil {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid withdraw message"))
		return
	}

	auction, err := h.engine.Withdraw(context.Background(), client.ID, withdrawMsg.AuctionID, withdrawMsg.Amount)
	if err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "finalized", auction)
}

func (h *AuctionHandler) handleCancel(client *Client, data json.RawMessage) {
	type CancelMessage struct {
		AuctionID int64 `json:"auction_id"`
	}
	var cancelMsg CancelMessage
	if err := json.Unmarshal(data, &cancelMsg); err != nil {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid cancel message"))
		return
	}

	if err := h.engine.Cancel(context.Background(), client.ID, cancelMsg.AuctionID); err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "canceled", cancelMsg)
}

func (h *AuctionHandler) handleInfo(client *Client, data json.RawMessage) {
	type InfoMessage struct {
		AuctionID int64 `json:"auction_id"`
	}
	var infoMsg InfoMessage
	if err := json.Unmarshal(data, &infoMsg); err != nil {
		h.sendError(client, errors.New(errors.ErrBadMessageFormat, "Invalid info message"))
		return
	}

	auction, err := h.engine.GetAuctionInfo(infoMsg.AuctionID)
	if err != nil {
		h.sendEngineError(client, err)
		return
	}
	h.reply(client, "info", auction)
}
