package types

import (
	"time"
)

// AuctionStatus is the lifecycle state of an auction. Transitions are
// one-way: Active -> Ended or Active -> Canceled.
type AuctionStatus string

const (
	AuctionActive   AuctionStatus = "active"
	AuctionEnded    AuctionStatus = "ended"
	AuctionCanceled AuctionStatus = "canceled"
)

// Offer is a declared bid amount recorded for owner review. No funds are
// attached until the offer is accepted and finalized.
type Offer struct {
	User  string `json:"user"`
	Value int64  `json:"value"`
}

// Auction is one listing of one asset. ID is a 1-based sequence number,
// never reused. Registry and AssetID identify the escrowed asset.
type Auction struct {
	ID            int64         `json:"id"`
	Owner         string        `json:"owner"`
	Winner        string        `json:"winner,omitempty"`
	Registry      string        `json:"registry"`
	AssetID       int64         `json:"assetId"`
	StartPrice    int64         `json:"startPrice"`
	AcceptedOffer Offer         `json:"acceptedOffer"`
	Accepted      bool          `json:"accepted"`
	Bought        bool          `json:"bought"`
	Status        AuctionStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// EventType names a notification emitted after a committed transaction.
type EventType string

const (
	EventAuctionStarted EventType = "auction_started"
	EventWithdraw       EventType = "withdraw"
	EventNewOffer       EventType = "new_offer"
	EventOfferAccepted  EventType = "offer_accepted"
	EventCanceled       EventType = "canceled"
)

// Event is one entry of the append-only notification stream. Exactly one
// is emitted per successful mutating call, as the final side effect of
// the commit. Field presence depends on the event type; values always
// match the committed auction record verbatim.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AuctionID int64     `json:"auctionId"`
	Owner     string    `json:"owner,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	User      string    `json:"user,omitempty"`
	Registry  string    `json:"registry,omitempty"`
	AssetID   int64     `json:"assetId,omitempty"`
	Price     int64     `json:"price,omitempty"`
	Value     int64     `json:"value,omitempty"`
}
