package engine

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/internal/bank"
	"github.com/escrowhouse/auction-engine/internal/registry"
	"github.com/escrowhouse/auction-engine/pkg/errors"
	"github.com/escrowhouse/auction-engine/pkg/types"
	"github.com/google/uuid"
)

// Journal receives every committed record for durable storage. Journal
// failures never roll back a committed transaction; the arena is the
// source of truth for the lifetime of the process.
type Journal interface {
	SaveAuction(ctx context.Context, auction types.Auction) error
	SaveOffer(ctx context.Context, auctionID int64, position int, offer types.Offer) error
	SaveEvent(ctx context.Context, event types.Event) error
}

type Config struct {
	// EscrowAccount is the principal under which the engine holds
	// custody of listed assets and appears in registry transfers.
	EscrowAccount string
	// EventBuffer sizes the notification dispatch queue.
	EventBuffer int
}

// Engine is the auction core: a serialized ledger of auctions. Every
// mutating operation commits fully (state, custody, payment,
// notification) or rejects with no state change. One mutex serializes
// all writers; contention is bounded by a single process's websocket
// handlers, so lock-based serialization is sufficient.
type Engine struct {
	mu         sync.Mutex
	escrow     string
	registries *registry.Directory
	ledger     bank.Ledger
	stream     *Stream
	journal    Journal

	// Dense arena: auction id N lives at auctions[N-1], its offers at
	// offers[N-1]. Records are never deleted.
	auctions []types.Auction
	offers   [][]types.Offer
}

func New(cfg Config, registries *registry.Directory, ledger bank.Ledger, journal Journal, sinks ...Sink) *Engine {
	if cfg.EscrowAccount == "" {
		cfg.EscrowAccount = "auction-engine"
	}
	return &Engine{
		escrow:     cfg.EscrowAccount,
		registries: registries,
		ledger:     ledger,
		stream:     NewStream(cfg.EventBuffer, sinks...),
		journal:    journal,
	}
}

// Close drains the notification dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.stream.Close()
}

// AttachSink adds a notification sink after construction.
func (e *Engine) AttachSink(sink Sink) {
	e.stream.Attach(sink)
}

// EscrowAccount returns the principal holding escrowed assets.
func (e *Engine) EscrowAccount() string {
	return e.escrow
}

// Events exposes the append-only notification log.
func (e *Engine) Events() []types.Event {
	return e.stream.History()
}

// EventsDropped reports notifications that missed sink delivery.
func (e *Engine) EventsDropped() uint64 {
	return e.stream.Dropped()
}

// Restore rehydrates the arena from journaled records. Ids must be
// dense and 1-based; the engine refuses gaps rather than guessing.
func (e *Engine) Restore(auctions []types.Auction, offers map[int64][]types.Offer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.auctions) != 0 {
		return errors.New(errors.ErrInternalServer, "restore into a non-empty arena")
	}

	for i, a := range auctions {
		if a.ID != int64(i+1) {
			return errors.New(errors.ErrInternalServer, "auction journal has gaps")
		}
		e.auctions = append(e.auctions, a)
		e.offers = append(e.offers, append([]types.Offer(nil), offers[a.ID]...))
	}
	return nil
}

// Start lists an asset: assigns the next sequence id, pulls custody
// from caller into escrow and creates an Active auction. The caller
// must have approved the escrow account on the registry beforehand.
func (e *Engine) Start(ctx context.Context, caller, registryName string, assetID, startPrice int64) (types.Auction, error) {
	reg, err := e.registries.Lookup(registryName)
	if err != nil {
		return types.Auction{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := reg.TransferCustody(assetID, caller, e.escrow, e.escrow); err != nil {
		return types.Auction{}, errors.WrapCode(errors.ErrTransferDenied, err, "registry rejected custody transfer")
	}

	now := time.Now()
	auction := types.Auction{
		ID:         int64(len(e.auctions)) + 1,
		Owner:      caller,
		Registry:   registryName,
		AssetID:    assetID,
		StartPrice: startPrice,
		Status:     types.AuctionActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	e.auctions = append(e.auctions, auction)
	e.offers = append(e.offers, nil)

	e.journalAuction(ctx, auction)
	e.emit(ctx, types.Event{
		Type:      types.EventAuctionStarted,
		AuctionID: auction.ID,
		Owner:     auction.Owner,
		Registry:  auction.Registry,
		AssetID:   auction.AssetID,
		Price:     auction.StartPrice,
	})

	log.Debugf("Auction %d started by %s for asset %s/%d", auction.ID, caller, registryName, assetID)
	return auction, nil
}

// Buy purchases at the fixed price. Payment accompanies the call: the
// declared amount is moved caller -> owner before custody is released.
func (e *Engine) Buy(ctx context.Context, caller string, auctionID, paid int64) (types.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, err := e.lookup(auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	if auction.Status != types.AuctionActive {
		return types.Auction{}, errors.New(errors.ErrAuctionNotActive, "only active auctions")
	}
	if paid != auction.StartPrice {
		return types.Auction{}, errors.New(errors.ErrIncorrectPayment, "payment must match the start price")
	}

	if err := e.settle(auction, caller, paid); err != nil {
		return types.Auction{}, err
	}

	auction.Winner = caller
	auction.Bought = true
	auction.Status = types.AuctionEnded
	auction.UpdatedAt = time.Now()

	e.journalAuction(ctx, *auction)
	e.emit(ctx, types.Event{
		Type:      types.EventWithdraw,
		AuctionID: auction.ID,
		Owner:     auction.Owner,
		Winner:    auction.Winner,
		Registry:  auction.Registry,
		AssetID:   auction.AssetID,
		Price:     auction.StartPrice,
	})

	log.Debugf("Auction %d bought by %s for %d", auction.ID, caller, paid)
	return *auction, nil
}

// SetOffer appends a declared amount to the auction's offer list. No
// funds move; repeated offers by the same party append new entries.
func (e *Engine) SetOffer(ctx context.Context, caller string, auctionID, value int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	if auction.Status != types.AuctionActive {
		return errors.New(errors.ErrAuctionNotActive, "only active auctions")
	}

	offer := types.Offer{User: caller, Value: value}
	e.offers[auctionID-1] = append(e.offers[auctionID-1], offer)

	if e.journal != nil {
		if err := e.journal.SaveOffer(ctx, auctionID, len(e.offers[auctionID-1])-1, offer); err != nil {
			log.Error("Error journaling offer: ", err)
		}
	}
	e.emit(ctx, types.Event{
		Type:      types.EventNewOffer,
		AuctionID: auction.ID,
		User:      offer.User,
		Value:     offer.Value,
	})

	return nil
}

// GetOffers returns the ordered offer list, oldest first.
func (e *Engine) GetOffers(auctionID int64) ([]types.Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.lookup(auctionID); err != nil {
		return nil, err
	}
	return append([]types.Offer(nil), e.offers[auctionID-1]...), nil
}

// AcceptOffer records the owner's choice among submitted offers. The
// candidate must match a recorded entry; the auction stays Active until
// the accepted party finalizes with Withdraw, so there is no window
// where the auction is Ended but unpaid.
func (e *Engine) AcceptOffer(ctx context.Context, caller string, auctionID int64, candidate types.Offer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	if caller != auction.Owner {
		return errors.New(errors.ErrNotOwner, "only the auction's owner")
	}
	if auction.Status != types.AuctionActive {
		return errors.New(errors.ErrAuctionNotActive, "only active auctions")
	}
	if !e.offerRecorded(auctionID, candidate) {
		return errors.New(errors.ErrOfferNotFound, "offer was never submitted")
	}

	auction.AcceptedOffer = candidate
	auction.Accepted = true
	auction.UpdatedAt = time.Now()

	e.journalAuction(ctx, *auction)
	e.emit(ctx, types.Event{
		Type:      types.EventOfferAccepted,
		AuctionID: auction.ID,
		User:      candidate.User,
		Value:     candidate.Value,
	})

	return nil
}

// Withdraw finalizes an accepted offer: the accepted party pays the
// agreed amount and receives custody.
func (e *Engine) Withdraw(ctx context.Context, caller string, auctionID, paid int64) (types.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, err := e.lookup(auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	if auction.Status != types.AuctionActive {
		return types.Auction{}, errors.New(errors.ErrAuctionNotActive, "only active auctions")
	}
	if !auction.Accepted || caller != auction.AcceptedOffer.User {
		return types.Auction{}, errors.New(errors.ErrNotWinner, "only winner and accepted")
	}
	if paid != auction.AcceptedOffer.Value {
		return types.Auction{}, errors.New(errors.ErrIncorrectPayment, "not correct value")
	}

	if err := e.settle(auction, caller, paid); err != nil {
		return types.Auction{}, err
	}

	auction.Winner = caller
	auction.Status = types.AuctionEnded
	auction.UpdatedAt = time.Now()

	e.journalAuction(ctx, *auction)
	e.emit(ctx, types.Event{
		Type:      types.EventWithdraw,
		AuctionID: auction.ID,
		Owner:     auction.Owner,
		Winner:    auction.Winner,
		Registry:  auction.Registry,
		AssetID:   auction.AssetID,
		Price:     auction.AcceptedOffer.Value,
	})

	log.Debugf("Auction %d finalized by %s for %d", auction.ID, caller, paid)
	return *auction, nil
}

// Cancel returns the asset to the owner and closes the auction.
func (e *Engine) Cancel(ctx context.Context, caller string, auctionID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	if caller != auction.Owner {
		return errors.New(errors.ErrNotOwner, "only the auction's owner")
	}
	if auction.Status != types.AuctionActive {
		return errors.New(errors.ErrAuctionNotActive, "only active auctions")
	}

	reg, err := e.registries.Lookup(auction.Registry)
	if err != nil {
		return err
	}
	if err := reg.TransferCustody(auction.AssetID, e.escrow, auction.Owner, e.escrow); err != nil {
		return errors.WrapCode(errors.ErrTransferDenied, err, "registry rejected custody transfer")
	}

	auction.Status = types.AuctionCanceled
	auction.UpdatedAt = time.Now()

	e.journalAuction(ctx, *auction)
	e.emit(ctx, types.Event{
		Type:      types.EventCanceled,
		AuctionID: auction.ID,
		Owner:     auction.Owner,
		Registry:  auction.Registry,
		AssetID:   auction.AssetID,
	})

	log.Debugf("Auction %d canceled by %s", auction.ID, caller)
	return nil
}

// GetAuctionInfo returns a snapshot of the auction record.
func (e *Engine) GetAuctionInfo(auctionID int64) (types.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, err := e.lookup(auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	return *auction, nil
}

// CurrentAuctionID returns the highest assigned id, 0 if none.
func (e *Engine) CurrentAuctionID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.auctions))
}

// Auctions returns a snapshot of every auction record, oldest first.
func (e *Engine) Auctions() []types.Auction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Auction(nil), e.auctions...)
}

// lookup resolves an id inside the assigned range. Callers hold e.mu.
func (e *Engine) lookup(auctionID int64) (*types.Auction, error) {
	if auctionID < 1 || auctionID > int64(len(e.auctions)) {
		return nil, errors.New(errors.ErrAuctionNotFound, "auction not found")
	}
	return &e.auctions[auctionID-1], nil
}

func (e *Engine) offerRecorded(auctionID int64, candidate types.Offer) bool {
	for _, offer := range e.offers[auctionID-1] {
		if offer == candidate {
			return true
		}
	}
	return false
}

// settle moves payment and custody for a sale: the paid amount goes
// caller -> owner, then the asset leaves escrow. If custody release
// fails after payment the transfer is compensated, leaving no net
// effect. Callers hold e.mu.
func (e *Engine) settle(auction *types.Auction, caller string, paid int64) error {
	reg, err := e.registries.Lookup(auction.Registry)
	if err != nil {
		return err
	}

	if err := e.ledger.Transfer(caller, auction.Owner, paid); err != nil {
		return err
	}

	if err := reg.TransferCustody(auction.AssetID, e.escrow, caller, e.escrow); err != nil {
		if refundErr := e.ledger.Transfer(auction.Owner, caller, paid); refundErr != nil {
			log.Errorf("Refund failed after custody rejection on auction %d: %v", auction.ID, refundErr)
		}
		return errors.WrapCode(errors.ErrTransferDenied, err, "registry rejected custody transfer")
	}
	return nil
}

func (e *Engine) journalAuction(ctx context.Context, auction types.Auction) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveAuction(ctx, auction); err != nil {
		log.Error("Error journaling auction: ", err)
	}
}

// emit appends the notification as the final side effect of a commit.
func (e *Engine) emit(ctx context.Context, event types.Event) {
	event.ID = uuid.NewString()
	event.Timestamp = time.Now()

	if e.journal != nil {
		if err := e.journal.SaveEvent(ctx, event); err != nil {
			log.Error("Error journaling event: ", err)
		}
	}
	e.stream.Append(event)
}
