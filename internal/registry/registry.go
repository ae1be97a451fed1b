package registry

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/pkg/errors"
)

// AssetRegistry is the consumed capability that owns the mapping from
// asset id to holder. The auction engine only calls through it and never
// reimplements ownership.
type AssetRegistry interface {
	// OwnerOf returns the current holder of the asset.
	OwnerOf(assetID int64) (string, error)

	// TransferCustody moves the asset from its holder to another party.
	// It fails unless operator is the holder or an approved operator.
	TransferCustody(assetID int64, from, to, operator string) error

	// Approve authorizes operator to move one asset held by owner.
	Approve(owner, operator string, assetID int64) error

	// ApproveAll authorizes operator for every asset held by owner.
	ApproveAll(owner, operator string, approved bool) error
}

// Directory resolves registry names to capabilities. Auction records
// reference registries by name so they stay plain data.
type Directory struct {
	mu         sync.RWMutex
	registries map[string]AssetRegistry
}

func NewDirectory() *Directory {
	return &Directory{registries: make(map[string]AssetRegistry)}
}

func (d *Directory) Register(name string, reg AssetRegistry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registries[name] = reg
}

func (d *Directory) Lookup(name string) (AssetRegistry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	reg, ok := d.registries[name]
	if !ok {
		log.Debugf("Unknown asset registry: %s", name)
		return nil, errors.New(errors.ErrTransferDenied, "unknown asset registry")
	}
	return reg, nil
}
