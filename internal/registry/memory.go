package registry

import (
	"sync"

	"github.com/escrowhouse/auction-engine/pkg/errors"
)

// Memory is an in-process asset registry. The server binary uses it to
// back local deployments; the test suite uses it in place of the real
// registry the engine talks to in production.
type Memory struct {
	mu          sync.Mutex
	nextID      int64
	holders     map[int64]string
	approved    map[int64]string          // assetID -> approved operator
	approvedAll map[string]map[string]bool // owner -> operator -> approved
}

func NewMemory() *Memory {
	return &Memory{
		holders:     make(map[int64]string),
		approved:    make(map[int64]string),
		approvedAll: make(map[string]map[string]bool),
	}
}

// Mint creates a new asset held by owner and returns its id. Ids are
// 1-based and never reused.
func (m *Memory) Mint(owner string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.holders[m.nextID] = owner
	return m.nextID
}

// CurrentID returns the highest minted asset id.
func (m *Memory) CurrentID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}

func (m *Memory) OwnerOf(assetID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, ok := m.holders[assetID]
	if !ok {
		return "", errors.New(errors.ErrTransferDenied, "unknown asset")
	}
	return holder, nil
}

func (m *Memory) Approve(owner, operator string, assetID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, ok := m.holders[assetID]
	if !ok {
		return errors.New(errors.ErrTransferDenied, "unknown asset")
	}
	if holder != owner {
		return errors.New(errors.ErrTransferDenied, "only the holder can approve")
	}
	m.approved[assetID] = operator
	return nil
}

func (m *Memory) ApproveAll(owner, operator string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops, ok := m.approvedAll[owner]
	if !ok {
		ops = make(map[string]bool)
		m.approvedAll[owner] = ops
	}
	if approved {
		ops[operator] = true
	} else {
		delete(ops, operator)
	}
	return nil
}

func (m *Memory) TransferCustody(assetID int64, from, to, operator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, ok := m.holders[assetID]
	if !ok {
		return errors.New(errors.ErrTransferDenied, "unknown asset")
	}
	if holder != from {
		return errors.New(errors.ErrTransferDenied, "asset not held by sender")
	}
	if !m.authorized(holder, operator, assetID) {
		return errors.New(errors.ErrTransferDenied, "operator not authorized by holder")
	}

	m.holders[assetID] = to
	// Single-asset approvals are consumed by the transfer.
	delete(m.approved, assetID)
	return nil
}

func (m *Memory) authorized(holder, operator string, assetID int64) bool {
	if operator == holder {
		return true
	}
	if m.approved[assetID] == operator {
		return true
	}
	return m.approvedAll[holder][operator]
}
