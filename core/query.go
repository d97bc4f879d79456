package core

import (
	"math/big"

	"nervix/core/state"
	"nervix/native/escrow"
)

// TreasuryInfo is the treasury account, its balance and the fee counter.
type TreasuryInfo struct {
	Treasury           [20]byte
	Balance            *big.Int
	TotalFeesCollected *big.Int
}

func (n *Node) reader() (*escrow.Engine, *state.Manager) {
	manager := state.NewManager(n.db)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	return engine, manager
}

// ContractInfo returns the ledger summary.
func (n *Node) ContractInfo() (escrow.ContractInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	engine, _ := n.reader()
	params, err := engine.Params()
	if err != nil {
		return escrow.ContractInfo{}, err
	}
	return params.Info(), nil
}

// Escrow returns the record with id.
func (n *Node) Escrow(id uint32) (*escrow.Escrow, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	engine, _ := n.reader()
	return engine.Escrow(id)
}

// Owner returns the current administrator.
func (n *Node) Owner() ([20]byte, error) {
	info, err := n.ContractInfo()
	return info.Owner, err
}

// OpenClawDiscount returns the discount rate in basis points.
func (n *Node) OpenClawDiscount() (uint16, error) {
	info, err := n.ContractInfo()
	return info.Fees.DiscountBps, err
}

// Treasury returns the treasury account state.
func (n *Node) Treasury() (TreasuryInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	engine, manager := n.reader()
	params, err := engine.Params()
	if err != nil {
		return TreasuryInfo{}, err
	}
	bal, err := manager.Balance(params.Treasury)
	if err != nil {
		return TreasuryInfo{}, err
	}
	return TreasuryInfo{Treasury: params.Treasury, Balance: bal, TotalFeesCollected: params.TotalFeesCollected}, nil
}

// Withdrawable returns the vault funds the owner may withdraw.
func (n *Node) Withdrawable() (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	engine, _ := n.reader()
	return engine.Withdrawable()
}

// Balance returns the native balance of addr.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, manager := n.reader()
	return manager.Balance(addr)
}

// Nonce returns the next nonce expected from addr.
func (n *Node) Nonce(addr [20]byte) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, manager := n.reader()
	return manager.Nonce(addr)
}

// EventsSince returns committed events starting at seq from.
func (n *Node) EventsSince(from uint64, limit int) ([]state.StoredEvent, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, manager := n.reader()
	return manager.EventsSince(from, limit)
}
