package genesis

import (
	"errors"
	"fmt"

	"nervix/core/state"
	"nervix/native/escrow"
	"nervix/storage"
)

// Apply writes the genesis state into db. It refuses to overwrite a ledger
// that has already been initialised.
func Apply(spec *GenesisSpec, db storage.Database) error {
	if spec == nil {
		return fmt.Errorf("genesis: nil spec")
	}
	if spec.alloc == nil {
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	overlay := storage.NewOverlay(db)
	manager := state.NewManager(overlay)
	if _, err := manager.EscrowParams(); err == nil {
		return ErrAlreadyInitialised
	} else if !errors.Is(err, state.ErrNotInitialised) {
		return err
	}
	params := escrow.NewParams(spec.owner, spec.treasury, spec.vault, spec.Schedule(), spec.minGasReserve)
	if err := manager.SetEscrowParams(params); err != nil {
		return err
	}
	for _, alloc := range spec.Allocations() {
		if err := manager.Credit(alloc.Address, alloc.Amount); err != nil {
			return err
		}
	}
	return overlay.Commit()
}

// ErrAlreadyInitialised is returned by Apply on a non-empty ledger.
var ErrAlreadyInitialised = errors.New("genesis: ledger already initialised")

// Initialised reports whether db already holds ledger parameters.
func Initialised(db storage.Database) (bool, error) {
	_, err := state.NewManager(db).EscrowParams()
	if errors.Is(err, state.ErrNotInitialised) {
		return false, nil
	}
	return err == nil, err
}
