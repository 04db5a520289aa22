// Package transfer models the external asset-custody capability. Transfers
// either succeed or fail atomically; the ledger trusts success and unwinds
// the whole operation on failure.
package transfer

import (
	"context"
	"fmt"

	"LendLedger/internal/ledger"
)

// Transferer moves asset custody between users and the ledger's vault.
//
// For NativeValue assets the inbound amount is validated against the value
// attached to the call rather than pulled; ExternalToken assets are pulled
// from the user's external account. Outbound transfers send directly either
// way.
type Transferer interface {
	TransferIn(ctx context.Context, asset *ledger.Asset, from ledger.UserID, amount, attachedValue int64) error
	TransferOut(ctx context.Context, asset *ledger.Asset, to ledger.UserID, amount int64) error
}

// Vault is an in-memory custodian used by tests and single-node deployments.
// It tracks external user balances per asset and applies the native/token
// dispatch the same way a remote custodian would.
type Vault struct {
	balances map[ledger.AssetID]map[ledger.UserID]int64
	held     map[ledger.AssetID]int64

	// FailNext forces the next transfer to fail, for atomicity tests.
	// FailSkip lets that many transfers succeed first, so a test can fail
	// a specific transfer inside a multi-transfer operation.
	FailNext bool
	FailSkip int
}

// fail consumes the injected failure once FailSkip transfers have passed.
func (v *Vault) fail() bool {
	if !v.FailNext {
		return false
	}
	if v.FailSkip > 0 {
		v.FailSkip--
		return false
	}
	v.FailNext = false
	return true
}

func NewVault() *Vault {
	return &Vault{
		balances: make(map[ledger.AssetID]map[ledger.UserID]int64),
		held:     make(map[ledger.AssetID]int64),
	}
}

// Fund credits a user's external balance so later TransferIn calls can pull
// from it.
func (v *Vault) Fund(asset ledger.AssetID, user ledger.UserID, amount int64) {
	if v.balances[asset] == nil {
		v.balances[asset] = make(map[ledger.UserID]int64)
	}
	v.balances[asset][user] += amount
}

// Balance reports a user's external balance.
func (v *Vault) Balance(asset ledger.AssetID, user ledger.UserID) int64 {
	return v.balances[asset][user]
}

// Held reports how much of an asset the vault holds in custody.
func (v *Vault) Held(asset ledger.AssetID) int64 {
	return v.held[asset]
}

func (v *Vault) TransferIn(_ context.Context, asset *ledger.Asset, from ledger.UserID, amount, attachedValue int64) error {
	if v.fail() {
		return fmt.Errorf("%w: custodian rejected inbound transfer", ledger.ErrTransferFailed)
	}
	switch asset.Kind {
	case ledger.TransferKindNativeValue:
		// The full attached value lands in custody; the caller refunds any
		// excess with a follow-up TransferOut.
		if attachedValue < amount {
			return fmt.Errorf("%w: attached value %d below required %d", ledger.ErrTransferFailed, attachedValue, amount)
		}
		v.held[asset.ID] += attachedValue
	case ledger.TransferKindExternalToken:
		if v.balances[asset.ID][from] < amount {
			return fmt.Errorf("%w: %s holds insufficient %s", ledger.ErrTransferFailed, from, asset.ID)
		}
		v.balances[asset.ID][from] -= amount
		v.held[asset.ID] += amount
	}
	return nil
}

func (v *Vault) TransferOut(_ context.Context, asset *ledger.Asset, to ledger.UserID, amount int64) error {
	if v.fail() {
		return fmt.Errorf("%w: custodian rejected outbound transfer", ledger.ErrTransferFailed)
	}
	if v.held[asset.ID] < amount {
		return fmt.Errorf("%w: vault holds insufficient %s", ledger.ErrTransferFailed, asset.ID)
	}
	v.held[asset.ID] -= amount
	if v.balances[asset.ID] == nil {
		v.balances[asset.ID] = make(map[ledger.UserID]int64)
	}
	v.balances[asset.ID][to] += amount
	return nil
}
