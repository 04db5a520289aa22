package ledger

import (
	"fmt"
	"time"
)

// AssetID is the stable, address-equivalent identifier of a registered asset.
type AssetID string

// UserID identifies a depositor/borrower. Address-equivalent, opaque to the
// ledger.
type UserID string

// TransferKind tags how custody moves for an asset. NativeValue assets carry
// value attached to the call; ExternalToken assets are pulled from / pushed
// to an external custodian.
type TransferKind int32

const (
	TransferKindNativeValue TransferKind = iota
	TransferKindExternalToken
)

func (k TransferKind) String() string {
	switch k {
	case TransferKindNativeValue:
		return "native"
	case TransferKindExternalToken:
		return "token"
	default:
		return "unknown"
	}
}

// Asset holds the per-asset pool state. Totals are 1e8 fixed-point and never
// go negative; LastAccrualTime is monotonically non-decreasing.
type Asset struct {
	ID               AssetID
	Supported        bool
	TotalDeposits    int64
	TotalBorrows     int64
	ReserveFactorBps int64
	LastAccrualTime  time.Time
	PriceSource      string
	Kind             TransferKind
}

// Clone returns a copy safe to stage inside an uncommitted transaction.
func (a *Asset) Clone() *Asset {
	c := *a
	return &c
}

// Registry is the sole authority over asset state. Not safe for concurrent
// use; the orchestrator serializes all access behind its write lock.
type Registry struct {
	assets map[AssetID]*Asset
}

func NewRegistry() *Registry {
	return &Registry{assets: make(map[AssetID]*Asset)}
}

// Register creates an asset with zero totals and lastAccrualTime = now.
// A second registration of the same asset fails with ErrAlreadyInitialized.
func (r *Registry) Register(id AssetID, priceSource string, kind TransferKind, reserveFactorBps int64, now time.Time) (*Asset, error) {
	if existing, ok := r.assets[id]; ok && existing.Supported {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, id)
	}
	a := &Asset{
		ID:               id,
		Supported:        true,
		ReserveFactorBps: reserveFactorBps,
		LastAccrualTime:  now,
		PriceSource:      priceSource,
		Kind:             kind,
	}
	r.assets[id] = a
	return a, nil
}

// Get returns the asset or ErrUnknownAsset when missing or unsupported.
func (r *Registry) Get(id AssetID) (*Asset, error) {
	a, ok := r.assets[id]
	if !ok || !a.Supported {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	return a, nil
}

// IsSupported is a pure lookup.
func (r *Registry) IsSupported(id AssetID) bool {
	a, ok := r.assets[id]
	return ok && a.Supported
}

// SetPriceSource replaces the oracle binding for a registered asset.
func (r *Registry) SetPriceSource(id AssetID, source string) error {
	a, err := r.Get(id)
	if err != nil {
		return err
	}
	a.PriceSource = source
	return nil
}

// Put writes a staged asset copy back. Used by transaction commit and by
// snapshot/replay restore.
func (r *Registry) Put(a *Asset) {
	r.assets[a.ID] = a
}

// All returns every registered asset, for snapshots.
func (r *Registry) All() []*Asset {
	out := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	return out
}
