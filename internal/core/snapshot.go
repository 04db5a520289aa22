package core

import (
	"fmt"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
)

// SnapshotState is the full serializable ledger state. A snapshot plus the
// event deltas committed after it reconstructs the engine exactly.
type SnapshotState struct {
	Sequence int64           `json:"sequence"`
	Assets   []ledger.Asset  `json:"assets"`
	Deposits []PositionEntry `json:"deposits"`
	Borrows  []PositionEntry `json:"borrows"`
}

// PositionEntry flattens one (asset, user) record for serialization.
type PositionEntry struct {
	Asset      ledger.AssetID `json:"asset"`
	User       ledger.UserID  `json:"user"`
	Amount     int64          `json:"amount"`
	LastUpdate time.Time      `json:"last_update"`
	Collateral ledger.AssetID `json:"collateral,omitempty"`
}

// CreateSnapshot captures the current state under the write lock.
func (e *Engine) CreateSnapshot() SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := SnapshotState{Sequence: e.seq}
	for _, a := range e.registry.All() {
		snap.Assets = append(snap.Assets, *a)
	}
	for key, r := range e.book.DepositEntries() {
		snap.Deposits = append(snap.Deposits, PositionEntry{
			Asset: key.Asset, User: key.User,
			Amount: r.Amount, LastUpdate: r.LastUpdate,
		})
	}
	for key, r := range e.book.BorrowEntries() {
		snap.Borrows = append(snap.Borrows, PositionEntry{
			Asset: key.Asset, User: key.User,
			Amount: r.Amount, LastUpdate: r.LastUpdate,
			Collateral: r.Collateral,
		})
	}
	return snap
}

// RestoreFromSnapshot replaces the engine's state wholesale. Oracle source
// bindings are re-established for every restored asset; sources must be
// added to the directory before restore.
func (e *Engine) RestoreFromSnapshot(snap SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.registry = ledger.NewRegistry()
	e.book = ledger.NewBook()
	for i := range snap.Assets {
		a := snap.Assets[i]
		e.registry.Put(&a)
		if a.PriceSource != "" {
			if err := e.prices.Bind(a.ID, a.PriceSource); err != nil {
				return fmt.Errorf("restore %s: %w", a.ID, err)
			}
		}
	}
	for _, p := range snap.Deposits {
		e.book.PutDeposit(p.Asset, p.User, &ledger.Record{
			Amount: p.Amount, LastUpdate: p.LastUpdate,
		})
	}
	for _, p := range snap.Borrows {
		e.book.PutBorrow(p.Asset, p.User, &ledger.Record{
			Amount: p.Amount, LastUpdate: p.LastUpdate, Collateral: p.Collateral,
		})
	}
	e.seq = snap.Sequence
	return nil
}

// ApplyEvent replays one committed event's state delta. Events must be
// applied in sequence order; the engine's sequence advances past each one.
func (e *Engine) ApplyEvent(env event.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch p := env.Payload.(type) {
	case *event.AssetRegistered:
		if err := e.prices.Bind(p.Asset, p.PriceSource); err != nil {
			return err
		}
		if _, err := e.registry.Register(p.Asset, p.PriceSource, p.Kind, p.ReserveFactorBps, env.Timestamp); err != nil {
			return err
		}

	case *event.PriceSourceUpdated:
		if err := e.prices.Bind(p.Asset, p.NewSource); err != nil {
			return err
		}
		if err := e.registry.SetPriceSource(p.Asset, p.NewSource); err != nil {
			return err
		}

	case *event.InterestAccrued:
		a, err := e.registry.Get(p.Asset)
		if err != nil {
			return err
		}
		a.TotalBorrows += p.BorrowInterest
		a.TotalDeposits += p.DepositInterest
		a.LastAccrualTime = time.Unix(p.AccruedTo, 0).UTC()

	case *event.Deposited:
		a, err := e.registry.Get(p.Asset)
		if err != nil {
			return err
		}
		r := e.book.Deposit(p.Asset, p.User).Clone()
		r.Amount += p.Amount
		r.LastUpdate = env.Timestamp
		e.book.PutDeposit(p.Asset, p.User, r)
		a.TotalDeposits += p.Amount

	case *event.Withdrawn:
		a, err := e.registry.Get(p.Asset)
		if err != nil {
			return err
		}
		r := e.book.Deposit(p.Asset, p.User).Clone()
		r.Amount = clampSub(r.Amount, p.Amount)
		r.LastUpdate = env.Timestamp
		e.book.PutDeposit(p.Asset, p.User, r)
		a.TotalDeposits = clampSub(a.TotalDeposits, p.Amount)

	case *event.Borrowed:
		a, err := e.registry.Get(p.BorrowAsset)
		if err != nil {
			return err
		}
		r := e.book.Borrow(p.BorrowAsset, p.User).Clone()
		r.Amount += p.Amount
		r.Collateral = p.CollateralAsset
		r.LastUpdate = env.Timestamp
		e.book.PutBorrow(p.BorrowAsset, p.User, r)
		a.TotalBorrows += p.Amount

	case *event.Repaid:
		a, err := e.registry.Get(p.Asset)
		if err != nil {
			return err
		}
		r := e.book.Borrow(p.Asset, p.User).Clone()
		r.Amount = clampSub(r.Amount, p.Amount)
		r.LastUpdate = env.Timestamp
		e.book.PutBorrow(p.Asset, p.User, r)
		a.TotalBorrows = clampSub(a.TotalBorrows, p.Amount)

	case *event.Liquidated:
		ba, err := e.registry.Get(p.BorrowAsset)
		if err != nil {
			return err
		}
		ca, err := e.registry.Get(p.CollateralAsset)
		if err != nil {
			return err
		}
		br := e.book.Borrow(p.BorrowAsset, p.Borrower).Clone()
		br.Amount = clampSub(br.Amount, p.RepaidAmount)
		br.LastUpdate = env.Timestamp
		e.book.PutBorrow(p.BorrowAsset, p.Borrower, br)
		ba.TotalBorrows = clampSub(ba.TotalBorrows, p.RepaidAmount)

		dr := e.book.Deposit(p.CollateralAsset, p.Borrower).Clone()
		dr.Amount = clampSub(dr.Amount, p.SeizedCollateral)
		dr.LastUpdate = env.Timestamp
		e.book.PutDeposit(p.CollateralAsset, p.Borrower, dr)
		ca.TotalDeposits = clampSub(ca.TotalDeposits, p.SeizedCollateral)

	default:
		return fmt.Errorf("replay: unknown event type %s", env.Type)
	}

	e.seq = env.Sequence + 1
	return nil
}
