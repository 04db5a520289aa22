package core

import (
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
)

// tx stages every mutation of one orchestrated operation. Touched assets and
// records are cloned on first read; nothing reaches the registry or the book
// until commit, so a failure at any step discards the whole change set.
type tx struct {
	e   *Engine
	now time.Time

	assets   map[ledger.AssetID]*ledger.Asset
	deposits map[ledger.PositionKey]*ledger.Record
	borrows  map[ledger.PositionKey]*ledger.Record

	events []event.Payload
}

func (e *Engine) begin() *tx {
	return &tx{
		e:        e,
		now:      e.clock(),
		assets:   make(map[ledger.AssetID]*ledger.Asset),
		deposits: make(map[ledger.PositionKey]*ledger.Record),
		borrows:  make(map[ledger.PositionKey]*ledger.Record),
	}
}

// asset returns the staged clone for id, cloning from the registry on first
// touch. Fails with ErrUnknownAsset for unregistered assets.
func (t *tx) asset(id ledger.AssetID) (*ledger.Asset, error) {
	if a, ok := t.assets[id]; ok {
		return a, nil
	}
	live, err := t.e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	a := live.Clone()
	t.assets[id] = a
	return a, nil
}

func (t *tx) deposit(asset ledger.AssetID, user ledger.UserID) *ledger.Record {
	key := ledger.PositionKey{Asset: asset, User: user}
	if r, ok := t.deposits[key]; ok {
		return r
	}
	r := t.e.book.Deposit(asset, user).Clone()
	t.deposits[key] = r
	return r
}

func (t *tx) borrow(asset ledger.AssetID, user ledger.UserID) *ledger.Record {
	key := ledger.PositionKey{Asset: asset, User: user}
	if r, ok := t.borrows[key]; ok {
		return r
	}
	r := t.e.book.Borrow(asset, user).Clone()
	t.borrows[key] = r
	return r
}

// accrue advances a staged asset's pooled totals to the transaction instant
// and stages the matching delta event. Must run before any valuation or
// balance mutation touching that asset. The event is staged whenever the
// accrual clock moves, even with zero interest deltas, so replay restores
// LastAccrualTime exactly and never re-accrues a consumed window.
func (t *tx) accrue(a *ledger.Asset) {
	before := a.LastAccrualTime
	res := ledger.Accrue(a, t.now, t.e.params.Rates)
	if a.LastAccrualTime.Equal(before) {
		return
	}
	t.stage(&event.InterestAccrued{
		Asset:           a.ID,
		BorrowInterest:  res.BorrowInterest,
		DepositInterest: res.DepositInterest,
		AccruedTo:       t.now.Unix(),
	})
	if t.e.metrics != nil {
		t.e.metrics.InterestAccrued.WithLabelValues(string(a.ID), "borrow").Add(float64(res.BorrowInterest))
		t.e.metrics.InterestAccrued.WithLabelValues(string(a.ID), "deposit").Add(float64(res.DepositInterest))
	}
}

func (t *tx) stage(p event.Payload) {
	t.events = append(t.events, p)
}

// commit writes every staged clone back and emits the staged events in order,
// each under the next global sequence number.
func (t *tx) commit() {
	for _, a := range t.assets {
		t.e.registry.Put(a)
	}
	for key, r := range t.deposits {
		t.e.book.PutDeposit(key.Asset, key.User, r)
	}
	for key, r := range t.borrows {
		t.e.book.PutBorrow(key.Asset, key.User, r)
	}

	for _, p := range t.events {
		env := event.Envelope{
			Sequence:  t.e.seq,
			EventID:   uuid.New(),
			Type:      p.EventType(),
			Timestamp: t.now,
			Payload:   p,
		}
		t.e.seq++
		if t.e.sink != nil {
			t.e.sink.Emit(env)
		}
	}
	if t.e.metrics != nil {
		t.e.metrics.Sequence.Set(float64(t.e.seq))
	}
}
