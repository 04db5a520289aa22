// Package oracle wraps external price sources. Every valuation in the ledger
// fetches a fresh quote; a non-positive or unavailable price fails the whole
// operation rather than proceeding with stale or zero data.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
)

// Quote is a 1e8-scaled price with the time it was observed.
type Quote struct {
	Price int64     `json:"price"`
	AsOf  time.Time `json:"as_of"`
}

// Source reports the current price for an asset, or fails.
type Source interface {
	GetPrice(ctx context.Context, asset ledger.AssetID) (Quote, error)
}

// Directory routes per-asset price lookups to named sources and enforces the
// strictly-positive price invariant at a single choke point.
type Directory struct {
	mu       sync.RWMutex
	sources  map[string]Source
	bindings map[ledger.AssetID]string
	metrics  *observability.Metrics
}

func NewDirectory() *Directory {
	return &Directory{
		sources:  make(map[string]Source),
		bindings: make(map[ledger.AssetID]string),
	}
}

// Instrument records lookup counts, failures, and latency on m. Pass nil to
// leave the directory uninstrumented.
func (d *Directory) Instrument(m *observability.Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

// AddSource registers a named source implementation.
func (d *Directory) AddSource(name string, src Source) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[name] = src
}

// Bind routes an asset's lookups to the named source.
func (d *Directory) Bind(asset ledger.AssetID, sourceName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sources[sourceName]; !ok {
		return fmt.Errorf("%w: no source %q", ledger.ErrPriceUnavailable, sourceName)
	}
	d.bindings[asset] = sourceName
	return nil
}

// GetPrice resolves the asset's bound source and returns its quote. Unbound
// assets, source errors, and non-positive prices all surface as
// ErrPriceUnavailable.
func (d *Directory) GetPrice(ctx context.Context, asset ledger.AssetID) (Quote, error) {
	d.mu.RLock()
	name, bound := d.bindings[asset]
	src := d.sources[name]
	m := d.metrics
	d.mu.RUnlock()

	if m != nil {
		m.OracleRequests.WithLabelValues(string(asset)).Inc()
		start := time.Now()
		defer func() {
			m.OracleLatency.Observe(time.Since(start).Seconds())
		}()
	}

	if !bound || src == nil {
		if m != nil {
			m.OracleErrors.WithLabelValues(string(asset)).Inc()
		}
		return Quote{}, fmt.Errorf("%w: no source bound for %s", ledger.ErrPriceUnavailable, asset)
	}
	q, err := src.GetPrice(ctx, asset)
	if err != nil {
		if m != nil {
			m.OracleErrors.WithLabelValues(string(asset)).Inc()
		}
		return Quote{}, fmt.Errorf("%w: %s: %v", ledger.ErrPriceUnavailable, asset, err)
	}
	if q.Price <= 0 {
		if m != nil {
			m.OracleErrors.WithLabelValues(string(asset)).Inc()
		}
		return Quote{}, fmt.Errorf("%w: %s reported non-positive price %d", ledger.ErrPriceUnavailable, asset, q.Price)
	}
	return q, nil
}

// Static is an admin-fed source: prices are pushed via Set and served as-is.
type Static struct {
	mu     sync.RWMutex
	quotes map[ledger.AssetID]Quote
}

func NewStatic() *Static {
	return &Static{quotes: make(map[ledger.AssetID]Quote)}
}

// Set stores the latest price for an asset.
func (s *Static) Set(asset ledger.AssetID, price int64, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[asset] = Quote{Price: price, AsOf: asOf}
}

func (s *Static) GetPrice(_ context.Context, asset ledger.AssetID) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[asset]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %s", asset)
	}
	return q, nil
}
