package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"LendLedger/internal/ledger"
)

// HTTPSource fetches quotes from a JSON price feed:
//
//	GET {baseURL}/price/{asset} -> {"price": <int64 1e8-scaled>, "as_of": <unix seconds>}
//
// Calls are bounded by the configured timeout; a timeout is a hard failure of
// the calling operation.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type httpQuote struct {
	Price int64 `json:"price"`
	AsOf  int64 `json:"as_of"`
}

func (h *HTTPSource) GetPrice(ctx context.Context, asset ledger.AssetID) (Quote, error) {
	url := fmt.Sprintf("%s/price/%s", h.baseURL, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: fetch %s: %w", asset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("oracle: feed returned %d for %s", resp.StatusCode, asset)
	}

	var q httpQuote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("oracle: decode quote for %s: %w", asset, err)
	}
	return Quote{Price: q.Price, AsOf: time.Unix(q.AsOf, 0)}, nil
}
