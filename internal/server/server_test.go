package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/fixed"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"LendLedger/internal/transfer"
)

const ownerToken = "test-owner-token"

func newTestServer(t *testing.T) (*httptest.Server, *transfer.Vault) {
	t.Helper()

	prices := oracle.NewDirectory()
	static := oracle.NewStatic()
	prices.AddSource("static", static)
	static.Set("USDC", fixed.PriceScale, time.Now())
	static.Set("ETH", 2000*fixed.PriceScale, time.Now())

	vault := transfer.NewVault()
	engine := core.NewEngine(core.Config{
		Prices:    prices,
		Transfers: vault,
	})

	health := observability.NewHealthChecker()
	health.SetReady(true)

	s := New(engine, static, health, ownerToken, observability.NewLogger("http_test"))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	registerAsset(t, ts, "USDC", "token")
	registerAsset(t, ts, "ETH", "native")
	return ts, vault
}

func registerAsset(t *testing.T, ts *httptest.Server, asset, kind string) {
	t.Helper()
	status, _ := doJSON(t, ts, http.MethodPost, "/v1/admin/assets", map[string]interface{}{
		"asset":        asset,
		"price_source": "static",
		"kind":         kind,
	}, ownerToken)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d", asset, status)
	}
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("X-Owner-Token", token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestAdminRequiresOwnerToken(t *testing.T) {
	ts, _ := newTestServer(t)

	body := map[string]interface{}{"asset": "DOGE", "price_source": "static", "kind": "token"}

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/admin/assets", body, "")
	if status != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", status)
	}
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/admin/assets", body, "wrong")
	if status != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d, want 401", status)
	}
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/admin/assets", body, ownerToken)
	if status != http.StatusCreated {
		t.Errorf("owner token: status %d, want 201", status)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ts, vault := newTestServer(t)
	vault.Fund("USDC", "alice", 1000*fixed.PriceScale)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/deposit", map[string]interface{}{
		"user": "alice", "asset": "USDC", "amount": 600 * fixed.PriceScale,
	}, "")
	if status != http.StatusOK {
		t.Fatalf("deposit: status %d", status)
	}

	status, body := doJSON(t, ts, http.MethodGet, "/v1/users/alice/positions", nil, "")
	if status != http.StatusOK {
		t.Fatalf("positions: status %d", status)
	}
	positions := body["positions"].([]interface{})
	if len(positions) != 1 {
		t.Fatalf("positions = %v, want one entry", positions)
	}

	status, _ = doJSON(t, ts, http.MethodPost, "/v1/withdraw", map[string]interface{}{
		"user": "alice", "asset": "USDC", "amount": 700 * fixed.PriceScale,
	}, "")
	if status != http.StatusUnprocessableEntity {
		t.Errorf("over-withdraw: status %d, want 422", status)
	}

	status, _ = doJSON(t, ts, http.MethodPost, "/v1/withdraw", map[string]interface{}{
		"user": "alice", "asset": "USDC", "amount": 600 * fixed.PriceScale,
	}, "")
	if status != http.StatusOK {
		t.Errorf("withdraw: status %d, want 200", status)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts, vault := newTestServer(t)
	vault.Fund("USDC", "alice", 1000*fixed.PriceScale)

	// Unknown asset -> 404.
	status, _ := doJSON(t, ts, http.MethodPost, "/v1/deposit", map[string]interface{}{
		"user": "alice", "asset": "DOGE", "amount": 1,
	}, "")
	if status != http.StatusNotFound {
		t.Errorf("unknown asset: status %d, want 404", status)
	}

	// Invalid amount -> 400.
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/deposit", map[string]interface{}{
		"user": "alice", "asset": "USDC", "amount": 0,
	}, "")
	if status != http.StatusBadRequest {
		t.Errorf("zero amount: status %d, want 400", status)
	}

	// Same asset -> 400.
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/borrow", map[string]interface{}{
		"user": "alice", "borrow_asset": "USDC", "collateral_asset": "USDC", "amount": 1,
	}, "")
	if status != http.StatusBadRequest {
		t.Errorf("same asset: status %d, want 400", status)
	}

	// Duplicate registration -> 409.
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/admin/assets", map[string]interface{}{
		"asset": "USDC", "price_source": "static", "kind": "token",
	}, ownerToken)
	if status != http.StatusConflict {
		t.Errorf("duplicate register: status %d, want 409", status)
	}

	// Malformed body -> 400.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/deposit", bytes.NewBufferString("{nope"))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("malformed request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: status %d, want 400", resp.StatusCode)
	}
}

func TestBorrowRepayOverHTTP(t *testing.T) {
	ts, vault := newTestServer(t)
	vault.Fund("USDC", "alice", 600*fixed.PriceScale)

	// Seed ETH liquidity and collateral.
	status, _ := doJSON(t, ts, http.MethodPost, "/v1/deposit", map[string]interface{}{
		"user": "bob", "asset": "ETH",
		"amount": 10 * fixed.PriceScale, "attached_value": 10 * fixed.PriceScale,
	}, "")
	if status != http.StatusOK {
		t.Fatalf("seed deposit: status %d", status)
	}
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/deposit", map[string]interface{}{
		"user": "alice", "asset": "USDC", "amount": 600 * fixed.PriceScale,
	}, "")
	if status != http.StatusOK {
		t.Fatalf("collateral deposit: status %d", status)
	}

	// $600 borrow against $600 collateral -> 422.
	status, _ = doJSON(t, ts, http.MethodPost, "/v1/borrow", map[string]interface{}{
		"user": "alice", "borrow_asset": "ETH", "collateral_asset": "USDC",
		"amount": 3 * fixed.PriceScale / 10,
	}, "")
	if status != http.StatusUnprocessableEntity {
		t.Errorf("over-borrow: status %d, want 422", status)
	}

	status, _ = doJSON(t, ts, http.MethodPost, "/v1/borrow", map[string]interface{}{
		"user": "alice", "borrow_asset": "ETH", "collateral_asset": "USDC",
		"amount": 2 * fixed.PriceScale / 10,
	}, "")
	if status != http.StatusOK {
		t.Fatalf("borrow: status %d", status)
	}

	status, body := doJSON(t, ts, http.MethodPost, "/v1/repay", map[string]interface{}{
		"user": "alice", "asset": "ETH",
		"amount": fixed.PriceScale, "attached_value": fixed.PriceScale,
	}, "")
	if status != http.StatusOK {
		t.Fatalf("repay: status %d", status)
	}
	if applied := int64(body["applied"].(float64)); applied != 2*fixed.PriceScale/10 {
		t.Errorf("applied = %d, want %d", applied, 2*fixed.PriceScale/10)
	}
}

func TestReadEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := doJSON(t, ts, http.MethodGet, "/v1/assets/ETH/price", nil, "")
	if status != http.StatusOK {
		t.Fatalf("price: status %d", status)
	}
	if price := int64(body["price"].(float64)); price != 2000*fixed.PriceScale {
		t.Errorf("price = %d, want %d", price, 2000*fixed.PriceScale)
	}

	path := fmt.Sprintf("/v1/max-borrowable?collateral_asset=USDC&borrow_asset=ETH&collateral_amount=%d", 600*fixed.PriceScale)
	status, body = doJSON(t, ts, http.MethodGet, path, nil, "")
	if status != http.StatusOK {
		t.Fatalf("max-borrowable: status %d", status)
	}
	if max := int64(body["max_borrowable"].(float64)); max != 2*fixed.PriceScale/10 {
		t.Errorf("max = %d, want %d", max, 2*fixed.PriceScale/10)
	}

	status, body = doJSON(t, ts, http.MethodGet, "/v1/liquidatable?borrower=alice&borrow_asset=ETH&collateral_asset=USDC", nil, "")
	if status != http.StatusOK {
		t.Fatalf("liquidatable: status %d", status)
	}
	if body["liquidatable"].(bool) {
		t.Error("user with no borrow reported liquidatable")
	}

	status, body = doJSON(t, ts, http.MethodGet, "/v1/accrued-interest?user=alice&asset=ETH", nil, "")
	if status != http.StatusOK {
		t.Fatalf("accrued-interest: status %d", status)
	}
	if interest := int64(body["interest"].(float64)); interest != 0 {
		t.Errorf("interest = %d, want 0", interest)
	}
}

func TestAdminSetPrice(t *testing.T) {
	ts, _ := newTestServer(t)

	status, _ := doJSON(t, ts, http.MethodPut, "/v1/admin/assets/ETH/price", map[string]interface{}{
		"price": 2500 * fixed.PriceScale,
	}, ownerToken)
	if status != http.StatusOK {
		t.Fatalf("set price: status %d", status)
	}

	status, body := doJSON(t, ts, http.MethodGet, "/v1/assets/ETH/price", nil, "")
	if status != http.StatusOK {
		t.Fatalf("price: status %d", status)
	}
	if price := int64(body["price"].(float64)); price != 2500*fixed.PriceScale {
		t.Errorf("price = %d, want %d", price, 2500*fixed.PriceScale)
	}

	status, _ = doJSON(t, ts, http.MethodPut, "/v1/admin/assets/ETH/price", map[string]interface{}{
		"price": -1,
	}, ownerToken)
	if status != http.StatusBadRequest {
		t.Errorf("negative price: status %d, want 400", status)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: status %d, want 200", resp.StatusCode)
	}

	resp, err = ts.Client().Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: status %d, want 200", resp.StatusCode)
	}
}
