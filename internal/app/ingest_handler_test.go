package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"tradejournal/clients/syncapi"
	"tradejournal/internal/buffer"
	"tradejournal/internal/gate"
	"tradejournal/internal/normalize"
)

const testCounterparty = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"

func newTestIngest(t *testing.T) (*http.ServeMux, *buffer.Buffer, *gate.Gate) {
	t.Helper()
	g := gate.New(nil, nil)
	b := buffer.New(nil, buffer.DefaultConfig())
	h := NewIngestHandler(nil, g, b, normalize.Normalizer{SOLPriceUSD: 150})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, b, g
}

// buyPayload is a webhook body where testWallet pays usdc for amount of testMint.
func buyPayload(sig string, ts int64, amount, usdc float64) []byte {
	body, _ := json.Marshal([]map[string]any{{
		"signature": sig,
		"timestamp": ts,
		"type":      "SWAP",
		"source":    "JUPITER",
		"tokenTransfers": []map[string]any{
			{"mint": normalize.USDCMint, "fromUserAccount": testWallet, "toUserAccount": testCounterparty, "tokenAmount": usdc},
			{"mint": testMint, "fromUserAccount": testCounterparty, "toUserAccount": testWallet, "tokenAmount": amount},
		},
	}})
	return body
}

func postMonitor(mux http.Handler, wallet, secret string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/tx/monitor?wallet="+url.QueryEscape(wallet), bytes.NewReader(body))
	if secret != "" {
		req.Header.Set(syncapi.SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func getSync(mux http.Handler, query, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/tx/sync?"+query, nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestIngestHandler_MonitorBuffersEvents(t *testing.T) {
	mux, b, g := newTestIngest(t)
	now := time.Now().Unix()

	rec := postMonitor(mux, testWallet, testSecret, buyPayload("sigA", now, 1000, 25))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp monitorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Received != 1 {
		t.Errorf("expected one received event, got %+v", resp)
	}
	if b.Len(testWallet) != 1 {
		t.Errorf("expected 1 buffered event, got %d", b.Len(testWallet))
	}
	if !g.Bound(testWallet) {
		t.Error("expected first delivery to bind the wallet secret")
	}
}

func TestIngestHandler_MonitorBearerSecret(t *testing.T) {
	mux, b, _ := newTestIngest(t)

	req := httptest.NewRequest(http.MethodPost, "/tx/monitor?wallet="+testWallet,
		bytes.NewReader(buyPayload("sigA", time.Now().Unix(), 1, 1)))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if b.Len(testWallet) != 1 {
		t.Errorf("expected 1 buffered event, got %d", b.Len(testWallet))
	}
}

func TestIngestHandler_MonitorRejects(t *testing.T) {
	mux, b, _ := newTestIngest(t)
	now := time.Now().Unix()
	if rec := postMonitor(mux, testWallet, testSecret, buyPayload("sigA", now, 1, 1)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for binding delivery, got %d", rec.Code)
	}

	tests := []struct {
		name   string
		wallet string
		secret string
		body   []byte
		want   int
	}{
		{"missing wallet", "", testSecret, buyPayload("sigB", now, 1, 1), http.StatusBadRequest},
		{"invalid wallet", "not-a-wallet", testSecret, buyPayload("sigB", now, 1, 1), http.StatusBadRequest},
		{"wrong secret", testWallet, "other", buyPayload("sigB", now, 1, 1), http.StatusUnauthorized},
		{"missing secret", testWallet, "", buyPayload("sigB", now, 1, 1), http.StatusUnauthorized},
		{"malformed body", testWallet, testSecret, []byte("not json"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMonitor(mux, tt.wallet, tt.secret, tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if b.Len(testWallet) != 1 {
		t.Errorf("expected rejected deliveries to leave the buffer alone, got %d", b.Len(testWallet))
	}
}

func TestIngestHandler_MonitorIrrelevantPayload(t *testing.T) {
	mux, b, _ := newTestIngest(t)

	body := []byte(`[{"signature":"sigA","timestamp":1700000000,"type":"TRANSFER","tokenTransfers":[]}]`)
	rec := postMonitor(mux, testWallet, testSecret, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp monitorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Received != 0 {
		t.Errorf("expected 0 received, got %d", resp.Received)
	}
	if b.Len(testWallet) != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len(testWallet))
	}
}

func TestIngestHandler_SyncPaginates(t *testing.T) {
	mux, _, _ := newTestIngest(t)
	now := time.Now().Unix()
	for i := 0; i < 3; i++ {
		rec := postMonitor(mux, testWallet, testSecret, buyPayload(fmt.Sprintf("sig%d", i), now-int64(10-i), 1, 1))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	rec := getSync(mux, "wallet="+testWallet+"&limit=2", testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var first syncapi.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.OK || first.Wallet != testWallet {
		t.Errorf("unexpected response %+v", first)
	}
	if len(first.Events) != 2 || first.Events[0].Signature != "sig0" || first.Events[1].Signature != "sig1" {
		t.Fatalf("expected sig0 and sig1, got %+v", first.Events)
	}
	if first.NextCursor == nil {
		t.Fatal("expected next cursor")
	}

	rec = getSync(mux, "wallet="+testWallet+"&cursor="+url.QueryEscape(*first.NextCursor), testSecret)
	var second syncapi.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(second.Events) != 1 || second.Events[0].Signature != "sig2" {
		t.Errorf("expected sig2, got %+v", second.Events)
	}
}

func TestIngestHandler_SyncEmpty(t *testing.T) {
	mux, _, g := newTestIngest(t)
	g.Validate(testWallet, testSecret)

	rec := getSync(mux, "wallet="+testWallet, testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["events"]) != "[]" {
		t.Errorf("expected empty events array, got %s", raw["events"])
	}
	if string(raw["nextCursor"]) != "null" {
		t.Errorf("expected null next cursor, got %s", raw["nextCursor"])
	}
}

func TestIngestHandler_SyncRejects(t *testing.T) {
	mux, _, g := newTestIngest(t)
	g.Validate(testWallet, testSecret)

	tests := []struct {
		name   string
		query  string
		secret string
		want   int
	}{
		{"missing wallet", "", testSecret, http.StatusBadRequest},
		{"no token", "wallet=" + testWallet, "", http.StatusUnauthorized},
		{"wrong token", "wallet=" + testWallet, "other", http.StatusUnauthorized},
		{"bad cursor", "wallet=" + testWallet + "&cursor=%21%21", testSecret, http.StatusBadRequest},
		{"bad limit", "wallet=" + testWallet + "&limit=abc", testSecret, http.StatusBadRequest},
		{"negative limit", "wallet=" + testWallet + "&limit=-1", testSecret, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := getSync(mux, tt.query, tt.secret)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
