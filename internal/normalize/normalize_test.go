package normalize

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"tradejournal/internal/txevent"
)

const (
	testWallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	otherUser  = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	bonkMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	wifMint    = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
)

func swapPayload(sig string, ts int64, transfers ...map[string]any) map[string]any {
	return map[string]any{
		"signature":      sig,
		"timestamp":      ts,
		"type":           "SWAP",
		"source":         "JUPITER",
		"tokenTransfers": transfers,
	}
}

func transfer(mint, from, to string, amount float64) map[string]any {
	return map[string]any{
		"mint":            mint,
		"fromUserAccount": from,
		"toUserAccount":   to,
		"tokenAmount":     amount,
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalize_BuyWithUSDC(t *testing.T) {
	payload := mustJSON(t, swapPayload("sigA", 1700000000,
		transfer(USDCMint, testWallet, otherUser, 25),
		transfer(bonkMint, otherUser, testWallet, 1000),
	))

	events := Normalize(payload, testWallet)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != txevent.Buy {
		t.Errorf("expected BUY, got %s", ev.Type)
	}
	if ev.TokenMint != bonkMint {
		t.Errorf("expected mint %s, got %s", bonkMint, ev.TokenMint)
	}
	if !approx(ev.AmountToken, 1000) {
		t.Errorf("expected amount 1000, got %f", ev.AmountToken)
	}
	if ev.AmountUSD == nil || !approx(*ev.AmountUSD, 25) {
		t.Errorf("expected amountUsd 25, got %v", ev.AmountUSD)
	}
	if ev.PriceUSD == nil || !approx(*ev.PriceUSD, 0.025) {
		t.Errorf("expected priceUsd 0.025, got %v", ev.PriceUSD)
	}
	if ev.Dex != "JUPITER" {
		t.Errorf("expected dex JUPITER, got %q", ev.Dex)
	}
	if ev.Wallet != testWallet || ev.BlockTime != 1700000000 || ev.Signature != "sigA" {
		t.Errorf("unexpected identity fields: %+v", ev)
	}
	if len(ev.Raw) == 0 {
		t.Error("expected raw payload to be attached")
	}
}

func TestNormalize_SellWithSOLPrice(t *testing.T) {
	tx := swapPayload("sigB", 1700000100,
		transfer(wifMint, testWallet, otherUser, 50),
	)
	tx["nativeTransfers"] = []map[string]any{
		{"fromUserAccount": otherUser, "toUserAccount": testWallet, "amount": 2_000_000_000},
		{"fromUserAccount": testWallet, "toUserAccount": otherUser, "amount": 5000}, // fee dust
	}
	payload := mustJSON(t, tx)

	events := Normalizer{SOLPriceUSD: 150}.Normalize(payload, testWallet)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != txevent.Sell {
		t.Errorf("expected SELL, got %s", ev.Type)
	}
	if !approx(ev.AmountToken, 50) {
		t.Errorf("expected amount 50, got %f", ev.AmountToken)
	}
	if ev.AmountUSD == nil || !approx(*ev.AmountUSD, 300) {
		t.Errorf("expected amountUsd 300, got %v", ev.AmountUSD)
	}

	// Without a SOL price the valuation is absent.
	events = Normalize(payload, testWallet)
	if len(events) != 1 || events[0].AmountUSD != nil || events[0].PriceUSD != nil {
		t.Errorf("expected unpriced event, got %+v", events)
	}
}

func TestNormalize_SkipsIrrelevantPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"no transfers", map[string]any{"signature": "s", "timestamp": 1}},
		{"no timestamp", map[string]any{"signature": "s", "tokenTransfers": []any{transfer(bonkMint, otherUser, testWallet, 1)}}},
		{"no signature", map[string]any{"timestamp": 1, "tokenTransfers": []any{transfer(bonkMint, otherUser, testWallet, 1)}}},
		{"other wallet", swapPayload("s", 1, transfer(bonkMint, otherUser, "someone", 1))},
		{"only quote legs", swapPayload("s", 1, transfer(USDCMint, testWallet, otherUser, 5))},
		{"self transfer", swapPayload("s", 1, transfer(bonkMint, testWallet, testWallet, 5))},
		{"empty object", map[string]any{}},
		{"array of junk", []any{1, "x", nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Normalize(mustJSON(t, tt.payload), testWallet)
			if len(events) != 0 {
				t.Errorf("expected no events, got %d", len(events))
			}
		})
	}
}

func TestNormalize_SortedAndDeterministic(t *testing.T) {
	payload := mustJSON(t, []any{
		swapPayload("sigC", 300, transfer(bonkMint, otherUser, testWallet, 1)),
		swapPayload("sigB", 100, transfer(bonkMint, otherUser, testWallet, 1)),
		swapPayload("sigA", 300, transfer(bonkMint, testWallet, otherUser, 1)),
	})

	first := Normalize(payload, testWallet)
	want := []string{"sigB", "sigA", "sigC"}
	if len(first) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(first))
	}
	for i, sig := range want {
		if first[i].Signature != sig {
			t.Errorf("position %d: expected %s, got %s", i, sig, first[i].Signature)
		}
	}

	second := Normalize(payload, testWallet)
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical output for identical payloads")
	}
}

func TestNormalize_TokenToTokenSwapIsUnpriced(t *testing.T) {
	payload := mustJSON(t, swapPayload("sigX", 500,
		transfer(bonkMint, testWallet, otherUser, 1000),
		transfer(wifMint, otherUser, testWallet, 3),
		transfer(USDCMint, testWallet, otherUser, 1),
	))
	events := Normalize(payload, testWallet)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.AmountUSD != nil {
			t.Errorf("expected no USD attribution for %s, got %v", ev.TokenMint, *ev.AmountUSD)
		}
	}
	if events[0].TokenMint != bonkMint || events[0].Type != txevent.Sell {
		t.Errorf("expected SELL %s first, got %s %s", bonkMint, events[0].Type, events[0].TokenMint)
	}
	if events[1].TokenMint != wifMint || events[1].Type != txevent.Buy {
		t.Errorf("expected BUY %s second, got %s %s", wifMint, events[1].Type, events[1].TokenMint)
	}
}

func TestNormalize_UnknownSourceDropped(t *testing.T) {
	tx := swapPayload("sigU", 10, transfer(bonkMint, otherUser, testWallet, 1))
	tx["source"] = "UNKNOWN"
	events := Normalize(mustJSON(t, tx), testWallet)
	if len(events) != 1 || events[0].Dex != "" {
		t.Errorf("expected empty dex, got %+v", events)
	}
}

func TestDecode_InvalidShapes(t *testing.T) {
	tests := []string{"", "   ", "42", `"str"`, "{broken", "[1,"}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			if _, err := Decode([]byte(in)); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestDecode_ObjectAndArray(t *testing.T) {
	txs, err := Decode([]byte(`{"signature":"a","timestamp":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 1 || txs[0].Signature != "a" {
		t.Errorf("expected one transaction, got %+v", txs)
	}

	txs, err = Decode([]byte(`[{"signature":"a"},{"signature":"b"},7]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(txs))
	}
}
