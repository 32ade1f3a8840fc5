package normalize

import (
	"math"
	"sort"
	"strings"

	"tradejournal/internal/txevent"
)

// dustAmount is the smallest net token movement that counts as a trade.
const dustAmount = 1e-12

// Normalizer maps payloads to events. The zero value prices only stablecoin legs.
type Normalizer struct {
	// SOLPriceUSD values SOL-quoted swaps when > 0.
	SOLPriceUSD float64
}

// Normalize is Normalizer{}.Normalize.
func Normalize(payload []byte, wallet string) []txevent.Event {
	return Normalizer{}.Normalize(payload, wallet)
}

// Normalize returns the wallet's swap events found in payload, sorted by
// (blockTime, signature). Unrecognised or irrelevant payloads yield nothing.
func (n Normalizer) Normalize(payload []byte, wallet string) []txevent.Event {
	txs, err := Decode(payload)
	if err != nil {
		return nil
	}
	return n.FromTransactions(txs, wallet)
}

// FromTransactions normalizes already decoded transactions.
func (n Normalizer) FromTransactions(txs []Transaction, wallet string) []txevent.Event {
	if wallet == "" {
		return nil
	}
	var events []txevent.Event
	for _, tx := range txs {
		if !tx.usable() {
			continue
		}
		events = append(events, n.fromTransaction(tx, wallet)...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return txevent.Less(events[i], events[j])
	})
	return events
}

func (n Normalizer) fromTransaction(tx Transaction, wallet string) []txevent.Event {
	net := make(map[string]float64)
	var stableIn, stableOut, solIn, solOut float64

	for _, tt := range tx.TokenTransfers {
		amt := math.Abs(tt.TokenAmount)
		in := tt.ToUserAccount == wallet
		out := tt.FromUserAccount == wallet
		if in == out {
			continue
		}
		switch tt.Mint {
		case USDCMint, USDTMint:
			if in {
				stableIn += amt
			} else {
				stableOut += amt
			}
		case WrappedSOLMint:
			if in {
				solIn += amt
			} else {
				solOut += amt
			}
		case "":
		default:
			if in {
				net[tt.Mint] += amt
			} else {
				net[tt.Mint] -= amt
			}
		}
	}

	for _, nt := range tx.NativeTransfers {
		sol := float64(nt.Amount) / lamportsPerSOL
		if sol < minNativeSOL {
			continue
		}
		switch {
		case nt.ToUserAccount == wallet && nt.FromUserAccount != wallet:
			solIn += sol
		case nt.FromUserAccount == wallet && nt.ToUserAccount != wallet:
			solOut += sol
		}
	}

	mints := make([]string, 0, len(net))
	for mint, amt := range net {
		if math.Abs(amt) > dustAmount {
			mints = append(mints, mint)
		}
	}
	if len(mints) == 0 {
		return nil
	}
	sort.Strings(mints)

	dex := strings.TrimSpace(tx.Source)
	if strings.EqualFold(dex, "UNKNOWN") {
		dex = ""
	}

	events := make([]txevent.Event, 0, len(mints))
	for _, mint := range mints {
		amt := net[mint]
		ev := txevent.Event{
			Signature:   tx.Signature,
			Wallet:      wallet,
			BlockTime:   tx.Timestamp,
			TokenMint:   mint,
			Type:        txevent.Buy,
			AmountToken: amt,
			Dex:         dex,
			Raw:         tx.raw,
		}
		stable, sol := stableOut, solOut
		if amt < 0 {
			ev.Type = txevent.Sell
			ev.AmountToken = -amt
			stable, sol = stableIn, solIn
		}
		// A quote leg can only be attributed when a single token moved.
		if len(mints) == 1 {
			if usd, ok := n.quoteUSD(stable, sol); ok {
				price := usd / ev.AmountToken
				ev.AmountUSD = &usd
				ev.PriceUSD = &price
			}
		}
		events = append(events, ev)
	}
	return events
}

func (n Normalizer) quoteUSD(stable, sol float64) (float64, bool) {
	if stable > 0 {
		return stable, true
	}
	if sol > 0 && n.SOLPriceUSD > 0 {
		return sol * n.SOLPriceUSD, true
	}
	return 0, false
}
