// Package normalize turns enhanced-transaction webhook payloads into canonical
// swap events for a single wallet.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPayload is returned when the body is not a JSON object or array.
var ErrInvalidPayload = errors.New("invalid payload")

// Mints treated as the quote side of a swap.
const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint       = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

const lamportsPerSOL = 1e9

// minNativeSOL filters rent, tips and fee dust out of native transfers.
const minNativeSOL = 0.001

type tokenTransfer struct {
	Mint            string  `json:"mint"`
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	TokenAmount     float64 `json:"tokenAmount"`
}

type nativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// Transaction is the validated subset of an enhanced transaction we rely on.
type Transaction struct {
	Signature       string           `json:"signature"`
	Timestamp       int64            `json:"timestamp"`
	Type            string           `json:"type"`
	Source          string           `json:"source"`
	TokenTransfers  []tokenTransfer  `json:"tokenTransfers"`
	NativeTransfers []nativeTransfer `json:"nativeTransfers"`

	raw json.RawMessage
}

// usable reports whether the transaction has the minimum shape to produce events.
func (t Transaction) usable() bool {
	return t.Signature != "" && t.Timestamp > 0 && len(t.TokenTransfers) > 0
}

// Decode parses a webhook body into transactions. Providers deliver either a
// single object or an array; array elements that are not objects are dropped.
func Decode(payload []byte) ([]Transaction, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case '{':
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: malformed object", ErrInvalidPayload)
		}
		items = []json.RawMessage{json.RawMessage(trimmed)}
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrInvalidPayload)
	}

	txs := make([]Transaction, 0, len(items))
	for _, item := range items {
		var tx Transaction
		if err := json.Unmarshal(item, &tx); err != nil {
			continue
		}
		tx.raw = append(json.RawMessage(nil), item...)
		txs = append(txs, tx)
	}
	return txs, nil
}
