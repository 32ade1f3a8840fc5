// Package gate binds a shared secret to each wallet. The first secret presented
// for a wallet is accepted and remembered; later callers must present the same one.
package gate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Gate validates wallet secrets.
type Gate struct {
	logger *zap.Logger

	mu       sync.RWMutex
	bindings map[string][32]byte
}

// New creates a Gate. Preset maps wallet -> secret and is bound up front.
func New(logger *zap.Logger, preset map[string]string) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		logger:   logger,
		bindings: make(map[string][32]byte, len(preset)),
	}
	for wallet, secret := range preset {
		wallet = strings.TrimSpace(wallet)
		secret = strings.TrimSpace(secret)
		if wallet == "" || secret == "" {
			continue
		}
		g.bindings[wallet] = sha256.Sum256([]byte(secret))
	}
	return g
}

// Validate reports whether secret is the one bound to wallet, binding it when
// the wallet has not been seen before.
func (g *Gate) Validate(wallet, secret string) bool {
	if wallet == "" || secret == "" {
		return false
	}
	sum := sha256.Sum256([]byte(secret))

	g.mu.RLock()
	bound, ok := g.bindings[wallet]
	g.mu.RUnlock()
	if ok {
		return subtle.ConstantTimeCompare(bound[:], sum[:]) == 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Another caller may have bound the wallet between the locks.
	if bound, ok := g.bindings[wallet]; ok {
		return subtle.ConstantTimeCompare(bound[:], sum[:]) == 1
	}
	g.bindings[wallet] = sum
	g.logger.Info("bound secret to wallet",
		zap.String("wallet", wallet),
		zap.String("fingerprint", hex.EncodeToString(sum[:4])))
	return true
}

// Bound reports whether wallet already has a secret.
func (g *Gate) Bound(wallet string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.bindings[wallet]
	return ok
}

// Count returns the number of bound wallets.
func (g *Gate) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.bindings)
}
