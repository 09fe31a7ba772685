package spltransfer

import (
	"context"
	"sync"

	solana "github.com/gagliardetto/solana-go"

	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// AssetResolver answers "which program owns this mint and how many decimals
// does it carry". Registered assets resolve without I/O; anything else is
// read from the ledger once and cached.
type AssetResolver struct {
	ledger LedgerClient

	mu       sync.RWMutex
	registry map[solana.PublicKey]Asset
	cache    map[solana.PublicKey]Asset
}

// NewAssetResolver creates a resolver seeded with the given well-known assets
func NewAssetResolver(ledger LedgerClient, known ...svm.AssetInfo) *AssetResolver {
	r := &AssetResolver{
		ledger:   ledger,
		registry: make(map[solana.PublicKey]Asset, len(known)),
		cache:    make(map[solana.PublicKey]Asset),
	}
	for _, info := range known {
		r.Register(Asset{Mint: info.Mint, ProgramID: info.ProgramID, Decimals: info.Decimals})
	}
	return r
}

// Register pins asset so it never needs a ledger read
func (r *AssetResolver) Register(asset Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[asset.Mint] = asset
}

// Known returns the asset without touching the ledger
func (r *AssetResolver) Known(mint solana.PublicKey) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if asset, ok := r.registry[mint]; ok {
		return asset, true
	}
	asset, ok := r.cache[mint]
	return asset, ok
}

// Resolve returns the asset for mint, reading the ledger on a miss
func (r *AssetResolver) Resolve(ctx context.Context, mint solana.PublicKey) (Asset, error) {
	if asset, ok := r.Known(mint); ok {
		return asset, nil
	}

	asset, err := r.ledger.GetAsset(ctx, mint)
	if err != nil {
		return Asset{}, err
	}
	if !svm.IsTokenProgram(asset.ProgramID) {
		return Asset{}, NewLedgerError(ErrCodeInvalidOwner, "mint is not owned by a token program", map[string]interface{}{
			"mint":    mint.String(),
			"program": asset.ProgramID.String(),
		})
	}

	r.mu.Lock()
	r.cache[mint] = *asset
	r.mu.Unlock()
	return *asset, nil
}
