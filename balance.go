package spltransfer

import (
	"context"
	"fmt"
	"sync"

	solana "github.com/gagliardetto/solana-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// BalanceReader reads native and asset balances of an owner
type BalanceReader struct {
	ledger LedgerClient
	assets *AssetResolver
	policy Policy
}

// NewBalanceReader creates a balance reader. policy bounds AwaitAssetBalance.
func NewBalanceReader(ledger LedgerClient, assets *AssetResolver, policy Policy) *BalanceReader {
	return &BalanceReader{
		ledger: ledger,
		assets: assets,
		policy: policy,
	}
}

// NativeBalance returns the lamport balance of addr. Errors are never masked.
func (r *BalanceReader) NativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return r.ledger.GetNativeBalance(ctx, addr)
}

// AssetBalance returns the raw balance and decimals owner holds of mint.
// An owner without an account for mint holds (0, DefaultDecimals).
//
// When the owner holds several accounts of the same mint, the associated
// account is reported.
func (r *BalanceReader) AssetBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, uint8, error) {
	accounts, err := r.ledger.ListSubAccountsByOwner(ctx, owner)
	if err != nil {
		return 0, 0, err
	}

	account := pickAssociated(owner, mint, accounts)
	if account == nil {
		return 0, DefaultDecimals, nil
	}

	asset, err := r.assets.Resolve(ctx, mint)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to resolve asset %s: %w", mint, err)
	}
	return account.Amount, asset.Decimals, nil
}

func pickAssociated(owner, mint solana.PublicKey, accounts []SubAccount) *SubAccount {
	var first *SubAccount
	for i := range accounts {
		account := &accounts[i]
		if !account.Mint.Equals(mint) {
			continue
		}
		if first == nil {
			first = account
		}
		ata, err := svm.DeriveSubAccountAddress(owner, mint, account.ProgramID)
		if err == nil && ata.Equals(account.Address) {
			return account
		}
	}
	return first
}

// Balances returns the native balance and every sub-account of owner, each
// with its asset decimals resolved.
func (r *BalanceReader) Balances(ctx context.Context, owner solana.PublicKey) (*Balances, error) {
	balances := &Balances{Owner: owner}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		native, err := r.ledger.GetNativeBalance(gctx, owner)
		if err != nil {
			return err
		}
		balances.Native = native
		return nil
	})
	g.Go(func() error {
		accounts, err := r.ledger.ListSubAccountsByOwner(gctx, owner)
		if err != nil {
			return err
		}
		balances.Assets = accounts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	decimals := make(map[solana.PublicKey]uint8)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, mint := range uniqueMints(balances.Assets) {
		g.Go(func() error {
			asset, err := r.assets.Resolve(gctx, mint)
			if err != nil {
				return fmt.Errorf("failed to resolve asset %s: %w", mint, err)
			}
			mu.Lock()
			decimals[mint] = asset.Decimals
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range balances.Assets {
		balances.Assets[i].Decimals = decimals[balances.Assets[i].Mint]
	}
	return balances, nil
}

func uniqueMints(accounts []SubAccount) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(accounts))
	mints := make([]solana.PublicKey, 0, len(accounts))
	for _, account := range accounts {
		if _, ok := seen[account.Mint]; ok {
			continue
		}
		seen[account.Mint] = struct{}{}
		mints = append(mints, account.Mint)
	}
	return mints
}

// AwaitAssetBalance polls until owner holds at least minRaw of mint and
// returns the observed raw balance. Exhaustion yields ErrRetryExhausted.
func (r *BalanceReader) AwaitAssetBalance(ctx context.Context, owner, mint solana.PublicKey, minRaw uint64) (uint64, error) {
	return Poll(ctx, r.policy, func(ctx context.Context) (uint64, error) {
		raw, _, err := r.AssetBalance(ctx, owner, mint)
		if err != nil {
			return 0, err
		}
		if raw < minRaw {
			log.WithFields(log.Fields{
				"owner": owner.String(),
				"mint":  mint.String(),
				"have":  raw,
				"want":  minRaw,
			}).Debug("balance below target")
			return 0, notReady(fmt.Errorf("balance %d below %d", raw, minRaw))
		}
		return raw, nil
	})
}
