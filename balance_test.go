package spltransfer_test

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spltransfer "github.com/pai-labs/spltransfer"
	mockledger "github.com/pai-labs/spltransfer/test/mocks/ledger"
)

func newBalanceReader(l *mockledger.Ledger) *spltransfer.BalanceReader {
	return spltransfer.NewBalanceReader(l, spltransfer.NewAssetResolver(l), fastPolicy())
}

func TestAssetBalanceDefaultsWhenAbsent(t *testing.T) {
	l := mockledger.New()
	mint := solana.NewWallet().PublicKey()
	l.CreateMint(mint, solana.Token2022ProgramID, 6)

	raw, decimals, err := newBalanceReader(l).AssetBalance(context.Background(), solana.NewWallet().PublicKey(), mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), raw)
	assert.Equal(t, uint8(spltransfer.DefaultDecimals), decimals)
	assert.Equal(t, 0, l.Calls("GetAsset"))
}

func TestAssetBalanceReportsDecimals(t *testing.T) {
	l := mockledger.New()
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	l.CreateMint(mint, solana.TokenProgramID, 6)
	_, err := l.MintTo(owner, mint, 50_000_000)
	require.NoError(t, err)

	raw, decimals, err := newBalanceReader(l).AssetBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), raw)
	assert.Equal(t, uint8(6), decimals)
}

func TestAssetBalancePrefersAssociatedAccount(t *testing.T) {
	l := mockledger.New()
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	l.CreateMint(mint, solana.TokenProgramID, 6)
	l.PutTokenAccount(solana.NewWallet().PublicKey(), owner, mint, 7)
	_, err := l.MintTo(owner, mint, 3)
	require.NoError(t, err)

	raw, _, err := newBalanceReader(l).AssetBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), raw)
}

func TestNativeBalancePropagatesErrors(t *testing.T) {
	l := mockledger.New()
	l.FailReads(spltransfer.ErrTransport)

	_, err := newBalanceReader(l).NativeBalance(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, spltransfer.ErrTransport)
}

func TestBalances(t *testing.T) {
	l := mockledger.New()
	owner := solana.NewWallet().PublicKey()
	l.Fund(owner, 1_500_000_000)

	usdc := solana.NewWallet().PublicKey()
	l.CreateMint(usdc, solana.TokenProgramID, 6)
	_, err := l.MintTo(owner, usdc, 2_500_000)
	require.NoError(t, err)

	points := solana.NewWallet().PublicKey()
	l.CreateMint(points, solana.Token2022ProgramID, 2)
	_, err = l.MintTo(owner, points, 12345)
	require.NoError(t, err)

	balances, err := newBalanceReader(l).Balances(context.Background(), owner)
	require.NoError(t, err)

	assert.Equal(t, owner, balances.Owner)
	assert.Equal(t, uint64(1_500_000_000), balances.Native)
	assert.Equal(t, "1.5", balances.NativeUIAmount().String())
	require.Len(t, balances.Assets, 2)

	byMint := map[solana.PublicKey]spltransfer.SubAccount{}
	for _, a := range balances.Assets {
		byMint[a.Mint] = a
	}
	assert.Equal(t, "2.5", byMint[usdc].UIAmount().String())
	assert.Equal(t, solana.Token2022ProgramID, byMint[points].ProgramID)
	assert.Equal(t, "123.45", byMint[points].UIAmount().String())
}

func TestAwaitAssetBalance(t *testing.T) {
	l := mockledger.New()
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	l.CreateMint(mint, solana.TokenProgramID, 6)
	_, err := l.MintTo(owner, mint, 10)
	require.NoError(t, err)

	reader := newBalanceReader(l)

	raw, err := reader.AwaitAssetBalance(context.Background(), owner, mint, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), raw)

	_, err = reader.AwaitAssetBalance(context.Background(), owner, mint, 11)
	assert.ErrorIs(t, err, spltransfer.ErrRetryExhausted)
	assert.Equal(t, 11, l.Calls("ListSubAccountsByOwner"))
}
