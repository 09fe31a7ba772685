package spltransfer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
	mockledger "github.com/pai-labs/spltransfer/test/mocks/ledger"
)

func fastPolicy() spltransfer.Policy {
	return spltransfer.Policy{MaxAttempts: 10, Interval: time.Millisecond}
}

type fixture struct {
	ledger *mockledger.Ledger
	payer  solana.PrivateKey
	owner  solana.PublicKey
	asset  spltransfer.Asset
}

func newFixture(t *testing.T, programID solana.PublicKey, opts ...mockledger.Option) *fixture {
	t.Helper()
	l := mockledger.New(opts...)
	payer := solana.NewWallet().PrivateKey
	l.Fund(payer.PublicKey(), 1_000_000_000)

	mint := solana.NewWallet().PublicKey()
	l.CreateMint(mint, programID, 6)

	return &fixture{
		ledger: l,
		payer:  payer,
		owner:  solana.NewWallet().PublicKey(),
		asset:  spltransfer.Asset{Mint: mint, ProgramID: programID, Decimals: 6},
	}
}

func (f *fixture) provisioner(opts ...spltransfer.ProvisionerOption) *spltransfer.AccountProvisioner {
	opts = append([]spltransfer.ProvisionerOption{spltransfer.WithProvisionPolicy(fastPolicy())}, opts...)
	return spltransfer.NewAccountProvisioner(f.ledger, opts...)
}

func (f *fixture) expectedAddress(t *testing.T) solana.PublicKey {
	t.Helper()
	addr, err := svm.DeriveSubAccountAddress(f.owner, f.asset.Mint, f.asset.ProgramID)
	require.NoError(t, err)
	return addr
}

func TestEnsureExistingAccount(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID)
	addr, err := f.ledger.MintTo(f.owner, f.asset.Mint, 5)
	require.NoError(t, err)

	account, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.NoError(t, err)

	assert.Equal(t, addr, account.Address)
	assert.Equal(t, uint64(5), account.Amount)
	assert.Equal(t, uint8(6), account.Decimals)
	assert.Equal(t, 0, f.ledger.Calls("Submit"))
}

func TestEnsureCreatesMissingAccount(t *testing.T) {
	for _, programID := range svm.TokenPrograms() {
		t.Run(programID.String(), func(t *testing.T) {
			f := newFixture(t, programID)

			account, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
			require.NoError(t, err)

			assert.Equal(t, f.expectedAddress(t), account.Address)
			assert.Equal(t, f.owner, account.Owner)
			assert.Equal(t, f.asset.Mint, account.Mint)
			assert.Equal(t, programID, account.ProgramID)
			assert.Equal(t, 1, f.ledger.Calls("Submit"))
			assert.Equal(t, 1, f.ledger.TokenAccountCount(f.owner, f.asset.Mint))
		})
	}
}

func TestEnsureIsIdempotentSequentially(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID)
	p := f.provisioner()

	first, err := p.Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.NoError(t, err)
	second, err := p.Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, f.ledger.Calls("Submit"))
	assert.Equal(t, 1, f.ledger.TokenAccountCount(f.owner, f.asset.Mint))
}

func TestEnsureCoalescesConcurrentCallers(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID, mockledger.WithVisibilityDelay(3))
	p := f.provisioner()

	const callers = 8
	results := make([]*spltransfer.SubAccount, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Ensure(context.Background(), f.owner, f.asset, f.payer)
		}(i)
	}
	wg.Wait()

	expected := f.expectedAddress(t)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, expected, results[i].Address)
	}
	assert.Equal(t, 1, f.ledger.Calls("Submit"))
	assert.Equal(t, 1, f.ledger.TokenAccountCount(f.owner, f.asset.Mint))
}

func TestEnsureConvergesAcrossProcesses(t *testing.T) {
	f := newFixture(t, solana.Token2022ProgramID, mockledger.WithVisibilityDelay(2))

	// Separate provisioners share nothing but the ledger.
	const processes = 4
	results := make([]*spltransfer.SubAccount, processes)
	errs := make([]error, processes)

	var wg sync.WaitGroup
	for i := 0; i < processes; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
		}(i)
	}
	wg.Wait()

	expected := f.expectedAddress(t)
	for i := 0; i < processes; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, expected, results[i].Address)
	}
	assert.Equal(t, 1, f.ledger.TokenAccountCount(f.owner, f.asset.Mint))
	assert.Len(t, f.ledger.Transactions(), 1)
}

func TestEnsureSharedCallerOutlivesCancelledLeader(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID, mockledger.WithVisibilityDelay(5))
	p := spltransfer.NewAccountProvisioner(f.ledger, spltransfer.WithProvisionPolicy(spltransfer.Policy{
		MaxAttempts: 10,
		Interval:    20 * time.Millisecond,
	}))

	leaderCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var (
		wg        sync.WaitGroup
		leaderErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, leaderErr = p.Ensure(leaderCtx, f.owner, f.asset, f.payer)
	}()

	time.Sleep(5 * time.Millisecond)
	account, err := p.Ensure(context.Background(), f.owner, f.asset, f.payer)
	wg.Wait()

	assert.ErrorIs(t, leaderErr, context.DeadlineExceeded)
	require.NoError(t, err)
	assert.Equal(t, f.expectedAddress(t), account.Address)
	assert.Equal(t, 1, f.ledger.Calls("Submit"))
	assert.Equal(t, 1, f.ledger.TokenAccountCount(f.owner, f.asset.Mint))
}

func TestEnsureWaitsBeforeFirstReread(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID)
	interval := 30 * time.Millisecond
	p := spltransfer.NewAccountProvisioner(f.ledger, spltransfer.WithProvisionPolicy(spltransfer.Policy{
		MaxAttempts: 3,
		Interval:    interval,
	}))

	start := time.Now()
	_, err := p.Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), interval)
	// the initial read plus a single re-read after the pause
	assert.Equal(t, 2, f.ledger.Calls("GetSubAccount"))
}

func TestEnsureSurvivesFailingCreate(t *testing.T) {
	lost := spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, "response lost", context.DeadlineExceeded)
	f := newFixture(t, solana.TokenProgramID, mockledger.WithCreateError(lost, true))

	account, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.NoError(t, err)
	assert.Equal(t, f.expectedAddress(t), account.Address)
}

func TestEnsureTimesOutWhenCreateNeverLands(t *testing.T) {
	dropped := spltransfer.NewLedgerError(spltransfer.ErrCodeInstructionFailed, "blockhash not found", nil)
	f := newFixture(t, solana.TokenProgramID, mockledger.WithCreateError(dropped, false))

	_, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.Error(t, err)
	assert.ErrorIs(t, err, spltransfer.ErrProvisioningTimeout)
	assert.ErrorIs(t, err, spltransfer.ErrRetryExhausted)
	assert.True(t, spltransfer.IsRetryable(err))
	// one initial read plus ten polls
	assert.Equal(t, 11, f.ledger.Calls("GetSubAccount"))
}

func TestEnsureStrictTransportErrors(t *testing.T) {
	lost := spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, "connection refused", nil)
	f := newFixture(t, solana.TokenProgramID, mockledger.WithCreateError(lost, false))

	_, err := f.provisioner(spltransfer.WithStrictTransportErrors()).Ensure(context.Background(), f.owner, f.asset, f.payer)
	assert.ErrorIs(t, err, spltransfer.ErrTransport)
	assert.Equal(t, 1, f.ledger.Calls("GetSubAccount"))
}

func TestEnsureRejectsMismatchedAccount(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID)
	addr := f.expectedAddress(t)
	intruder := solana.NewWallet().PublicKey()
	f.ledger.PutTokenAccount(addr, intruder, f.asset.Mint, 0)

	_, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.Error(t, err)
	assert.ErrorIs(t, err, spltransfer.ErrInvalidResourceState)
	assert.False(t, spltransfer.IsRetryable(err))
	assert.Equal(t, 1, f.ledger.Calls("GetSubAccount"))
	assert.Equal(t, 0, f.ledger.Calls("Submit"))
}

func TestEnsurePrefundedAddress(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID)
	addr := f.expectedAddress(t)
	f.ledger.Fund(addr, 1_000)

	account, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
	require.NoError(t, err)
	assert.Equal(t, addr, account.Address)
	assert.Equal(t, 1, f.ledger.Calls("Submit"))
}

func TestEnsurePropagatesReadErrors(t *testing.T) {
	f := newFixture(t, solana.TokenProgramID)
	f.ledger.FailReads(spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, "rpc down", nil))

	_, err := f.provisioner().Ensure(context.Background(), f.owner, f.asset, f.payer)
	assert.ErrorIs(t, err, spltransfer.ErrTransport)
	assert.Equal(t, 0, f.ledger.Calls("Submit"))
}
