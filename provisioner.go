package spltransfer

import (
	"context"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// AccountProvisioner makes sure the associated token account of an owner for
// an asset exists, creating it when missing.
//
// Convergence never depends on the outcome of the create submission: the
// account is re-read until it shows up or the poll policy runs out. Two
// processes racing on the same owner both end up returning the one account.
type AccountProvisioner struct {
	ledger LedgerClient
	policy Policy
	strict bool

	inflight singleflight.Group
}

// ProvisionerOption configures an AccountProvisioner
type ProvisionerOption func(*AccountProvisioner)

// WithProvisionPolicy sets the polling bounds used after a create submission
func WithProvisionPolicy(policy Policy) ProvisionerOption {
	return func(p *AccountProvisioner) {
		p.policy = policy
	}
}

// WithStrictTransportErrors makes Ensure fail when the create submission hits
// a transport error instead of polling for an account that may never come.
func WithStrictTransportErrors() ProvisionerOption {
	return func(p *AccountProvisioner) {
		p.strict = true
	}
}

// NewAccountProvisioner creates a provisioner over ledger
func NewAccountProvisioner(ledger LedgerClient, opts ...ProvisionerOption) *AccountProvisioner {
	p := &AccountProvisioner{
		ledger: ledger,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns the sub-account of owner for asset, creating it with payer
// funding the rent when it does not exist yet.
//
// Errors:
//   - ErrInvalidResourceState if an account exists at the derived address for
//     a different owner or mint. Never retried.
//   - ErrProvisioningTimeout if the account did not appear within the poll policy.
//   - ErrTransport from the initial read or any poll read.
//
// Concurrent calls for the same sub-account within this process share a
// single execution and its payer. The shared execution is detached from the
// callers' cancellation and bounded by the poll policy; each caller stops
// waiting when its own context ends.
func (p *AccountProvisioner) Ensure(ctx context.Context, owner solana.PublicKey, asset Asset, payer solana.PrivateKey) (*SubAccount, error) {
	addr, err := svm.DeriveSubAccountAddress(owner, asset.Mint, asset.ProgramID)
	if err != nil {
		return nil, err
	}

	shared := context.WithoutCancel(ctx)
	ch := p.inflight.DoChan(addr.String(), func() (interface{}, error) {
		return p.ensure(shared, addr, owner, asset, payer)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		account := *res.Val.(*SubAccount)
		return &account, nil
	}
}

func (p *AccountProvisioner) ensure(ctx context.Context, addr, owner solana.PublicKey, asset Asset, payer solana.PrivateKey) (*SubAccount, error) {
	logger := log.WithFields(log.Fields{
		"owner":   owner.String(),
		"mint":    asset.Mint.String(),
		"address": addr.String(),
	})

	account, err := p.read(ctx, addr, owner, asset)
	if err == nil {
		return account, nil
	}
	if !isAbsent(err) {
		return nil, err
	}

	logger.Debug("sub-account missing, submitting create")
	if err := p.submitCreate(ctx, owner, asset, payer, logger); err != nil {
		return nil, err
	}

	// Give the create one interval to land before re-reading.
	if err := sleep(ctx, p.policy.Interval); err != nil {
		return nil, err
	}

	account, err = Poll(ctx, p.policy, func(ctx context.Context) (*SubAccount, error) {
		account, err := p.read(ctx, addr, owner, asset)
		if isAbsent(err) {
			logger.Debug("sub-account not visible yet")
			return nil, notReady(err)
		}
		return account, err
	})
	if err != nil {
		if errors.Is(err, ErrRetryExhausted) {
			return nil, WrapLedgerError(ErrCodeProvisioningTimeout,
				fmt.Sprintf("sub-account %s did not appear", addr), err)
		}
		return nil, err
	}

	logger.Info("sub-account provisioned")
	return account, nil
}

// read fetches the account at addr and checks it belongs to owner and asset
func (p *AccountProvisioner) read(ctx context.Context, addr, owner solana.PublicKey, asset Asset) (*SubAccount, error) {
	account, err := p.ledger.GetSubAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !account.Mint.Equals(asset.Mint) || !account.Owner.Equals(owner) {
		return nil, NewLedgerError(ErrCodeInvalidResourceState, ErrInvalidResourceState.Message, map[string]interface{}{
			"address":       addr.String(),
			"expectedOwner": owner.String(),
			"actualOwner":   account.Owner.String(),
			"expectedMint":  asset.Mint.String(),
			"actualMint":    account.Mint.String(),
		})
	}
	account.Address = addr
	account.Decimals = asset.Decimals
	if account.ProgramID.IsZero() {
		account.ProgramID = asset.ProgramID
	}
	return account, nil
}

func (p *AccountProvisioner) submitCreate(ctx context.Context, owner solana.PublicKey, asset Asset, payer solana.PrivateKey, logger *log.Entry) error {
	ix, _, err := svm.NewCreateSubAccountInstruction(payer.PublicKey(), owner, asset.Mint, asset.ProgramID)
	if err != nil {
		return p.discardCreateError(err, logger)
	}
	anchor, err := p.ledger.GetAnchor(ctx)
	if err != nil {
		return p.discardCreateError(err, logger)
	}
	tx, err := svm.BuildSignedTransaction(payer, anchor, ix)
	if err != nil {
		return p.discardCreateError(err, logger)
	}
	sig, err := p.ledger.Submit(ctx, tx, SubmitOptions{SkipPreflight: true})
	if err != nil {
		return p.discardCreateError(err, logger)
	}
	logger.WithField("tx", sig.String()).Info("create sub-account submitted")
	return nil
}

// discardCreateError handles a failed create submission. Every failure class
// is swallowed and left to the re-read that follows:
//   - instruction_failed, including "account already in use" when another
//     party created the account first;
//   - transport_error, where the transaction may or may not have landed;
//   - local build or signing failures.
//
// With WithStrictTransportErrors, transport errors are returned instead.
func (p *AccountProvisioner) discardCreateError(err error, logger *log.Entry) error {
	class := ErrorCode(err)
	if class == "" {
		class = "local"
	}
	if p.strict && errors.Is(err, ErrTransport) {
		return err
	}
	logger.WithError(err).WithField("class", class).Warn("ignoring create sub-account failure, re-reading")
	return nil
}
