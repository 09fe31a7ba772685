// Package spltransfer moves native SOL and SPL tokens between wallets.
//
// The core guarantee is idempotent provisioning of associated token accounts:
// for any (owner, mint) pair exactly one sub-account ends up existing, and
// callers never see an error just because it already did. Creation is
// submitted without waiting on its result and the account is then re-read
// until it is visible, so concurrent provisioners in different processes
// converge on the same account.
//
// Basic usage:
//
//	ledgerClient, _ := ledger.New(ledger.Config{RPCURL: rpc.DevNet_RPC})
//	wallet, _ := spltransfer.NewWallet(spltransfer.WalletConfig{Ledger: ledgerClient})
//
//	result, err := wallet.Transfer(ctx, spltransfer.TransferRequest{
//	    From:   senderKey,
//	    To:     recipient,
//	    Mint:   &usdcMint,
//	    Amount: decimal.RequireFromString("10"),
//	})
//
// A returned SubmissionResult means the ledger accepted the transaction, not
// that it is final. Errors are *LedgerError values; match them with errors.Is
// against the exported sentinels.
package spltransfer
