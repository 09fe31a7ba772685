package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	spltransfer "github.com/pai-labs/spltransfer"
	apihttp "github.com/pai-labs/spltransfer/http"
	"github.com/pai-labs/spltransfer/journal"
	"github.com/pai-labs/spltransfer/mcp"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
	"github.com/pai-labs/spltransfer/mechanisms/svm/ledger"
	signersvm "github.com/pai-labs/spltransfer/signers/svm"
)

var (
	newMnemonicCommand = cli.Command{
		Name:  "new-mnemonic",
		Usage: "Generate a fresh 24-word mnemonic",
		Action: func(c *cli.Context) error {
			mnemonic, err := signersvm.NewMnemonic()
			if err != nil {
				return err
			}
			fmt.Println(mnemonic)
			return nil
		},
	}
	addressCommand = cli.Command{
		Name:   "address",
		Usage:  "Show keyring addresses",
		Flags:  []cli.Flag{indexFlag, countFlag},
		Action: addresses,
	}
	balanceCommand = cli.Command{
		Name:   "balance",
		Usage:  "Show native and token balances of an owner",
		Flags:  []cli.Flag{ownerFlag, indexFlag},
		Action: balance,
	}
	ensureAccountCommand = cli.Command{
		Name:   "ensure-account",
		Usage:  "Create the owner's associated token account for a mint unless it exists",
		Flags:  []cli.Flag{ownerFlag, requiredMintFlag, indexFlag},
		Action: ensureAccount,
	}
	sendCommand = cli.Command{
		Name:   "send",
		Usage:  "Transfer native currency or a token from the keyring account at --index",
		Flags:  []cli.Flag{toFlag, amountFlag, mintFlag, indexFlag, requestIDFlag, waitFlag},
		Action: send,
	}
	serveCommand = cli.Command{
		Name:   "serve",
		Usage:  "Serve the HTTP API",
		Action: serve,
	}
	mcpCommand = cli.Command{
		Name:   "mcp",
		Usage:  "Serve the wallet as MCP tools",
		Flags:  []cli.Flag{sseFlag},
		Action: serveMCP,
	}
)

// runtime holds the collaborators a command works with
type runtime struct {
	ledger  *ledger.Client
	wallet  *spltransfer.Wallet
	journal *journal.Journal
	store   journal.Store
	keys    signersvm.KeySource
}

func openRuntime(ctx context.Context, needKeys, withJournal bool) (*runtime, error) {
	rt := &runtime{}
	if needKeys {
		keys, err := cfg.KeySource()
		if err != nil {
			return nil, err
		}
		rt.keys = keys
	}

	client, err := cfg.LedgerClient()
	if err != nil {
		return nil, err
	}
	rt.ledger = client

	wallet, err := spltransfer.NewWallet(cfg.WalletConfig(client))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.wallet = wallet
	if !withJournal {
		return rt, nil
	}

	store, err := cfg.JournalStore(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	rt.store = store
	rt.journal = journal.Wrap(wallet.Orchestrator(), journal.WithStore(store))
	wallet.Use(func(spltransfer.Transferer) spltransfer.Transferer { return rt.journal })

	return rt, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			log.WithError(err).Warn("failed to close journal")
		}
	}
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			log.WithError(err).Debug("failed to close rpc client")
		}
	}
}

// ownerOrSelf returns --owner, or the address of the signing key at --index
func (rt *runtime) ownerOrSelf(c *cli.Context) (solana.PublicKey, error) {
	if owner := c.String(ownerFlag.Name); owner != "" {
		return svm.ParsePublicKey("owner", owner)
	}
	if rt.keys == nil {
		keys, err := cfg.KeySource()
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("--owner or a signing key is required: %w", err)
		}
		rt.keys = keys
	}
	key, err := rt.keys.Derive(uint32(c.Uint(indexFlag.Name)))
	if err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

func addresses(c *cli.Context) error {
	keys, err := cfg.KeySource()
	if err != nil {
		return err
	}

	start := uint32(c.Uint(indexFlag.Name))
	count := uint32(c.Uint(countFlag.Name))
	type indexed struct {
		Index   uint32 `json:"index"`
		Address string `json:"address"`
	}
	out := make([]indexed, 0, count)
	for i := start; i < start+count; i++ {
		key, err := keys.Derive(i)
		if err != nil {
			return err
		}
		out = append(out, indexed{Index: i, Address: key.PublicKey().String()})
	}
	return printJSON(out)
}

func balance(c *cli.Context) error {
	rt, err := openRuntime(c.Context, false, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	owner, err := rt.ownerOrSelf(c)
	if err != nil {
		return err
	}
	balances, err := rt.wallet.GetBalances(c.Context, owner)
	if err != nil {
		return err
	}
	return printJSON(apihttp.NewBalancesResponse(balances))
}

func ensureAccount(c *cli.Context) error {
	rt, err := openRuntime(c.Context, true, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	owner, err := rt.ownerOrSelf(c)
	if err != nil {
		return err
	}
	mint, err := svm.ParsePublicKey("mint", c.String(requiredMintFlag.Name))
	if err != nil {
		return err
	}
	payer, err := rt.keys.Derive(uint32(c.Uint(indexFlag.Name)))
	if err != nil {
		return err
	}

	account, err := rt.wallet.EnsureAccount(c.Context, owner, mint, payer)
	if err != nil {
		return err
	}
	return printJSON(apihttp.NewAccountResponse(*account))
}

func send(c *cli.Context) error {
	rt, err := openRuntime(c.Context, true, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	to, err := svm.ParsePublicKey("to", c.String(toFlag.Name))
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(c.String(amountFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	from, err := rt.keys.Derive(uint32(c.Uint(indexFlag.Name)))
	if err != nil {
		return err
	}

	req := spltransfer.TransferRequest{
		RequestID: c.String(requestIDFlag.Name),
		From:      from,
		To:        to,
		Amount:    amount,
	}
	if mint := c.String(mintFlag.Name); mint != "" {
		pk, err := svm.ParsePublicKey("mint", mint)
		if err != nil {
			return err
		}
		req.Mint = &pk
	}

	var before uint64
	wait := c.Bool(waitFlag.Name)
	if wait {
		if before, err = destinationBalance(c.Context, rt.wallet, req); err != nil {
			return err
		}
	}

	result, err := rt.wallet.Transfer(c.Context, req)
	if err != nil {
		return err
	}
	if err := printJSON(apihttp.NewTransferResponse(result)); err != nil {
		return err
	}

	if wait {
		observed, err := awaitDestination(c.Context, rt.wallet, req, before+result.RawAmount)
		if err != nil {
			return fmt.Errorf("transfer %s submitted but not yet visible: %w", result.TransactionID, err)
		}
		log.WithField("balance", observed).Info("destination balance confirmed")
	}
	return nil
}

func destinationBalance(ctx context.Context, wallet *spltransfer.Wallet, req spltransfer.TransferRequest) (uint64, error) {
	if req.IsNative() {
		return wallet.NativeBalance(ctx, req.To)
	}
	raw, _, err := wallet.AssetBalance(ctx, req.To, *req.Mint)
	return raw, err
}

func awaitDestination(ctx context.Context, wallet *spltransfer.Wallet, req spltransfer.TransferRequest, target uint64) (uint64, error) {
	if !req.IsNative() {
		return wallet.AwaitAssetBalance(ctx, req.To, *req.Mint, target)
	}
	return spltransfer.Poll(ctx, cfg.PollPolicy(), func(ctx context.Context) (uint64, error) {
		lamports, err := wallet.NativeBalance(ctx, req.To)
		if err != nil {
			return 0, err
		}
		if lamports < target {
			return 0, fmt.Errorf("%w: balance %d below %d", spltransfer.ErrNotReady, lamports, target)
		}
		return lamports, nil
	})
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, true, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.LogLevel < int(log.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Wallet:         rt.wallet,
		Keys:           rt.keys,
		Journal:        rt.journal,
		RequestTimeout: 2 * time.Minute,
	})
	if err != nil {
		return err
	}
	return server.Run(ctx, cfg.Listen)
}

func serveMCP(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, true, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	server, err := mcp.NewServer(mcp.ServerConfig{
		Wallet:  rt.wallet,
		Keys:    rt.keys,
		Journal: rt.journal,
		Version: c.App.Version,
	})
	if err != nil {
		return err
	}

	addr := c.String(sseFlag.Name)
	if addr == "" {
		return server.RunStdio(ctx)
	}

	srv := &http.Server{Addr: addr, Handler: server.SSEHandler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", addr).Info("mcp server listening for sse clients")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
