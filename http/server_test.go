package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/journal"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
	signersvm "github.com/pai-labs/spltransfer/signers/svm"
	mockledger "github.com/pai-labs/spltransfer/test/mocks/ledger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	ledger  *mockledger.Ledger
	keys    *signersvm.Keyring
	sender  solana.PrivateKey
	mint    solana.PublicKey
	server  *Server
	client  *Client
	journal *journal.Journal
}

// newAPIFixture funds keyring account 0 with 1 SOL and 50 units of a
// 6-decimal asset, and serves the API over httptest
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mnemonic, err := signersvm.NewMnemonic()
	require.NoError(t, err)
	keys, err := signersvm.NewHDKeyring(mnemonic, "")
	require.NoError(t, err)
	sender, err := keys.Derive(0)
	require.NoError(t, err)

	l := mockledger.New()
	l.Fund(sender.PublicKey(), 1_000_000_000)
	mint := solana.NewWallet().PublicKey()
	l.CreateMint(mint, solana.Token2022ProgramID, 6)
	_, err = l.MintTo(sender.PublicKey(), mint, 50_000_000)
	require.NoError(t, err)

	wallet, err := spltransfer.NewWallet(spltransfer.WalletConfig{
		Ledger:     l,
		PollPolicy: spltransfer.Policy{MaxAttempts: 10, Interval: time.Millisecond},
	})
	require.NoError(t, err)
	j := journal.Wrap(wallet.Orchestrator())
	wallet.Use(func(spltransfer.Transferer) spltransfer.Transferer { return j })

	server, err := NewServer(ServerConfig{Wallet: wallet, Keys: keys, Journal: j})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	client, err := NewClient(ClientConfig{URL: ts.URL})
	require.NoError(t, err)

	return &apiFixture{ledger: l, keys: keys, sender: sender, mint: mint, server: server, client: client, journal: j}
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)

	wallet, err := spltransfer.NewWallet(spltransfer.WalletConfig{Ledger: mockledger.New()})
	require.NoError(t, err)
	_, err = NewServer(ServerConfig{Wallet: wallet})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestTransferAssetOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	recipient := solana.NewWallet().PublicKey()

	body := TransferBody{
		RequestID: "req-http-1",
		FromIndex: 0,
		To:        recipient.String(),
		Mint:      f.mint.String(),
		Amount:    "10.0",
	}
	resp, err := f.client.Transfer(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, "req-http-1", resp.RequestID)
	assert.Equal(t, uint64(10_000_000), resp.RawAmount)
	assert.Equal(t, f.mint.String(), resp.Mint)
	assert.NotEmpty(t, resp.TransactionID)

	destination, err := svm.DeriveSubAccountAddress(recipient, f.mint, solana.Token2022ProgramID)
	require.NoError(t, err)
	assert.Equal(t, destination.String(), resp.Destination)
	raw, ok := f.ledger.TokenBalance(destination)
	require.True(t, ok)
	assert.Equal(t, uint64(10_000_000), raw)

	t.Run("replay returns the recorded submission", func(t *testing.T) {
		submitted := len(f.ledger.Transactions())
		again, err := f.client.Transfer(ctx, body)
		require.NoError(t, err)
		assert.Equal(t, resp.TransactionID, again.TransactionID)
		assert.Len(t, f.ledger.Transactions(), submitted)
	})

	t.Run("request id reused for another amount", func(t *testing.T) {
		submitted := len(f.ledger.Transactions())
		changed := body
		changed.Amount = "11.0"
		_, err := f.client.Transfer(ctx, changed)
		require.ErrorIs(t, err, spltransfer.ErrRequestConflict)
		assert.Equal(t, http.StatusConflict, StatusFor(err))
		assert.Len(t, f.ledger.Transactions(), submitted)
	})

	t.Run("journal lookup", func(t *testing.T) {
		entry, err := f.client.GetTransfer(ctx, "req-http-1")
		require.NoError(t, err)
		assert.Equal(t, journal.StatusSubmitted, entry.Status)
		assert.Equal(t, resp.TransactionID, entry.TransactionID)
		assert.Equal(t, f.sender.PublicKey().String(), entry.From)
	})
}

func TestTransferNativeOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	recipient := solana.NewWallet().PublicKey()

	resp, err := f.client.Transfer(context.Background(), TransferBody{To: recipient.String(), Amount: "0.25"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, uint64(250_000_000), resp.RawAmount)
	assert.Empty(t, resp.Mint)
	assert.Equal(t, uint64(250_000_000), f.ledger.Lamports(recipient))
}

func TestTransferErrors(t *testing.T) {
	f := newAPIFixture(t)
	recipient := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing fields", map[string]string{"to": recipient}, http.StatusBadRequest, CodeBadRequest},
		{"bad destination", TransferBody{To: "not-base58!", Amount: "1"}, http.StatusBadRequest, CodeBadRequest},
		{"bad amount", TransferBody{To: recipient, Amount: "one"}, http.StatusBadRequest, CodeBadRequest},
		{"below precision", TransferBody{To: recipient, Mint: f.mint.String(), Amount: "0.0000001"}, http.StatusBadRequest, spltransfer.ErrCodeZeroAmount},
		{"negative amount", TransferBody{To: recipient, Amount: "-1"}, http.StatusBadRequest, spltransfer.ErrCodeInvalidAmount},
		{"more than held", TransferBody{To: recipient, Mint: f.mint.String(), Amount: "51"}, http.StatusUnprocessableEntity, spltransfer.ErrCodeInsufficientFunds},
		{"empty account index", TransferBody{FromIndex: 7, To: recipient, Amount: "0.5"}, http.StatusUnprocessableEntity, spltransfer.ErrCodeInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.post(t, "/v1/transfers", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeErrorResponse(t, rec).Code)
		})
	}
}

func TestClientSurfacesLedgerErrors(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.client.Transfer(context.Background(), TransferBody{
		To:     solana.NewWallet().PublicKey().String(),
		Mint:   f.mint.String(),
		Amount: "0.0000001",
	})
	assert.ErrorIs(t, err, spltransfer.ErrZeroAmount)
}

func TestEnsureAccountOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	owner := solana.NewWallet().PublicKey()

	resp, err := f.client.EnsureAccount(context.Background(), EnsureAccountBody{
		Owner: owner.String(),
		Mint:  f.mint.String(),
	})
	require.NoError(t, err)

	expected, err := svm.DeriveSubAccountAddress(owner, f.mint, solana.Token2022ProgramID)
	require.NoError(t, err)
	assert.Equal(t, expected.String(), resp.Address)
	assert.Equal(t, uint8(6), resp.Decimals)
	assert.Equal(t, 1, f.ledger.TokenAccountCount(owner, f.mint))

	again, err := f.client.EnsureAccount(context.Background(), EnsureAccountBody{
		Owner: owner.String(),
		Mint:  f.mint.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, resp.Address, again.Address)
	assert.Equal(t, 1, f.ledger.TokenAccountCount(owner, f.mint))

	t.Run("unknown mint", func(t *testing.T) {
		rec := f.post(t, "/v1/accounts", EnsureAccountBody{Owner: owner.String(), Mint: solana.NewWallet().PublicKey().String()})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, spltransfer.ErrCodeResourceNotFound, decodeErrorResponse(t, rec).Code)
	})
}

func TestBalancesOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.client.Balances(context.Background(), f.sender.PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Native)
	assert.Equal(t, uint64(1_000_000_000), resp.NativeRaw)
	require.Len(t, resp.Assets, 1)
	assert.Equal(t, f.mint.String(), resp.Assets[0].Mint)
	assert.Equal(t, "50", resp.Assets[0].Amount)
	assert.Equal(t, uint8(6), resp.Assets[0].Decimals)

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/balances/nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTransferNotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/transfers/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	wallet, err := spltransfer.NewWallet(spltransfer.WalletConfig{Ledger: mockledger.New()})
	require.NoError(t, err)
	server, err := NewServer(ServerConfig{Wallet: wallet, Keys: f.keys})
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/transfers/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")
}

func TestReleaseTransfer(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, f.journal.Store().Save(ctx, journal.Entry{
		RequestID:     "req-unknown",
		Status:        journal.StatusUnknown,
		TransactionID: solana.Signature{9}.String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	entry, err := f.client.ReleaseTransfer(ctx, "req-unknown")
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, entry.Status)

	_, err = f.client.ReleaseTransfer(ctx, "req-unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	_, err = f.client.ReleaseTransfer(ctx, "req-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{spltransfer.ErrTransport, http.StatusBadGateway},
		{spltransfer.ErrDuplicateRequest, http.StatusConflict},
		{spltransfer.ErrRequestConflict, http.StatusConflict},
		{spltransfer.ErrProvisioningTimeout, http.StatusGatewayTimeout},
		{spltransfer.ErrInstructionFailed, http.StatusUnprocessableEntity},
		{spltransfer.ErrOutcomeUnknown, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newAPIFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
