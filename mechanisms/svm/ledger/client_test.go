package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcAccount struct {
	owner solana.PublicKey
	data  []byte
}

// fakeNode answers the handful of JSON-RPC methods the client uses
type fakeNode struct {
	mu       sync.Mutex
	accounts map[string]rpcAccount
	balances map[string]uint64
	sendErr  map[string]interface{}
	methods  []string
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		accounts: make(map[string]rpcAccount),
		balances: make(map[string]uint64),
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods = append(n.methods, req.Method)

	ctx := map[string]interface{}{"slot": 1}
	var result interface{}
	var rpcErr map[string]interface{}

	param := func(i int) string {
		var s string
		_ = json.Unmarshal(req.Params[i], &s)
		return s
	}

	switch req.Method {
	case "getBalance":
		result = map[string]interface{}{"context": ctx, "value": n.balances[param(0)]}
	case "getAccountInfo":
		account, ok := n.accounts[param(0)]
		if !ok {
			result = map[string]interface{}{"context": ctx, "value": nil}
			break
		}
		result = map[string]interface{}{"context": ctx, "value": encodeAccount(account)}
	case "getTokenAccountsByOwner":
		owner := param(0)
		var filter struct {
			ProgramID string `json:"programId"`
		}
		_ = json.Unmarshal(req.Params[1], &filter)

		values := []interface{}{}
		for addr, account := range n.accounts {
			if account.owner.String() != filter.ProgramID || len(account.data) < svm.TokenAccountSize {
				continue
			}
			decoded, err := svm.DecodeTokenAccount(account.data)
			if err != nil || decoded.Owner.String() != owner {
				continue
			}
			values = append(values, map[string]interface{}{"pubkey": addr, "account": encodeAccount(account)})
		}
		result = map[string]interface{}{"context": ctx, "value": values}
	case "getLatestBlockhash":
		result = map[string]interface{}{"context": ctx, "value": map[string]interface{}{
			"blockhash":            solana.Hash{7}.String(),
			"lastValidBlockHeight": 100,
		}}
	case "sendTransaction":
		if n.sendErr != nil {
			rpcErr = n.sendErr
			break
		}
		var encoded string
		_ = json.Unmarshal(req.Params[0], &encoded)
		tx, err := svm.DecodeTransaction(encoded)
		if err != nil {
			rpcErr = map[string]interface{}{"code": -32602, "message": err.Error()}
			break
		}
		result = tx.Signatures[0].String()
	default:
		rpcErr = map[string]interface{}{"code": -32601, "message": "method not found"}
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// update mutates node state under its lock
func (n *fakeNode) update(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn()
}

func encodeAccount(account rpcAccount) map[string]interface{} {
	return map[string]interface{}{
		"data":       []string{base64.StdEncoding.EncodeToString(account.data), "base64"},
		"executable": false,
		"lamports":   2039280,
		"owner":      account.owner.String(),
		"rentEpoch":  0,
		"space":      len(account.data),
	}
}

func newTestClient(t *testing.T, node *fakeNode) *Client {
	t.Helper()
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	client, err := New(Config{RPCURL: server.URL, RequestsPerSecond: 1000, Burst: 10})
	require.NoError(t, err)
	return client
}

func putTokenAccount(t *testing.T, node *fakeNode, addr, owner, mint, programID solana.PublicKey, amount uint64) {
	t.Helper()
	data, err := svm.EncodeTokenAccount(&token.Account{Mint: mint, Owner: owner, Amount: amount, State: token.Initialized})
	require.NoError(t, err)
	node.update(func() { node.accounts[addr.String()] = rpcAccount{owner: programID, data: data} })
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGetNativeBalance(t *testing.T) {
	node := newFakeNode()
	addr := solana.NewWallet().PublicKey()
	node.update(func() { node.balances[addr.String()] = 1_234_567 })

	balance, err := newTestClient(t, node).GetNativeBalance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_234_567), balance)
}

func TestGetSubAccount(t *testing.T) {
	node := newFakeNode()
	client := newTestClient(t, node)

	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	addr, err := svm.DeriveSubAccountAddress(owner, mint, solana.Token2022ProgramID)
	require.NoError(t, err)

	t.Run("not found", func(t *testing.T) {
		_, err := client.GetSubAccount(context.Background(), addr)
		assert.ErrorIs(t, err, spltransfer.ErrResourceNotFound)
	})

	t.Run("system account at the address", func(t *testing.T) {
		node.update(func() { node.accounts[addr.String()] = rpcAccount{owner: solana.SystemProgramID} })
		_, err := client.GetSubAccount(context.Background(), addr)
		assert.ErrorIs(t, err, spltransfer.ErrInvalidOwner)
	})

	t.Run("token account", func(t *testing.T) {
		putTokenAccount(t, node, addr, owner, mint, solana.Token2022ProgramID, 99)
		account, err := client.GetSubAccount(context.Background(), addr)
		require.NoError(t, err)
		assert.Equal(t, addr, account.Address)
		assert.Equal(t, owner, account.Owner)
		assert.Equal(t, mint, account.Mint)
		assert.Equal(t, solana.Token2022ProgramID, account.ProgramID)
		assert.Equal(t, uint64(99), account.Amount)
	})
}

func TestListSubAccountsByOwnerCoversBothPrograms(t *testing.T) {
	node := newFakeNode()
	owner := solana.NewWallet().PublicKey()

	legacyMint := solana.NewWallet().PublicKey()
	legacyAddr, err := svm.DeriveSubAccountAddress(owner, legacyMint, solana.TokenProgramID)
	require.NoError(t, err)
	putTokenAccount(t, node, legacyAddr, owner, legacyMint, solana.TokenProgramID, 1)

	t22Mint := solana.NewWallet().PublicKey()
	t22Addr, err := svm.DeriveSubAccountAddress(owner, t22Mint, solana.Token2022ProgramID)
	require.NoError(t, err)
	putTokenAccount(t, node, t22Addr, owner, t22Mint, solana.Token2022ProgramID, 2)

	stranger := solana.NewWallet().PublicKey()
	strangerAddr, err := svm.DeriveSubAccountAddress(stranger, legacyMint, solana.TokenProgramID)
	require.NoError(t, err)
	putTokenAccount(t, node, strangerAddr, stranger, legacyMint, solana.TokenProgramID, 3)

	accounts, err := newTestClient(t, node).ListSubAccountsByOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	byAddr := map[solana.PublicKey]spltransfer.SubAccount{}
	for _, a := range accounts {
		byAddr[a.Address] = a
	}
	assert.Equal(t, uint64(1), byAddr[legacyAddr].Amount)
	assert.Equal(t, solana.TokenProgramID, byAddr[legacyAddr].ProgramID)
	assert.Equal(t, uint64(2), byAddr[t22Addr].Amount)
	assert.Equal(t, solana.Token2022ProgramID, byAddr[t22Addr].ProgramID)
}

func TestGetAsset(t *testing.T) {
	node := newFakeNode()
	client := newTestClient(t, node)

	mint := solana.NewWallet().PublicKey()
	data, err := svm.EncodeMint(&token.Mint{Supply: 10, Decimals: 6, IsInitialized: true})
	require.NoError(t, err)
	node.update(func() { node.accounts[mint.String()] = rpcAccount{owner: solana.Token2022ProgramID, data: data} })

	asset, err := client.GetAsset(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), asset.Decimals)
	assert.Equal(t, solana.Token2022ProgramID, asset.ProgramID)

	notAMint := solana.NewWallet().PublicKey()
	node.update(func() { node.accounts[notAMint.String()] = rpcAccount{owner: solana.SystemProgramID} })
	_, err = client.GetAsset(context.Background(), notAMint)
	assert.ErrorIs(t, err, spltransfer.ErrInvalidOwner)

	_, err = client.GetAsset(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, spltransfer.ErrResourceNotFound)
}

func TestGetAnchorAndSubmit(t *testing.T) {
	node := newFakeNode()
	client := newTestClient(t, node)
	signer := solana.NewWallet().PrivateKey

	anchor, err := client.GetAnchor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, solana.Hash{7}, anchor)

	ix, err := svm.NewNativeTransferInstruction(1, signer.PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	tx, err := svm.BuildSignedTransaction(signer, anchor, ix)
	require.NoError(t, err)

	sig, err := client.Submit(context.Background(), tx, spltransfer.SubmitOptions{SkipPreflight: true})
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)

	t.Run("rejection is an instruction failure", func(t *testing.T) {
		node.update(func() {
			node.sendErr = map[string]interface{}{"code": -32002, "message": "Transaction simulation failed"}
		})
		_, err := client.Submit(context.Background(), tx, spltransfer.SubmitOptions{})
		assert.ErrorIs(t, err, spltransfer.ErrInstructionFailed)
		node.update(func() { node.sendErr = nil })
	})
}

func TestTransportErrors(t *testing.T) {
	client := NewFromRPC(rpc.New("http://127.0.0.1:1"), "")

	_, err := client.GetNativeBalance(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, spltransfer.ErrTransport)

	signer := solana.NewWallet().PrivateKey
	ix, err := svm.NewNativeTransferInstruction(1, signer.PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	tx, err := svm.BuildSignedTransaction(signer, solana.Hash{1}, ix)
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), tx, spltransfer.SubmitOptions{})
	assert.ErrorIs(t, err, spltransfer.ErrTransport)
	assert.NotErrorIs(t, err, spltransfer.ErrInstructionFailed)
}
