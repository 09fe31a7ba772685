// Package ledger is an in-memory Solana ledger for tests. It understands the
// handful of instructions the wallet emits (associated token account create,
// TransferChecked, system transfer), applies each transaction atomically and
// exposes knobs for the failure modes provisioning has to survive.
package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	solana "github.com/gagliardetto/solana-go"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/mechanisms/svm"
)

// Fees charged by the simulated ledger
const (
	DefaultSignatureFee uint64 = 5_000
	DefaultAccountRent  uint64 = 2_039_280
)

// SubmitHook intercepts a submission. When err is non-nil the transaction is
// applied only if apply is true and err is returned to the caller either way.
type SubmitHook func(tx *solana.Transaction) (apply bool, err error)

type mintState struct {
	programID solana.PublicKey
	decimals  uint8
}

type tokenAccount struct {
	mint      solana.PublicKey
	owner     solana.PublicKey
	programID solana.PublicKey
	amount    uint64
	// hiddenReads is how many more GetSubAccount calls report it missing
	hiddenReads int
}

type state struct {
	lamports map[solana.PublicKey]uint64
	tokens   map[solana.PublicKey]tokenAccount
}

func (s state) clone() state {
	c := state{
		lamports: make(map[solana.PublicKey]uint64, len(s.lamports)),
		tokens:   make(map[solana.PublicKey]tokenAccount, len(s.tokens)),
	}
	for k, v := range s.lamports {
		c.lamports[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

// Ledger is a simulated LedgerClient. Several wallets may share one Ledger to
// model independent processes talking to the same chain.
type Ledger struct {
	mu sync.Mutex

	state state
	mints map[solana.PublicKey]mintState

	signatureFee    uint64
	accountRent     uint64
	visibilityDelay int
	hook            SubmitHook
	readErr         error

	anchors      uint64
	calls        map[string]int
	transactions []*solana.Transaction
}

// Option configures a Ledger
type Option func(*Ledger)

// WithVisibilityDelay hides newly created sub-accounts from the next n reads
func WithVisibilityDelay(n int) Option {
	return func(l *Ledger) {
		l.visibilityDelay = n
	}
}

// WithSignatureFee sets the per-signature fee in lamports
func WithSignatureFee(fee uint64) Option {
	return func(l *Ledger) {
		l.signatureFee = fee
	}
}

// WithSubmitHook installs hook on every submission
func WithSubmitHook(hook SubmitHook) Option {
	return func(l *Ledger) {
		l.hook = hook
	}
}

// WithCreateError makes every transaction carrying a sub-account create fail
// with err. When lands is true the create is applied anyway, modelling a lost
// response.
func WithCreateError(err error, lands bool) Option {
	return WithSubmitHook(func(tx *solana.Transaction) (bool, error) {
		if !HasCreateInstruction(tx) {
			return true, nil
		}
		return lands, err
	})
}

// New creates an empty simulated ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		state: state{
			lamports: make(map[solana.PublicKey]uint64),
			tokens:   make(map[solana.PublicKey]tokenAccount),
		},
		mints:        make(map[solana.PublicKey]mintState),
		signatureFee: DefaultSignatureFee,
		accountRent:  DefaultAccountRent,
		calls:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ============================================================================
// Test setup
// ============================================================================

// Fund credits lamports to addr
func (l *Ledger) Fund(addr solana.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.lamports[addr] += lamports
}

// CreateMint registers a mint under programID
func (l *Ledger) CreateMint(mint, programID solana.PublicKey, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mints[mint] = mintState{programID: programID, decimals: decimals}
}

// MintTo credits raw units of mint to the associated account of owner,
// creating it if needed, and returns its address.
func (l *Ledger) MintTo(owner, mint solana.PublicKey, raw uint64) (solana.PublicKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.mints[mint]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("unknown mint %s", mint)
	}
	addr, err := svm.DeriveSubAccountAddress(owner, mint, m.programID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	account, ok := l.state.tokens[addr]
	if !ok {
		account = tokenAccount{mint: mint, owner: owner, programID: m.programID}
	}
	account.amount += raw
	l.state.tokens[addr] = account
	return addr, nil
}

// PutTokenAccount places an arbitrary token account at addr
func (l *Ledger) PutTokenAccount(addr, owner, mint solana.PublicKey, raw uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.tokens[addr] = tokenAccount{mint: mint, owner: owner, programID: l.mints[mint].programID, amount: raw}
}

// FailReads makes every read return err until called again with nil
func (l *Ledger) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// ============================================================================
// Inspection
// ============================================================================

// Calls returns how many times method was invoked
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// TotalCalls returns the number of LedgerClient calls of any kind
func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.calls {
		total += n
	}
	return total
}

// Transactions returns every transaction applied so far
func (l *Ledger) Transactions() []*solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*solana.Transaction(nil), l.transactions...)
}

// TokenAccountCount returns how many token accounts hold mint for owner
func (l *Ledger) TokenAccountCount(owner, mint solana.PublicKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, account := range l.state.tokens {
		if account.owner.Equals(owner) && account.mint.Equals(mint) {
			n++
		}
	}
	return n
}

// TokenBalance returns the raw balance at addr, ignoring visibility
func (l *Ledger) TokenBalance(addr solana.PublicKey) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.state.tokens[addr]
	return account.amount, ok
}

// Lamports returns the native balance of addr
func (l *Ledger) Lamports(addr solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.lamports[addr]
}

// ============================================================================
// LedgerClient
// ============================================================================

func (l *Ledger) enter(method string) error {
	l.calls[method]++
	return l.readErr
}

// GetNativeBalance implements spltransfer.LedgerClient
func (l *Ledger) GetNativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("GetNativeBalance"); err != nil {
		return 0, err
	}
	return l.state.lamports[addr], nil
}

// GetSubAccount implements spltransfer.LedgerClient
func (l *Ledger) GetSubAccount(ctx context.Context, addr solana.PublicKey) (*spltransfer.SubAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("GetSubAccount"); err != nil {
		return nil, err
	}

	account, ok := l.state.tokens[addr]
	if ok && account.hiddenReads > 0 {
		account.hiddenReads--
		l.state.tokens[addr] = account
		ok = false
	}
	if !ok {
		if l.state.lamports[addr] > 0 {
			return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeInvalidOwner,
				"account is owned by the system program", map[string]interface{}{"address": addr.String()})
		}
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeResourceNotFound,
			"account not found", map[string]interface{}{"address": addr.String()})
	}
	return toSubAccount(addr, account), nil
}

// ListSubAccountsByOwner implements spltransfer.LedgerClient
func (l *Ledger) ListSubAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]spltransfer.SubAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("ListSubAccountsByOwner"); err != nil {
		return nil, err
	}

	var accounts []spltransfer.SubAccount
	for addr, account := range l.state.tokens {
		if account.owner.Equals(owner) && account.hiddenReads == 0 {
			accounts = append(accounts, *toSubAccount(addr, account))
		}
	}
	return accounts, nil
}

// GetAsset implements spltransfer.LedgerClient
func (l *Ledger) GetAsset(ctx context.Context, mint solana.PublicKey) (*spltransfer.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("GetAsset"); err != nil {
		return nil, err
	}

	m, ok := l.mints[mint]
	if !ok {
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeResourceNotFound,
			"mint not found", map[string]interface{}{"mint": mint.String()})
	}
	return &spltransfer.Asset{Mint: mint, ProgramID: m.programID, Decimals: m.decimals}, nil
}

// GetAnchor implements spltransfer.LedgerClient
func (l *Ledger) GetAnchor(ctx context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("GetAnchor"); err != nil {
		return solana.Hash{}, err
	}
	l.anchors++
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[:8], l.anchors)
	return h, nil
}

// Submit implements spltransfer.LedgerClient
func (l *Ledger) Submit(ctx context.Context, tx *solana.Transaction, opts spltransfer.SubmitOptions) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["Submit"]++

	if err := ctx.Err(); err != nil {
		return solana.Signature{}, spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, "request aborted", err)
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, rejected("signature verification failed: %v", err)
	}

	apply := true
	var hookErr error
	if l.hook != nil {
		apply, hookErr = l.hook(tx)
	}
	if apply {
		if err := l.apply(tx); err != nil {
			return solana.Signature{}, err
		}
	}
	if hookErr != nil {
		return solana.Signature{}, hookErr
	}
	return tx.Signatures[0], nil
}

func (l *Ledger) apply(tx *solana.Transaction) error {
	next := l.state.clone()
	keys := tx.Message.AccountKeys

	payer := keys[0]
	fee := l.signatureFee * uint64(len(tx.Signatures))
	if next.lamports[payer] < fee {
		return rejected("insufficient funds for fee")
	}
	next.lamports[payer] -= fee

	for i, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return rejected("instruction %d: program index out of range", i)
		}
		accounts := make([]solana.PublicKey, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return rejected("instruction %d: account index out of range", i)
			}
			accounts[j] = keys[idx]
		}

		programID := keys[ci.ProgramIDIndex]
		var err error
		switch {
		case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
			err = l.applyCreate(next, tx, accounts)
		case svm.IsTokenProgram(programID):
			err = l.applyTokenTransfer(next, tx, programID, accounts, ci.Data)
		case programID.Equals(solana.SystemProgramID):
			err = l.applyNativeTransfer(next, tx, accounts, ci.Data)
		default:
			err = fmt.Errorf("unsupported program %s", programID)
		}
		if err != nil {
			return rejected("instruction %d: %v", i, err)
		}
	}

	l.state = next
	l.transactions = append(l.transactions, tx)
	return nil
}

func (l *Ledger) applyCreate(s state, tx *solana.Transaction, accounts []solana.PublicKey) error {
	if len(accounts) < 6 {
		return fmt.Errorf("create: expected 6 accounts, got %d", len(accounts))
	}
	payer, addr, owner, mint, programID := accounts[0], accounts[1], accounts[2], accounts[3], accounts[5]

	if !isSigner(tx, payer) {
		return fmt.Errorf("create: payer must sign")
	}
	m, ok := l.mints[mint]
	if !ok || !m.programID.Equals(programID) {
		return fmt.Errorf("create: invalid mint for program %s", programID)
	}
	expected, err := svm.DeriveSubAccountAddress(owner, mint, programID)
	if err != nil || !expected.Equals(addr) {
		return fmt.Errorf("create: address does not match derivation")
	}
	if _, exists := s.tokens[addr]; exists {
		return fmt.Errorf("create: account %s already in use", addr)
	}
	if s.lamports[payer] < l.accountRent {
		return fmt.Errorf("create: payer cannot cover rent")
	}

	s.lamports[payer] -= l.accountRent
	s.lamports[addr] += l.accountRent
	s.tokens[addr] = tokenAccount{
		mint:        mint,
		owner:       owner,
		programID:   programID,
		hiddenReads: l.visibilityDelay,
	}
	return nil
}

func (l *Ledger) applyTokenTransfer(s state, tx *solana.Transaction, programID solana.PublicKey, accounts []solana.PublicKey, data []byte) error {
	args, err := svm.DecodeTransferCheckedData(data)
	if err != nil {
		return err
	}
	if len(accounts) < 4 {
		return fmt.Errorf("transfer: expected 4 accounts, got %d", len(accounts))
	}
	sourceAddr, mint, destinationAddr, authority := accounts[0], accounts[1], accounts[2], accounts[3]

	m, ok := l.mints[mint]
	if !ok || !m.programID.Equals(programID) {
		return fmt.Errorf("transfer: mint not owned by %s", programID)
	}
	if m.decimals != args.Decimals {
		return fmt.Errorf("transfer: decimals mismatch")
	}
	source, ok := s.tokens[sourceAddr]
	if !ok || !source.mint.Equals(mint) {
		return fmt.Errorf("transfer: invalid source account")
	}
	destination, ok := s.tokens[destinationAddr]
	if !ok || !destination.mint.Equals(mint) {
		return fmt.Errorf("transfer: invalid destination account")
	}
	if !source.owner.Equals(authority) || !isSigner(tx, authority) {
		return fmt.Errorf("transfer: owner does not match")
	}
	if source.amount < args.Amount {
		return fmt.Errorf("transfer: insufficient funds")
	}

	source.amount -= args.Amount
	s.tokens[sourceAddr] = source
	destination = s.tokens[destinationAddr]
	destination.amount += args.Amount
	s.tokens[destinationAddr] = destination
	return nil
}

func (l *Ledger) applyNativeTransfer(s state, tx *solana.Transaction, accounts []solana.PublicKey, data []byte) error {
	lamports, err := svm.DecodeNativeTransferData(data)
	if err != nil {
		return err
	}
	if len(accounts) < 2 {
		return fmt.Errorf("native transfer: expected 2 accounts, got %d", len(accounts))
	}
	from, to := accounts[0], accounts[1]
	if !isSigner(tx, from) {
		return fmt.Errorf("native transfer: sender must sign")
	}
	if s.lamports[from] < lamports {
		return fmt.Errorf("native transfer: insufficient lamports")
	}
	s.lamports[from] -= lamports
	s.lamports[to] += lamports
	return nil
}

// HasCreateInstruction reports whether tx carries a sub-account create
func HasCreateInstruction(tx *solana.Transaction) bool {
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) < len(tx.Message.AccountKeys) &&
			tx.Message.AccountKeys[ci.ProgramIDIndex].Equals(solana.SPLAssociatedTokenAccountProgramID) {
			return true
		}
	}
	return false
}

func isSigner(tx *solana.Transaction, key solana.PublicKey) bool {
	for i := 0; i < int(tx.Message.Header.NumRequiredSignatures) && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(key) {
			return true
		}
	}
	return false
}

func toSubAccount(addr solana.PublicKey, account tokenAccount) *spltransfer.SubAccount {
	return &spltransfer.SubAccount{
		Address:   addr,
		Mint:      account.mint,
		Owner:     account.owner,
		ProgramID: account.programID,
		Amount:    account.amount,
	}
}

func rejected(format string, args ...interface{}) error {
	return spltransfer.NewLedgerError(spltransfer.ErrCodeInstructionFailed, fmt.Sprintf(format, args...), nil)
}

var _ spltransfer.LedgerClient = (*Ledger)(nil)
