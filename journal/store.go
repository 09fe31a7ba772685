package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	spltransfer "github.com/pai-labs/spltransfer"
)

// Status of a journaled submission
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusUnknown   Status = "unknown"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned by Store.Get for an unknown request id
var ErrNotFound = errors.New("journal entry not found")

// ErrNotReleasable is returned by Journal.Release for entries whose outcome is known
var ErrNotReleasable = errors.New("only unknown entries can be released")

// Entry is the journaled state of one transfer request. Key material never
// enters the journal.
type Entry struct {
	RequestID     string    `json:"requestId"`
	Status        Status    `json:"status"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Mint          string    `json:"mint,omitempty"`
	Amount        string    `json:"amount"`
	TransactionID string    `json:"transactionId,omitempty"`
	Source        string    `json:"source,omitempty"`
	Destination   string    `json:"destination,omitempty"`
	RawAmount     uint64    `json:"rawAmount,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// expires reports whether retention may drop e. Pending and unknown entries
// are kept until resolved; dropping them would let the request id submit again.
func (e *Entry) expires() bool {
	return e.Status == StatusSubmitted || e.Status == StatusFailed
}

// sameTransfer reports whether other asks for the transfer e recorded
func (e *Entry) sameTransfer(other Entry) bool {
	if e.From != other.From || e.To != other.To || e.Mint != other.Mint {
		return false
	}
	a, errA := decimal.NewFromString(e.Amount)
	b, errB := decimal.NewFromString(other.Amount)
	if errA != nil || errB != nil {
		return e.Amount == other.Amount
	}
	return a.Equal(b)
}

// replaceable reports whether Begin may start a new attempt over e
func (e *Entry) replaceable() bool {
	return e.Status == StatusFailed
}

// Result rebuilds the SubmissionResult of a submitted entry
func (e *Entry) Result() (*spltransfer.SubmissionResult, error) {
	if e.Status != StatusSubmitted {
		return nil, fmt.Errorf("entry %s is %s, not submitted", e.RequestID, e.Status)
	}
	sig, err := solana.SignatureFromBase58(e.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id: %w", err)
	}
	source, err := solana.PublicKeyFromBase58(e.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}
	destination, err := solana.PublicKeyFromBase58(e.Destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination: %w", err)
	}

	result := &spltransfer.SubmissionResult{
		RequestID:     e.RequestID,
		TransactionID: sig,
		SubmittedAt:   e.SubmittedAt,
		Source:        source,
		Destination:   destination,
		RawAmount:     e.RawAmount,
	}
	if e.Mint != "" {
		mint, err := solana.PublicKeyFromBase58(e.Mint)
		if err != nil {
			return nil, fmt.Errorf("invalid mint: %w", err)
		}
		result.Mint = &mint
	}
	return result, nil
}

// Store persists journal entries. Implementations must be safe for
// concurrent use, and Begin must be atomic with respect to other Begin calls
// on the same request id, across processes for shared backends.
type Store interface {
	// Begin records entry as pending unless its request id is already
	// journaled. A failed entry is replaced. Otherwise the existing entry is
	// returned with started=false and nothing is written.
	Begin(ctx context.Context, entry Entry) (existing *Entry, started bool, err error)

	// Save overwrites the entry stored under entry.RequestID
	Save(ctx context.Context, entry Entry) error

	// Get returns the entry for requestID or ErrNotFound
	Get(ctx context.Context, requestID string) (*Entry, error)

	Close() error
}
