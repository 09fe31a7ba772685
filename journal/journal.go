package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	spltransfer "github.com/pai-labs/spltransfer"
)

// Journal wraps a Transferer with per-request-id idempotency
type Journal struct {
	inner spltransfer.Transferer
	store Store
	newID IDGenerator
	now   func() time.Time
}

// Wrap creates a Journal around inner.
//
// Default configuration:
//   - InMemoryStore with a 10-minute TTL
//   - random UUID request ids for requests without one
func Wrap(inner spltransfer.Transferer, opts ...Option) *Journal {
	cfg := &config{
		ttl:   DefaultTTL,
		newID: DefaultIDGenerator,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &Journal{
		inner: inner,
		store: store,
		newID: cfg.newID,
		now:   cfg.now,
	}
}

// Transfer runs req through the wrapped Transferer at most once per request
// id. A request without an id is assigned one, returned in the result.
func (j *Journal) Transfer(ctx context.Context, req spltransfer.TransferRequest) (*spltransfer.SubmissionResult, error) {
	if req.RequestID == "" {
		req.RequestID = j.newID()
	}
	logger := log.WithField("request_id", req.RequestID)

	now := j.now()
	entry := newEntry(req, now)

	existing, started, err := j.store.Begin(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to journal request: %w", err)
	}
	if !started {
		logger.WithField("status", existing.Status).Debug("request already journaled")
		if !existing.sameTransfer(entry) {
			logger.Warn("request id reused for a different transfer")
			return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeRequestConflict, spltransfer.ErrRequestConflict.Message, map[string]interface{}{
				"requestId": existing.RequestID,
			})
		}
		return replay(existing)
	}

	result, transferErr := j.inner.Transfer(ctx, req)

	entry.UpdatedAt = j.now()
	switch {
	case transferErr == nil:
		entry.Status = StatusSubmitted
		entry.TransactionID = result.TransactionID.String()
		entry.Source = result.Source.String()
		entry.Destination = result.Destination.String()
		entry.RawAmount = result.RawAmount
		entry.SubmittedAt = result.SubmittedAt
	case errors.Is(transferErr, spltransfer.ErrOutcomeUnknown):
		entry.Status = StatusUnknown
		entry.TransactionID = transactionIDOf(transferErr)
		entry.ErrorCode = spltransfer.ErrCodeOutcomeUnknown
		entry.Error = transferErr.Error()
	default:
		entry.Status = StatusFailed
		entry.ErrorCode = spltransfer.ErrorCode(transferErr)
		entry.Error = transferErr.Error()
	}

	// The store may be remote; a cancelled caller must not leave the entry pending.
	if err := j.store.Save(context.WithoutCancel(ctx), entry); err != nil {
		logger.WithError(err).WithField("status", entry.Status).Error("failed to record transfer outcome")
		if transferErr == nil {
			return result, nil
		}
	}
	return result, transferErr
}

// Lookup returns the journaled entry for requestID or ErrNotFound
func (j *Journal) Lookup(ctx context.Context, requestID string) (*Entry, error) {
	return j.store.Get(ctx, requestID)
}

// Release marks an unknown entry as failed once an operator established that
// its transaction never landed, allowing the request id to be retried.
func (j *Journal) Release(ctx context.Context, requestID string) error {
	entry, err := j.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if entry.Status != StatusUnknown {
		return fmt.Errorf("entry %s is %s: %w", requestID, entry.Status, ErrNotReleasable)
	}
	entry.Status = StatusFailed
	entry.UpdatedAt = j.now()
	return j.store.Save(ctx, *entry)
}

// Store returns the backing store
func (j *Journal) Store() Store {
	return j.store
}

func newEntry(req spltransfer.TransferRequest, now time.Time) Entry {
	entry := Entry{
		RequestID: req.RequestID,
		Status:    StatusPending,
		To:        req.To.String(),
		Amount:    req.Amount.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.From) == 64 {
		entry.From = req.From.PublicKey().String()
	}
	if req.Mint != nil {
		entry.Mint = req.Mint.String()
	}
	return entry
}

func replay(existing *Entry) (*spltransfer.SubmissionResult, error) {
	switch existing.Status {
	case StatusSubmitted:
		return existing.Result()
	case StatusUnknown:
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeOutcomeUnknown, spltransfer.ErrOutcomeUnknown.Message, map[string]interface{}{
			"requestId":     existing.RequestID,
			"transactionId": existing.TransactionID,
		})
	default:
		return nil, spltransfer.NewLedgerError(spltransfer.ErrCodeDuplicateRequest, spltransfer.ErrDuplicateRequest.Message, map[string]interface{}{
			"requestId": existing.RequestID,
		})
	}
}

func transactionIDOf(err error) string {
	var ledgerErr *spltransfer.LedgerError
	if errors.As(err, &ledgerErr) && ledgerErr.Details != nil {
		if id, ok := ledgerErr.Details["transactionId"].(string); ok {
			return id
		}
	}
	return ""
}

var _ spltransfer.Transferer = (*Journal)(nil)
