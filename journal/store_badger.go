package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	journalStoreDir = "journal"
	maxRetries      = 5
)

// BadgerStore persists entries in an embedded badger database. An empty
// baseDir opens an in-memory database.
type BadgerStore struct {
	store *badgerhold.Store
}

// NewBadgerStore opens (or creates) the journal under baseDir
func NewBadgerStore(baseDir string, logger badger.Logger) (*BadgerStore, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, journalStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal store: %s", err)
	}
	return &BadgerStore{store}, nil
}

// Begin implements Store
func (s *BadgerStore) Begin(ctx context.Context, entry Entry) (*Entry, bool, error) {
	entry.Status = StatusPending

	var (
		existing *Entry
		started  bool
		err      error
	)
	for range maxRetries {
		existing, started, err = s.begin(entry)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return existing, started, err
}

func (s *BadgerStore) begin(entry Entry) (*Entry, bool, error) {
	tx := s.store.Badger().NewTransaction(true)
	defer tx.Discard()

	var existing Entry
	err := s.store.TxGet(tx, entry.RequestID, &existing)
	switch {
	case err == nil:
		if !existing.replaceable() {
			return &existing, false, nil
		}
	case errors.Is(err, badgerhold.ErrNotFound):
	default:
		return nil, false, fmt.Errorf("failed to read journal entry: %w", err)
	}

	if err := s.store.TxUpsert(tx, entry.RequestID, &entry); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}

// Save implements Store
func (s *BadgerStore) Save(ctx context.Context, entry Entry) error {
	err := s.store.Upsert(entry.RequestID, &entry)
	for attempts := 1; errors.Is(err, badger.ErrConflict) && attempts <= maxRetries; attempts++ {
		time.Sleep(10 * time.Millisecond)
		err = s.store.Upsert(entry.RequestID, &entry)
	}
	if err != nil {
		return fmt.Errorf("failed to save journal entry: %w", err)
	}
	return nil
}

// Get implements Store
func (s *BadgerStore) Get(ctx context.Context, requestID string) (*Entry, error) {
	var entry Entry
	err := s.store.Get(requestID, &entry)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return &entry, nil
}

// Close implements Store
func (s *BadgerStore) Close() error {
	return s.store.Close()
}

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("dir", dbDir).Debug("journal store opened")

	return db, nil
}

var _ Store = (*BadgerStore)(nil)
