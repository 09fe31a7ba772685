// Package journal records every transfer submission under its request id and
// makes Transfer idempotent per request id.
//
// # Overview
//
// A transfer that times out after reaching the ledger cannot simply be
// retried: the first attempt may already have moved the funds. The journal
// wraps any spltransfer.Transferer and keeps one Entry per request id:
//
//   - pending: a submission is in progress; a second call with the same id
//     gets ErrDuplicateRequest.
//   - submitted: the ledger accepted the transaction; a replay returns the
//     recorded SubmissionResult without touching the ledger.
//   - unknown: the submission outcome is unknown; a replay returns
//     ErrOutcomeUnknown until an operator reconciles the entry.
//   - failed: the transfer was definitively rejected or never sent; a replay
//     runs the transfer again.
//
// # Usage
//
//	wallet.Use(func(t spltransfer.Transferer) spltransfer.Transferer {
//	    return journal.Wrap(t, journal.WithStore(store))
//	})
//
// # Stores
//
// InMemoryStore suits a single process. BadgerStore persists entries on local
// disk. RedisStore shares them between processes behind a load balancer.
package journal
