// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wallet abstracts the distributed ledger a node publishes envelopes
// through. Backends differ in address formats and confirmation latency;
// everything above this package treats confirmation delay as a first-class
// variable and never assumes a submission is durable until the backend
// reports it confirmed.
package wallet

import (
	"context"
	"errors"

	"github.com/luxfi/ids"
)

// Backend names selectable by configuration.
const (
	BackendMock     = "mock"
	BackendLedgerDB = "ledgerdb"
)

// ErrTransport marks a transient transport failure. The connector retries
// these per policy; they become terminal only past the retry ceiling.
var ErrTransport = errors.New("transport failure")

// ErrStopped is returned by operations on a stopped wallet.
var ErrStopped = errors.New("wallet stopped")

// SubmissionID is the opaque handle a backend returns for one submission
// attempt. Resubmitting the same envelope yields a new handle.
type SubmissionID = ids.ID

// Checkpoint marks how far a consumer has read the inbound stream. Advancing
// a checkpoint guarantees the items before it are never redelivered by
// FetchNew for that checkpoint or a later one.
type Checkpoint uint64

// Delivery is one inbound payload pulled off the ledger.
type Delivery struct {
	Payload    []byte
	Sender     ids.ShortID
	LedgerTime int64 // unix milliseconds, ledger-reported
}

// Wallet is the ledger transport contract.
//
// Submit is asynchronous: the returned handle only identifies the attempt,
// it says nothing about durability. Confirmation is polled via IsConfirmed,
// never pushed. All methods are safe for concurrent use and may block on
// network I/O; callers must keep them off single-threaded dispatch paths.
type Wallet interface {
	Submit(ctx context.Context, recipient ids.ShortID, payload []byte) (SubmissionID, error)
	FetchNew(ctx context.Context, since Checkpoint) ([]Delivery, Checkpoint, error)
	IsConfirmed(ctx context.Context, id SubmissionID) (bool, error)

	// Stop releases held resources. Idempotent.
	Stop() error
}
