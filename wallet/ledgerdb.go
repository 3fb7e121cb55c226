// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/constants"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/utils"
	"github.com/luxfi/ballot/utils/timer/mockable"
)

const (
	ledgerCodecVersion = 0

	maxEntrySize = 512 * constants.KiB
)

var (
	logPrefix = []byte("log")
	subPrefix = []byte("sub")

	headKey = []byte("head")

	ledgerCodec codec.Manager
)

func init() {
	ledgerCodec = codec.NewManager(maxEntrySize)
	lc := linearcodec.NewDefault()

	err := utils.Err(
		lc.RegisterType(&ledgerEntry{}),
		lc.RegisterType(&submissionMeta{}),
		ledgerCodec.RegisterCodec(ledgerCodecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

// ledgerEntry is one durably appended payload.
type ledgerEntry struct {
	Recipient  ids.ShortID `serialize:"true"`
	Sender     ids.ShortID `serialize:"true"`
	Payload    []byte      `serialize:"true"`
	LedgerTime int64       `serialize:"true"`
}

// submissionMeta records when a submission was accepted, for confirmation
// latency simulation.
type submissionMeta struct {
	Index       uint64 `serialize:"true"`
	SubmittedAt int64  `serialize:"true"`
}

// Ledger is a single shared permissioned ledger backed by a luxfi database.
// Every participant wallet created from it appends to one global log and
// reads back the entries addressed to it. A submission is reported confirmed
// once the configured latency has elapsed, which models the seconds-to-
// minutes confirmation delay of a real chain without binding to an SDK.
type Ledger struct {
	clock *mockable.Clock
	lag   time.Duration

	mu   sync.Mutex
	db   database.Database
	logs database.Database
	subs database.Database
	head uint64

	closed bool
}

// NewLedger opens (or reopens) a ledger on [db] with confirmation latency
// [lag].
func NewLedger(db database.Database, clock *mockable.Clock, lag time.Duration) (*Ledger, error) {
	l := &Ledger{
		clock: clock,
		lag:   lag,
		db:    db,
		logs:  prefixdb.New(logPrefix, db),
		subs:  prefixdb.New(subPrefix, db),
	}

	head, err := database.GetUInt64(l.db, headKey)
	switch {
	case err == nil:
		l.head = head
	case errors.Is(err, database.ErrNotFound):
		l.head = 0
	default:
		return nil, err
	}
	return l, nil
}

// NewWallet returns [owner]'s view of the ledger.
func (l *Ledger) NewWallet(owner ids.ShortID) *DBWallet {
	return &DBWallet{ledger: l, owner: owner}
}

// Close releases the underlying database. Idempotent.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}

func (l *Ledger) append(sender ids.ShortID, recipient ids.ShortID, payload []byte) (SubmissionID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ids.Empty, ErrStopped
	}

	now := l.clock.UnixMilli()
	entry := &ledgerEntry{
		Recipient:  recipient,
		Sender:     sender,
		Payload:    payload,
		LedgerTime: now,
	}
	entryBytes, err := ledgerCodec.Marshal(ledgerCodecVersion, entry)
	if err != nil {
		return ids.Empty, err
	}

	index := l.head + 1
	meta := &submissionMeta{
		Index:       index,
		SubmittedAt: now,
	}
	metaBytes, err := ledgerCodec.Marshal(ledgerCodecVersion, meta)
	if err != nil {
		return ids.Empty, err
	}

	subID := submissionKey(sender, index)
	err = utils.Err(
		database.PutUInt64(l.db, headKey, index),
		l.logs.Put(database.PackUInt64(index), entryBytes),
		l.subs.Put(subID[:], metaBytes),
	)
	if err != nil {
		return ids.Empty, errors.Join(ErrTransport, err)
	}
	l.head = index
	return subID, nil
}

func (l *Ledger) fetch(owner ids.ShortID, since Checkpoint) ([]Delivery, Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, since, ErrStopped
	}

	// Entries become visible to the recipient only once confirmed.
	horizon := l.clock.UnixMilli() - l.lag.Milliseconds()

	var deliveries []Delivery
	next := since
	iter := l.logs.NewIteratorWithStart(database.PackUInt64(uint64(since) + 1))
	defer iter.Release()
	for iter.Next() {
		index, err := database.ParseUInt64(iter.Key())
		if err != nil {
			return nil, since, err
		}
		entry := &ledgerEntry{}
		if _, err := ledgerCodec.Unmarshal(iter.Value(), entry); err != nil {
			return nil, since, err
		}
		if entry.LedgerTime > horizon {
			// Not yet confirmed; later entries cannot be older, so the
			// checkpoint must not advance past this point.
			break
		}
		next = Checkpoint(index)
		if entry.Recipient != owner {
			continue
		}
		deliveries = append(deliveries, Delivery{
			Payload:    entry.Payload,
			Sender:     entry.Sender,
			LedgerTime: entry.LedgerTime,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, since, errors.Join(ErrTransport, err)
	}
	return deliveries, next, nil
}

func (l *Ledger) isConfirmed(id SubmissionID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrStopped
	}

	metaBytes, err := l.subs.Get(id[:])
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Join(ErrTransport, err)
	}
	meta := &submissionMeta{}
	if _, err := ledgerCodec.Unmarshal(metaBytes, meta); err != nil {
		return false, err
	}
	return l.clock.UnixMilli() >= meta.SubmittedAt+l.lag.Milliseconds(), nil
}

func submissionKey(sender ids.ShortID, index uint64) SubmissionID {
	preimage := make([]byte, ids.ShortIDLen+8)
	copy(preimage, sender[:])
	copy(preimage[ids.ShortIDLen:], database.PackUInt64(index))
	return hash.ComputeHash256Array(preimage)
}

var _ Wallet = (*DBWallet)(nil)

// DBWallet is one participant's handle on a shared [Ledger].
type DBWallet struct {
	ledger *Ledger
	owner  ids.ShortID

	mu      sync.Mutex
	stopped bool
}

func (w *DBWallet) Submit(_ context.Context, recipient ids.ShortID, payload []byte) (SubmissionID, error) {
	if w.isStopped() {
		return ids.Empty, ErrStopped
	}
	return w.ledger.append(w.owner, recipient, payload)
}

func (w *DBWallet) FetchNew(_ context.Context, since Checkpoint) ([]Delivery, Checkpoint, error) {
	if w.isStopped() {
		return nil, since, ErrStopped
	}
	return w.ledger.fetch(w.owner, since)
}

func (w *DBWallet) IsConfirmed(_ context.Context, id SubmissionID) (bool, error) {
	if w.isStopped() {
		return false, ErrStopped
	}
	return w.ledger.isConfirmed(id)
}

// Stop detaches the wallet from the ledger. The shared ledger itself is
// closed by its owner via [Ledger.Close].
func (w *DBWallet) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

func (w *DBWallet) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}
