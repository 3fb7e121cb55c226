// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wallet

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/utils/timer/mockable"
)

// Hub is an in-memory ledger shared by a set of mock wallets, one per
// participant. It delivers instantly and, by default, confirms instantly;
// tests dial in confirmation lag and submit failures per wallet.
type Hub struct {
	clock *mockable.Clock

	mu     sync.Mutex
	queues map[ids.ShortID][]Delivery
}

func NewHub(clock *mockable.Clock) *Hub {
	return &Hub{
		clock:  clock,
		queues: make(map[ids.ShortID][]Delivery),
	}
}

// NewWallet returns the mock wallet owned by [owner].
func (h *Hub) NewWallet(owner ids.ShortID) *MockWallet {
	return &MockWallet{
		hub:       h,
		owner:     owner,
		submitted: make(map[SubmissionID]struct{}),
	}
}

func (h *Hub) append(recipient ids.ShortID, sender ids.ShortID, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.queues[recipient] = append(h.queues[recipient], Delivery{
		Payload:    payload,
		Sender:     sender,
		LedgerTime: h.clock.UnixMilli(),
	})
}

func (h *Hub) fetch(owner ids.ShortID, since Checkpoint) ([]Delivery, Checkpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	queue := h.queues[owner]
	if int(since) >= len(queue) {
		return nil, since
	}
	pending := make([]Delivery, len(queue)-int(since))
	copy(pending, queue[since:])
	return pending, Checkpoint(len(queue))
}

var _ Wallet = (*MockWallet)(nil)

// MockWallet is one participant's view of a [Hub].
//
// ConfirmAfterChecks controls confirmation latency the way a slow ledger
// would exhibit it: the wallet reports "not confirmed" for the first N
// IsConfirmed calls it ever receives and "confirmed" afterwards. Zero
// confirms immediately; a negative value never confirms.
type MockWallet struct {
	hub   *Hub
	owner ids.ShortID

	mu                 sync.Mutex
	ConfirmAfterChecks int
	FailNextSubmits    int
	checks             int
	nextSubmission     uint64
	submitted          map[SubmissionID]struct{}
	stopped            bool
}

func (w *MockWallet) Submit(_ context.Context, recipient ids.ShortID, payload []byte) (SubmissionID, error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ids.Empty, ErrStopped
	}
	if w.FailNextSubmits > 0 {
		w.FailNextSubmits--
		w.mu.Unlock()
		return ids.Empty, ErrTransport
	}
	w.nextSubmission++
	id := w.submissionID(w.nextSubmission)
	w.submitted[id] = struct{}{}
	w.mu.Unlock()

	w.hub.append(recipient, w.owner, payload)
	return id, nil
}

func (w *MockWallet) FetchNew(_ context.Context, since Checkpoint) ([]Delivery, Checkpoint, error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil, since, ErrStopped
	}
	w.mu.Unlock()

	deliveries, next := w.hub.fetch(w.owner, since)
	return deliveries, next, nil
}

func (w *MockWallet) IsConfirmed(_ context.Context, id SubmissionID) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false, ErrStopped
	}
	if _, ok := w.submitted[id]; !ok {
		return false, nil
	}
	if w.ConfirmAfterChecks < 0 {
		return false, nil
	}
	w.checks++
	return w.checks > w.ConfirmAfterChecks, nil
}

func (w *MockWallet) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

func (w *MockWallet) submissionID(n uint64) SubmissionID {
	preimage := make([]byte, ids.ShortIDLen+8)
	copy(preimage, w.owner[:])
	binary.BigEndian.PutUint64(preimage[ids.ShortIDLen:], n)
	return hash.ComputeHash256Array(preimage)
}
