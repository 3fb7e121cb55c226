// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nodes

import (
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ballot/connector"
	"github.com/luxfi/ballot/voting"
)

// outbox tracks the votes a node owes its upstream until the ledger confirms
// them. Pending votes survive restarts through the node's state snapshot, so
// a crash between accepting a vote and delivering it never loses the vote.
// One slot per vote key: a newer record for the same slot replaces the older
// pending one.
type outbox struct {
	logger log.Logger
	conn   *connector.Connector
	to     ids.ShortID

	// save triggers the owning node's state snapshot. Never invoked with the
	// outbox lock held.
	save func()

	mu      sync.Mutex
	pending map[voting.VoteKey]*voting.VoteRecord
}

func newOutbox(logger log.Logger, conn *connector.Connector, to ids.ShortID) *outbox {
	return &outbox{
		logger:  logger,
		conn:    conn,
		to:      to,
		pending: make(map[voting.VoteKey]*voting.VoteRecord),
	}
}

// setSave installs the persistence trigger. Done after construction because
// the owning node needs the outbox to build its snapshot.
func (o *outbox) setSave(save func()) {
	o.save = save
}

// restore reloads pending votes from a snapshot. [resendAll] pushes them back
// out once the connector is running.
func (o *outbox) restore(recs []*voting.VoteRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range recs {
		o.pending[rec.Key()] = rec
	}
}

// snapshot returns the pending votes for persistence.
func (o *outbox) snapshot() []*voting.VoteRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	recs := make([]*voting.VoteRecord, 0, len(o.pending))
	for _, rec := range o.pending {
		recs = append(recs, rec)
	}
	return recs
}

// deliver registers [rec] as owed upstream and submits it.
func (o *outbox) deliver(rec *voting.VoteRecord) {
	o.mu.Lock()
	o.pending[rec.Key()] = rec
	o.mu.Unlock()

	o.save()
	o.send(rec)
}

// resendAll resubmits every pending vote. Called once at startup; redelivery
// of a vote that already landed is harmless, the receiver deduplicates.
func (o *outbox) resendAll() {
	for _, rec := range o.snapshot() {
		o.send(rec)
	}
}

func (o *outbox) send(rec *voting.VoteRecord) {
	receipt, err := o.conn.SendVote(o.to, rec)
	if err != nil {
		o.logger.Error("failed to submit vote upstream",
			log.Stringer("votingID", rec.VotingID),
			log.Stringer("voter", rec.Voter),
			log.Err(err),
		)
		return
	}
	go o.await(rec, receipt)
}

func (o *outbox) await(rec *voting.VoteRecord, receipt connector.Receipt) {
	if err := <-receipt.Done; err != nil {
		// Still pending; a restart resends it.
		o.logger.Warn("upstream vote delivery unresolved",
			log.Stringer("votingID", rec.VotingID),
			log.Stringer("voter", rec.Voter),
			log.Stringer("envelopeID", receipt.EnvelopeID),
			log.Err(err),
		)
		return
	}

	o.mu.Lock()
	current, ok := o.pending[rec.Key()]
	// A newer record may have taken the slot while this one was in flight.
	if ok && current.Timestamp == rec.Timestamp {
		delete(o.pending, rec.Key())
	}
	o.mu.Unlock()

	o.save()
}
