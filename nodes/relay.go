// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nodes

import (
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ballot/connector"
	"github.com/luxfi/ballot/message"
	"github.com/luxfi/ballot/voting"
	"github.com/luxfi/ballot/wallet"
)

// RelayState is the persisted snapshot of a relay node.
type RelayState struct {
	Seq        uint64               `json:"seq"`
	Checkpoint wallet.Checkpoint    `json:"checkpoint"`
	Votings    []*voting.Voting     `json:"votings"`
	Pending    []*voting.VoteRecord `json:"pending"`
}

// LoadRelayState reads a relay snapshot from [store].
func LoadRelayState(store *Store) (*RelayState, bool, error) {
	state := &RelayState{}
	ok, err := store.Load(state)
	if err != nil {
		return nil, false, err
	}
	return state, ok, nil
}

// RelayParams wires a relay node.
type RelayParams struct {
	Log   log.Logger
	Conn  *connector.Connector
	Store *Store

	// Upstream receives the forwarded votes of this branch.
	Upstream ids.ShortID

	// Downstream lists the direct children voting definitions and results
	// are fanned out to.
	Downstream []ids.ShortID

	Restored *RelayState
}

var _ message.Consumer = (*RelayNode)(nil)

// RelayNode aggregates one branch of the holder hierarchy. Votes flow up with
// an endorsement appended; voting definitions and results flow down to every
// child. A relay never casts votes of its own.
type RelayNode struct {
	logger     log.Logger
	conn       *connector.Connector
	store      *Store
	upstream   ids.ShortID
	downstream []ids.ShortID
	outbox     *outbox

	mu         sync.Mutex
	votings    map[ids.ID]*voting.Voting
	checkpoint wallet.Checkpoint
	halted     error
}

func NewRelay(params RelayParams) *RelayNode {
	r := &RelayNode{
		logger:     params.Log,
		conn:       params.Conn,
		store:      params.Store,
		upstream:   params.Upstream,
		downstream: params.Downstream,
		votings:    make(map[ids.ID]*voting.Voting),
	}
	r.outbox = newOutbox(params.Log, params.Conn, params.Upstream)
	r.outbox.setSave(r.persist)

	if params.Restored != nil {
		for _, def := range params.Restored.Votings {
			r.votings[def.ID] = def
		}
		r.checkpoint = params.Restored.Checkpoint
		r.outbox.restore(params.Restored.Pending)
	}
	return r
}

// Resume pushes out every vote left pending by the previous run.
func (r *RelayNode) Resume() {
	r.outbox.resendAll()
}

// Halted returns the latched persistence failure, nil while healthy.
func (r *RelayNode) Halted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// RecordProgress persists the inbound checkpoint.
func (r *RelayNode) RecordProgress(checkpoint wallet.Checkpoint) {
	r.mu.Lock()
	r.checkpoint = checkpoint
	r.mu.Unlock()
	r.persist()
}

// HandleVoting stores the definition and fans it out to every child.
func (r *RelayNode) HandleVoting(env *message.Envelope, def *voting.Voting) error {
	r.mu.Lock()
	if r.halted != nil {
		defer r.mu.Unlock()
		return r.halted
	}
	if _, ok := r.votings[def.ID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.votings[def.ID] = def
	r.mu.Unlock()

	r.persist()
	r.fanOutVoting(def)

	r.logger.Info("voting relayed downstream",
		log.Stringer("votingID", def.ID),
		log.Int("children", len(r.downstream)),
		log.Stringer("sender", env.Sender),
	)
	return r.Halted()
}

// HandleVote endorses the vote and forwards it upstream.
func (r *RelayNode) HandleVote(env *message.Envelope, rec *voting.VoteRecord) error {
	if err := r.Halted(); err != nil {
		return err
	}

	forwarded := *rec
	if forwarded.EnvelopeID == ids.Empty {
		forwarded.EnvelopeID = env.ID
	}
	forwarded.Endorsements = append(append([]ids.ShortID{}, rec.Endorsements...), r.conn.Address())
	r.outbox.deliver(&forwarded)

	r.logger.Info("vote relayed upstream",
		log.Stringer("votingID", rec.VotingID),
		log.Stringer("voter", rec.Voter),
		log.Stringer("sender", env.Sender),
	)
	return r.Halted()
}

// HandleResult fans the final tally out to every child.
func (r *RelayNode) HandleResult(env *message.Envelope, res *voting.TallyResult) error {
	if err := r.Halted(); err != nil {
		return err
	}
	for _, child := range r.downstream {
		if _, err := r.conn.SendResult(child, res); err != nil {
			r.logger.Error("failed to relay result downstream",
				log.Stringer("votingID", res.VotingID),
				log.Stringer("child", child),
				log.Err(err),
			)
		}
	}
	r.logger.Info("result relayed downstream",
		log.Stringer("votingID", res.VotingID),
		log.Int("children", len(r.downstream)),
	)
	return nil
}

func (r *RelayNode) fanOutVoting(def *voting.Voting) {
	for _, child := range r.downstream {
		if _, err := r.conn.SendVoting(child, def); err != nil {
			r.logger.Error("failed to relay voting downstream",
				log.Stringer("votingID", def.ID),
				log.Stringer("child", child),
				log.Err(err),
			)
		}
	}
}

func (r *RelayNode) persist() {
	r.mu.Lock()
	if r.halted != nil {
		r.mu.Unlock()
		return
	}
	state := &RelayState{
		Seq:        r.conn.Seq(),
		Checkpoint: r.checkpoint,
		Pending:    r.outbox.snapshot(),
	}
	for _, def := range r.votings {
		state.Votings = append(state.Votings, def)
	}
	r.mu.Unlock()

	if err := r.store.Save(state); err != nil {
		r.mu.Lock()
		r.halted = err
		r.mu.Unlock()
		r.logger.Error("node halted, state save failed", log.Err(err))
	}
}
