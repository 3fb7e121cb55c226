// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nodes

import (
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ballot/connector"
	"github.com/luxfi/ballot/message"
	"github.com/luxfi/ballot/utils/timer/mockable"
	"github.com/luxfi/ballot/voting"
	"github.com/luxfi/ballot/wallet"
)

// ClientState is the persisted snapshot of a client node.
type ClientState struct {
	Seq        uint64                `json:"seq"`
	Checkpoint wallet.Checkpoint     `json:"checkpoint"`
	Votings    []*voting.Voting      `json:"votings"`
	Results    []*voting.TallyResult `json:"results"`
	Pending    []*voting.VoteRecord  `json:"pending"`
}

// LoadClientState reads a client snapshot from [store]. An absent snapshot
// yields a zero state and false.
func LoadClientState(store *Store) (*ClientState, bool, error) {
	state := &ClientState{}
	ok, err := store.Load(state)
	if err != nil {
		return nil, false, err
	}
	return state, ok, nil
}

// ClientParams wires a client node.
type ClientParams struct {
	Log   log.Logger
	Clock *mockable.Clock
	Conn  *connector.Connector
	Store *Store

	// Upstream receives everything this node casts or forwards: the parent
	// relay of the branch, or the organizer directly.
	Upstream ids.ShortID

	// Restored is the snapshot loaded at startup, nil for a fresh node.
	Restored *ClientState
}

var _ message.Consumer = (*ClientNode)(nil)

// ClientNode is a leaf or intermediate holder. It casts its own votes, and
// when subordinate holders route through it, endorses and forwards theirs.
type ClientNode struct {
	logger   log.Logger
	clock    *mockable.Clock
	conn     *connector.Connector
	store    *Store
	upstream ids.ShortID
	outbox   *outbox

	mu         sync.Mutex
	votings    map[ids.ID]*voting.Voting
	results    map[ids.ID]*voting.TallyResult
	checkpoint wallet.Checkpoint
	halted     error
}

func NewClient(params ClientParams) *ClientNode {
	c := &ClientNode{
		logger:   params.Log,
		clock:    params.Clock,
		conn:     params.Conn,
		store:    params.Store,
		upstream: params.Upstream,
		votings:  make(map[ids.ID]*voting.Voting),
		results:  make(map[ids.ID]*voting.TallyResult),
	}
	c.outbox = newOutbox(params.Log, params.Conn, params.Upstream)
	c.outbox.setSave(c.persist)

	if params.Restored != nil {
		for _, def := range params.Restored.Votings {
			c.votings[def.ID] = def
		}
		for _, res := range params.Restored.Results {
			c.results[res.VotingID] = res
		}
		c.checkpoint = params.Restored.Checkpoint
		c.outbox.restore(params.Restored.Pending)
	}
	return c
}

// Resume pushes out every vote left pending by the previous run. Call once
// after the connector is started.
func (c *ClientNode) Resume() {
	c.outbox.resendAll()
}

// Halted returns the latched persistence failure, nil while healthy.
func (c *ClientNode) Halted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Cast creates and delivers this node's own vote. The choice must name an
// answer of an open, known voting.
func (c *ClientNode) Cast(votingID ids.ID, questionID uint32, choice string) (*voting.VoteRecord, error) {
	c.mu.Lock()
	if c.halted != nil {
		defer c.mu.Unlock()
		return nil, c.halted
	}
	def, ok := c.votings[votingID]
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown voting %s", votingID)
	}
	now := c.clock.UnixMilli()
	if !def.IsOpenAt(now) {
		return nil, fmt.Errorf("voting %s is not open", votingID)
	}

	rec := &voting.VoteRecord{
		VotingID:   votingID,
		QuestionID: questionID,
		Voter:      c.conn.Address(),
		Choice:     choice,
		Timestamp:  now,
	}
	c.outbox.deliver(rec)

	c.logger.Info("vote cast",
		log.Stringer("votingID", votingID),
		log.Uint32("questionID", questionID),
		log.String("choice", choice),
	)
	return rec, nil
}

// Voting returns the known definition for [votingID].
func (c *ClientNode) Voting(votingID ids.ID) (*voting.Voting, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	def, ok := c.votings[votingID]
	return def, ok
}

// Result returns the received tally for [votingID].
func (c *ClientNode) Result(votingID ids.ID) (*voting.TallyResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.results[votingID]
	return res, ok
}

// RecordProgress persists the inbound checkpoint. Checkpoint loss is benign,
// redelivered envelopes deduplicate, so this is called opportunistically
// rather than per delivery.
func (c *ClientNode) RecordProgress(checkpoint wallet.Checkpoint) {
	c.mu.Lock()
	c.checkpoint = checkpoint
	c.mu.Unlock()
	c.persist()
}

func (c *ClientNode) HandleVoting(env *message.Envelope, def *voting.Voting) error {
	c.mu.Lock()
	if c.halted != nil {
		defer c.mu.Unlock()
		return c.halted
	}
	if _, ok := c.votings[def.ID]; ok {
		// Definitions are immutable; a redelivered one carries nothing new.
		c.mu.Unlock()
		return nil
	}
	c.votings[def.ID] = def
	c.mu.Unlock()

	c.persist()
	c.logger.Info("voting received",
		log.Stringer("votingID", def.ID),
		log.String("name", def.Name),
		log.Stringer("sender", env.Sender),
	)
	return c.Halted()
}

// HandleVote endorses a subordinate's vote and forwards it upstream.
func (c *ClientNode) HandleVote(env *message.Envelope, rec *voting.VoteRecord) error {
	if err := c.Halted(); err != nil {
		return err
	}

	forwarded := *rec
	if forwarded.EnvelopeID == ids.Empty {
		forwarded.EnvelopeID = env.ID
	}
	forwarded.Endorsements = append(append([]ids.ShortID{}, rec.Endorsements...), c.conn.Address())
	c.outbox.deliver(&forwarded)

	c.logger.Info("vote forwarded",
		log.Stringer("votingID", rec.VotingID),
		log.Stringer("voter", rec.Voter),
		log.Stringer("sender", env.Sender),
	)
	return c.Halted()
}

func (c *ClientNode) HandleResult(env *message.Envelope, res *voting.TallyResult) error {
	c.mu.Lock()
	if c.halted != nil {
		defer c.mu.Unlock()
		return c.halted
	}
	c.results[res.VotingID] = res
	c.mu.Unlock()

	c.persist()
	c.logger.Info("tally result received",
		log.Stringer("votingID", res.VotingID),
		log.Stringer("sender", env.Sender),
	)
	return c.Halted()
}

// persist writes the node snapshot. A failed save latches the node: every
// later mutation is refused so acknowledged state can not silently diverge
// from disk.
func (c *ClientNode) persist() {
	c.mu.Lock()
	if c.halted != nil {
		c.mu.Unlock()
		return
	}
	state := &ClientState{
		Seq:        c.conn.Seq(),
		Checkpoint: c.checkpoint,
		Pending:    c.outbox.snapshot(),
	}
	for _, def := range c.votings {
		state.Votings = append(state.Votings, def)
	}
	for _, res := range c.results {
		state.Results = append(state.Results, res)
	}
	c.mu.Unlock()

	if err := c.store.Save(state); err != nil {
		c.mu.Lock()
		c.halted = err
		c.mu.Unlock()
		c.logger.Error("node halted, state save failed", log.Err(err))
	}
}
