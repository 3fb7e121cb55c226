// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/ballot/connector"
	"github.com/luxfi/ballot/message"
	"github.com/luxfi/ballot/utils/timer/mockable"
	"github.com/luxfi/ballot/voting"
	"github.com/luxfi/ballot/wallet"
)

var (
	ErrVotingExists   = errors.New("voting already open")
	ErrVotingClosed   = errors.New("voting window already over")
	ErrAlreadyTallied = errors.New("voting already tallied")
)

var auditPrefix = []byte("audit")

// Audit reasons recorded alongside rejected votes and tally events.
const (
	auditUnknownVoting = "unknown-voting"
	auditOutsideWindow = "outside-window"
	auditStale         = "stale"
	auditTally         = "tally"
)

type auditEntry struct {
	At         int64       `json:"at"`
	Reason     string      `json:"reason"`
	VotingID   ids.ID      `json:"votingID"`
	Voter      ids.ShortID `json:"voter,omitempty"`
	QuestionID uint32      `json:"questionID,omitempty"`
	Choice     string      `json:"choice,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty"`
	EnvelopeID ids.ID      `json:"envelopeID,omitempty"`
	Votes      int         `json:"votes,omitempty"`
}

// OrganizerState is the persisted snapshot of the organizer node.
type OrganizerState struct {
	Seq        uint64                `json:"seq"`
	Checkpoint wallet.Checkpoint     `json:"checkpoint"`
	Votings    []*voting.Voting      `json:"votings"`
	Accepted   []*voting.VoteRecord  `json:"accepted"`
	Tallied    []ids.ID              `json:"tallied"`
	Results    []*voting.TallyResult `json:"results"`
}

// LoadOrganizerState reads an organizer snapshot from [store].
func LoadOrganizerState(store *Store) (*OrganizerState, bool, error) {
	state := &OrganizerState{}
	ok, err := store.Load(state)
	if err != nil {
		return nil, false, err
	}
	return state, ok, nil
}

// OrganizerParams wires the organizer node.
type OrganizerParams struct {
	Log   log.Logger
	Clock *mockable.Clock
	Conn  *connector.Connector
	Store *Store

	// Downstream lists the direct children voting definitions and results
	// are fanned out to: the top-level relays, or the clients themselves in
	// a flat deployment.
	Downstream []ids.ShortID

	// Schedule drives early tallying: once every client expected reachable
	// has voted on every question of a voting, the tally runs without
	// waiting for the window to close.
	Schedule *Schedule

	// TallyDelay is the grace period after a voting's end before the
	// deadline tally runs, leaving room for in-flight ledger confirmations.
	TallyDelay time.Duration

	// TallyInterval is how often deadline tallies are checked for.
	TallyInterval time.Duration

	// AuditDB stores the append-only audit log of rejected votes and tally
	// events.
	AuditDB database.Database

	// Sink, when set, additionally receives every computed result.
	Sink ResultSink

	Restored *OrganizerState
}

var _ message.Consumer = (*Organizer)(nil)

// Organizer is the network's master node: it opens votings, accepts votes
// under last-writer-wins, and computes each tally exactly once.
type Organizer struct {
	logger     log.Logger
	clock      *mockable.Clock
	conn       *connector.Connector
	store      *Store
	downstream []ids.ShortID
	schedule   *Schedule
	tallyDelay time.Duration
	interval   time.Duration
	audit      database.Database
	sink       ResultSink

	mu         sync.Mutex
	votings    map[ids.ID]*voting.Voting
	accepted   map[voting.VoteKey]*voting.VoteRecord
	tallied    set.Set[ids.ID]
	results    map[ids.ID]*voting.TallyResult
	checkpoint wallet.Checkpoint
	halted     error
	running    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrganizer(params OrganizerParams) *Organizer {
	o := &Organizer{
		logger:     params.Log,
		clock:      params.Clock,
		conn:       params.Conn,
		store:      params.Store,
		downstream: params.Downstream,
		schedule:   params.Schedule,
		tallyDelay: params.TallyDelay,
		interval:   params.TallyInterval,
		audit:      prefixdb.New(auditPrefix, params.AuditDB),
		sink:       params.Sink,
		votings:    make(map[ids.ID]*voting.Voting),
		accepted:   make(map[voting.VoteKey]*voting.VoteRecord),
		tallied:    set.NewSet[ids.ID](0),
		results:    make(map[ids.ID]*voting.TallyResult),
	}

	if params.Restored != nil {
		for _, def := range params.Restored.Votings {
			o.votings[def.ID] = def
		}
		for _, rec := range params.Restored.Accepted {
			o.accepted[rec.Key()] = rec
		}
		o.tallied.Add(params.Restored.Tallied...)
		for _, res := range params.Restored.Results {
			o.results[res.VotingID] = res
		}
		o.checkpoint = params.Restored.Checkpoint
	}
	return o
}

// Start launches the deadline tally loop.
func (o *Organizer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return connector.ErrAlreadyRunning
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.running = true

	o.wg.Add(1)
	go o.tallyLoop()
	return nil
}

// Stop halts the deadline tally loop.
func (o *Organizer) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return connector.ErrNotRunning
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

// Halted returns the latched persistence failure, nil while healthy.
func (o *Organizer) Halted() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.halted
}

// RecordProgress persists the inbound checkpoint.
func (o *Organizer) RecordProgress(checkpoint wallet.Checkpoint) {
	o.mu.Lock()
	o.checkpoint = checkpoint
	o.mu.Unlock()
	o.persist()
}

// OpenVoting registers a new voting and announces it downstream. The window
// must not already be over.
func (o *Organizer) OpenVoting(def *voting.Voting) error {
	now := o.clock.UnixMilli()
	if now >= def.End {
		return ErrVotingClosed
	}

	o.mu.Lock()
	if o.halted != nil {
		defer o.mu.Unlock()
		return o.halted
	}
	if _, ok := o.votings[def.ID]; ok {
		o.mu.Unlock()
		return ErrVotingExists
	}
	o.votings[def.ID] = def
	o.mu.Unlock()

	o.persist()
	if err := o.Halted(); err != nil {
		return err
	}

	for _, child := range o.downstream {
		if _, err := o.conn.SendVoting(child, def); err != nil {
			o.logger.Error("failed to announce voting",
				log.Stringer("votingID", def.ID),
				log.Stringer("child", child),
				log.Err(err),
			)
		}
	}
	o.logger.Info("voting opened",
		log.Stringer("votingID", def.ID),
		log.String("name", def.Name),
		log.Int("questions", len(def.Questions)),
	)
	return nil
}

// Result returns the computed tally for [votingID].
func (o *Organizer) Result(votingID ids.ID) (*voting.TallyResult, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.results[votingID]
	return res, ok
}

// AcceptedVotes returns the current winners of every slot of [votingID].
func (o *Organizer) AcceptedVotes(votingID ids.ID) []*voting.VoteRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acceptedLocked(votingID)
}

func (o *Organizer) acceptedLocked(votingID ids.ID) []*voting.VoteRecord {
	var recs []*voting.VoteRecord
	for key, rec := range o.accepted {
		if key.VotingID == votingID {
			recs = append(recs, rec)
		}
	}
	return recs
}

// HandleVote accepts or rejects one vote under last-writer-wins. Rejections
// are audit-logged and consume the envelope; only a persistence failure
// leaves it unconsumed.
func (o *Organizer) HandleVote(env *message.Envelope, rec *voting.VoteRecord) error {
	if err := o.Halted(); err != nil {
		return err
	}

	accepted := *rec
	if accepted.EnvelopeID == ids.Empty {
		accepted.EnvelopeID = env.ID
	}

	o.mu.Lock()
	def, known := o.votings[accepted.VotingID]
	if !known {
		o.mu.Unlock()
		o.logger.Warn("rejecting vote for unknown voting",
			log.Stringer("votingID", accepted.VotingID),
			log.Stringer("voter", accepted.Voter),
		)
		o.auditVote(auditUnknownVoting, &accepted)
		return nil
	}
	if o.tallied.Contains(accepted.VotingID) || !def.IsOpenAt(accepted.Timestamp) {
		o.mu.Unlock()
		o.logger.Warn("rejecting vote outside voting window",
			log.Stringer("votingID", accepted.VotingID),
			log.Stringer("voter", accepted.Voter),
			log.Int64("timestamp", accepted.Timestamp),
		)
		o.auditVote(auditOutsideWindow, &accepted)
		return nil
	}

	current := o.accepted[accepted.Key()]
	if !accepted.Supersedes(current) {
		o.mu.Unlock()
		o.logger.Debug("rejecting stale vote",
			log.Stringer("votingID", accepted.VotingID),
			log.Stringer("voter", accepted.Voter),
			log.Int64("timestamp", accepted.Timestamp),
		)
		o.auditVote(auditStale, &accepted)
		return nil
	}
	o.accepted[accepted.Key()] = &accepted
	o.mu.Unlock()

	o.persist()
	if err := o.Halted(); err != nil {
		return err
	}

	o.logger.Info("vote accepted",
		log.Stringer("votingID", accepted.VotingID),
		log.Stringer("voter", accepted.Voter),
		log.Uint32("questionID", accepted.QuestionID),
		log.Int("endorsements", len(accepted.Endorsements)),
	)

	o.maybeTallyEarly(accepted.VotingID)
	return o.Halted()
}

func (o *Organizer) HandleVoting(env *message.Envelope, def *voting.Voting) error {
	o.logger.Debug("dropping unexpected voting message",
		log.Stringer("sender", env.Sender),
		log.Stringer("votingID", def.ID),
	)
	return nil
}

func (o *Organizer) HandleResult(env *message.Envelope, res *voting.TallyResult) error {
	o.logger.Debug("dropping unexpected result message",
		log.Stringer("sender", env.Sender),
		log.Stringer("votingID", res.VotingID),
	)
	return nil
}

// CheckDeadlines tallies every voting whose window closed at least TallyDelay
// ago. Called periodically by the tally loop; exported so a scheduler or test
// can force a check.
func (o *Organizer) CheckDeadlines() {
	now := o.clock.UnixMilli()

	o.mu.Lock()
	var due []ids.ID
	for votingID, def := range o.votings {
		if o.tallied.Contains(votingID) {
			continue
		}
		if now >= def.End+o.tallyDelay.Milliseconds() {
			due = append(due, votingID)
		}
	}
	o.mu.Unlock()

	for _, votingID := range due {
		if err := o.tally(votingID); err != nil && !errors.Is(err, ErrAlreadyTallied) {
			o.logger.Error("deadline tally failed",
				log.Stringer("votingID", votingID),
				log.Err(err),
			)
		}
	}
}

// maybeTallyEarly runs the tally as soon as every expected client has voted
// on every question, without waiting for the window to close.
func (o *Organizer) maybeTallyEarly(votingID ids.ID) {
	expected := o.schedule.ExpectedAt(o.clock.UnixMilli())
	if expected.Len() == 0 {
		return
	}

	o.mu.Lock()
	def, ok := o.votings[votingID]
	if !ok || o.tallied.Contains(votingID) {
		o.mu.Unlock()
		return
	}
	complete := true
	for voter := range expected {
		for _, question := range def.Questions {
			key := voting.VoteKey{
				VotingID:   votingID,
				QuestionID: question.ID,
				Voter:      voter,
			}
			if _, ok := o.accepted[key]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			break
		}
	}
	o.mu.Unlock()

	if !complete {
		return
	}
	o.logger.Info("all expected votes in, tallying early",
		log.Stringer("votingID", votingID),
		log.Int("expectedVoters", expected.Len()),
	)
	if err := o.tally(votingID); err != nil && !errors.Is(err, ErrAlreadyTallied) {
		o.logger.Error("early tally failed",
			log.Stringer("votingID", votingID),
			log.Err(err),
		)
	}
}

// tally computes, persists and disseminates the result of [votingID]. At most
// one tally ever runs per voting.
func (o *Organizer) tally(votingID ids.ID) error {
	o.mu.Lock()
	if o.halted != nil {
		defer o.mu.Unlock()
		return o.halted
	}
	if _, ok := o.votings[votingID]; !ok {
		o.mu.Unlock()
		return fmt.Errorf("unknown voting %s", votingID)
	}
	if o.tallied.Contains(votingID) {
		o.mu.Unlock()
		return ErrAlreadyTallied
	}
	recs := o.acceptedLocked(votingID)
	res := voting.Tally(votingID, recs, o.clock.UnixMilli())
	o.tallied.Add(votingID)
	o.results[votingID] = res
	o.mu.Unlock()

	o.persist()
	if err := o.Halted(); err != nil {
		return err
	}

	o.auditTallyEvent(votingID, len(recs))
	o.logger.Info("voting tallied",
		log.Stringer("votingID", votingID),
		log.Int("acceptedVotes", len(recs)),
	)

	for _, child := range o.downstream {
		if _, err := o.conn.SendResult(child, res); err != nil {
			o.logger.Error("failed to disseminate result",
				log.Stringer("votingID", votingID),
				log.Stringer("child", child),
				log.Err(err),
			)
		}
	}
	if o.sink != nil {
		if err := o.sink.PublishResult(res); err != nil {
			o.logger.Error("result sink failed",
				log.Stringer("votingID", votingID),
				log.Err(err),
			)
		}
	}
	return nil
}

func (o *Organizer) tallyLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.CheckDeadlines()
		}
	}
}

// auditVote appends a rejected vote to the audit log. Audit failures are
// logged and swallowed; auditing never blocks vote processing.
func (o *Organizer) auditVote(reason string, rec *voting.VoteRecord) {
	entry := &auditEntry{
		At:         o.clock.UnixMilli(),
		Reason:     reason,
		VotingID:   rec.VotingID,
		Voter:      rec.Voter,
		QuestionID: rec.QuestionID,
		Choice:     rec.Choice,
		Timestamp:  rec.Timestamp,
		EnvelopeID: rec.EnvelopeID,
	}
	o.writeAudit(rec.EnvelopeID[:], entry)
}

func (o *Organizer) auditTallyEvent(votingID ids.ID, votes int) {
	entry := &auditEntry{
		At:       o.clock.UnixMilli(),
		Reason:   auditTally,
		VotingID: votingID,
		Votes:    votes,
	}
	o.writeAudit(votingID[:], entry)
}

func (o *Organizer) writeAudit(key []byte, entry *auditEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		o.logger.Error("failed to encode audit entry", log.Err(err))
		return
	}
	if err := o.audit.Put(key, raw); err != nil {
		o.logger.Error("failed to write audit entry", log.Err(err))
	}
}

// persist writes the organizer snapshot, latching the node on failure.
func (o *Organizer) persist() {
	o.mu.Lock()
	if o.halted != nil {
		o.mu.Unlock()
		return
	}
	state := &OrganizerState{
		Seq:        o.conn.Seq(),
		Checkpoint: o.checkpoint,
		Tallied:    o.tallied.List(),
	}
	for _, def := range o.votings {
		state.Votings = append(state.Votings, def)
	}
	for _, rec := range o.accepted {
		state.Accepted = append(state.Accepted, rec)
	}
	for _, res := range o.results {
		state.Results = append(state.Results, res)
	}
	o.mu.Unlock()

	if err := o.store.Save(state); err != nil {
		o.mu.Lock()
		o.halted = err
		o.mu.Unlock()
		o.logger.Error("node halted, state save failed", log.Err(err))
	}
}
