// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package connector implements at-least-once envelope delivery over a ledger
// wallet. The outbound side signs, submits, tracks confirmation and retries;
// the inbound side verifies, deduplicates, decodes and dispatches to the
// registered consumers. Node roles above this package never touch the ledger
// directly.
package connector

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/metric"

	"github.com/luxfi/ballot/crypto"
	"github.com/luxfi/ballot/message"
	"github.com/luxfi/ballot/serializer"
	"github.com/luxfi/ballot/utils/timer/mockable"
	"github.com/luxfi/ballot/voting"
	"github.com/luxfi/ballot/wallet"
)

var (
	ErrAlreadyRunning = errors.New("connector already running")
	ErrNotRunning     = errors.New("connector not running")

	// ErrDeliveryAbandoned reports that an envelope exhausted the retry
	// ceiling without a ledger confirmation. Delivery is then unknown, not
	// known-failed: the envelope may still surface on the ledger later.
	ErrDeliveryAbandoned = errors.New("delivery abandoned")

	// ErrConnectorClosed resolves outstanding receipts when the connector
	// stops before their envelopes confirm.
	ErrConnectorClosed = errors.New("connector closed")
)

// Config bounds the delivery guarantees of a connector.
type Config struct {
	// SweepInterval is how often pending submissions are checked for
	// confirmation.
	SweepInterval time.Duration

	// ConfirmTimeout is how long a submission may stay unconfirmed before it
	// is resubmitted.
	ConfirmTimeout time.Duration

	// RetryCeiling caps resubmissions of one envelope. Past it the envelope
	// is abandoned and its receipt resolves with ErrDeliveryAbandoned.
	RetryCeiling int

	// SendPoolSize caps concurrent ledger submissions.
	SendPoolSize int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:  time.Second,
		ConfirmTimeout: 180 * time.Second,
		RetryCeiling:   10,
		SendPoolSize:   20,
	}
}

// Receipt tracks one outbound envelope. Done resolves exactly once: nil on
// ledger confirmation, ErrDeliveryAbandoned past the retry ceiling, or
// ErrConnectorClosed on shutdown.
type Receipt struct {
	EnvelopeID ids.ID
	Done       <-chan error
}

type pendingSubmission struct {
	env   *message.Envelope
	bytes []byte
	done  chan error

	// Guarded by Connector.mu.
	submission  wallet.SubmissionID
	submittedAt time.Time
	attempts    int
	retries     int
}

// Params wires a connector to its node identity and transports.
type Params struct {
	Log        log.Logger
	Clock      *mockable.Clock
	Config     Config
	Wallet     wallet.Wallet
	Serializer serializer.Serializer
	Provider   crypto.Provider
	Key        *secp256k1.PrivateKey

	// Keys maps every verifiable participant to its public key. Envelopes
	// from senders outside this table are dropped.
	Keys map[ids.ShortID]*secp256k1.PublicKey

	// InitialSeq resumes the per-sender sequence after a restart. Envelope
	// ids derive from the sequence, so reusing a sequence number would make
	// receivers drop the new envelope as a duplicate.
	InitialSeq uint64

	Registerer metric.Registerer
}

// Connector is the delivery engine of one node.
type Connector struct {
	logger     log.Logger
	clock      *mockable.Clock
	cfg        Config
	wallet     wallet.Wallet
	serializer serializer.Serializer
	provider   crypto.Provider
	key        *secp256k1.PrivateKey
	self       ids.ShortID
	keys       map[ids.ShortID]*secp256k1.PublicKey
	metrics    *connectorMetrics

	mu        sync.Mutex
	seq       uint64
	pending   map[ids.ID]*pendingSubmission
	processed set.Set[ids.ID]
	consumers []message.Consumer
	running   bool

	submits errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(params Params) (*Connector, error) {
	metrics, err := newMetrics(params.Registerer)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		logger:     params.Log,
		clock:      params.Clock,
		cfg:        params.Config,
		wallet:     params.Wallet,
		serializer: params.Serializer,
		provider:   params.Provider,
		key:        params.Key,
		self:       params.Key.PublicKey().Address(),
		keys:       params.Keys,
		metrics:    metrics,
		seq:        params.InitialSeq,
		pending:    make(map[ids.ID]*pendingSubmission),
		processed:  set.NewSet[ids.ID](0),
	}
	c.submits.SetLimit(params.Config.SendPoolSize)
	return c, nil
}

// Address returns the node's own ledger address.
func (c *Connector) Address() ids.ShortID {
	return c.self
}

// Seq returns the last assigned sequence number, for persistence across
// restarts.
func (c *Connector) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// AddConsumer registers a consumer for inbound messages. Consumers are
// dispatched in registration order.
func (c *Connector) AddConsumer(consumer message.Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = append(c.consumers, consumer)
}

// Start launches the confirmation sweep loop.
func (c *Connector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.running = true

	c.wg.Add(1)
	go c.sweepLoop()

	c.logger.Info("connector started",
		log.Stringer("address", c.self),
		log.Uint64("seq", c.seq),
	)
	return nil
}

// Stop halts the sweep loop, waits out in-flight submissions and resolves
// every outstanding receipt with ErrConnectorClosed.
func (c *Connector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	_ = c.submits.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		p.done <- ErrConnectorClosed
		close(p.done)
	}
	c.pending = make(map[ids.ID]*pendingSubmission)
	c.metrics.numPending.Set(0)

	c.logger.Info("connector stopped")
	return nil
}

// SendVote submits a vote record to [recipient].
func (c *Connector) SendVote(recipient ids.ShortID, rec *voting.VoteRecord) (Receipt, error) {
	payload, err := c.serializer.MarshalVote(rec)
	if err != nil {
		return Receipt{}, err
	}
	return c.send(recipient, message.KindVote, payload)
}

// SendVoting submits a voting definition to [recipient].
func (c *Connector) SendVoting(recipient ids.ShortID, def *voting.Voting) (Receipt, error) {
	payload, err := c.serializer.MarshalVoting(def)
	if err != nil {
		return Receipt{}, err
	}
	return c.send(recipient, message.KindVoting, payload)
}

// SendResult submits a tally result to [recipient].
func (c *Connector) SendResult(recipient ids.ShortID, res *voting.TallyResult) (Receipt, error) {
	payload, err := c.serializer.MarshalResult(res)
	if err != nil {
		return Receipt{}, err
	}
	return c.send(recipient, message.KindResult, payload)
}

func (c *Connector) send(recipient ids.ShortID, kind message.Kind, payload []byte) (Receipt, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return Receipt{}, ErrNotRunning
	}
	c.seq++
	env := message.NewEnvelope(c.self, recipient, c.seq, kind, c.clock.UnixMilli(), payload)
	c.mu.Unlock()

	signingBytes, err := env.SigningBytes()
	if err != nil {
		return Receipt{}, err
	}
	env.Signature, err = c.provider.Sign(c.key, signingBytes)
	if err != nil {
		return Receipt{}, err
	}
	envBytes, err := env.Bytes()
	if err != nil {
		return Receipt{}, err
	}

	p := &pendingSubmission{
		env:   env,
		bytes: envBytes,
		done:  make(chan error, 1),
	}

	c.mu.Lock()
	c.pending[env.ID] = p
	c.metrics.numPending.Set(float64(len(c.pending)))
	c.mu.Unlock()

	c.submits.Go(func() error {
		c.submit(p)
		return nil
	})

	c.logger.Debug("envelope queued",
		log.Stringer("recipient", recipient),
		log.Stringer("kind", kind),
		log.Stringer("envelopeID", env.ID),
	)
	return Receipt{EnvelopeID: env.ID, Done: p.done}, nil
}

// submit performs one ledger submission attempt for [p]. A failed attempt is
// left for the sweep loop to retry.
func (c *Connector) submit(p *pendingSubmission) {
	id, err := c.wallet.Submit(c.ctx, p.env.Recipient, p.bytes)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[p.env.ID]; !ok {
		return
	}
	p.attempts++
	if err != nil {
		p.submission = ids.Empty
		c.logger.Warn("envelope submission failed",
			log.Stringer("envelopeID", p.env.ID),
			log.Int("attempts", p.attempts),
			log.Err(err),
		)
		return
	}
	p.submission = id
	p.submittedAt = c.clock.Time()
}

func (c *Connector) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.ctx)
		}
	}
}

// Sweep checks every pending submission once: confirmed submissions resolve
// their receipts, submissions unconfirmed past ConfirmTimeout are resubmitted
// unchanged, and submissions past the retry ceiling are abandoned.
func (c *Connector) Sweep(ctx context.Context) {
	c.mu.Lock()
	snapshot := make([]*pendingSubmission, 0, len(c.pending))
	for _, p := range c.pending {
		snapshot = append(snapshot, p)
	}
	c.mu.Unlock()

	for _, p := range snapshot {
		c.sweepOne(ctx, p)
	}
}

func (c *Connector) sweepOne(ctx context.Context, p *pendingSubmission) {
	c.mu.Lock()
	if _, ok := c.pending[p.env.ID]; !ok {
		c.mu.Unlock()
		return
	}
	submission := p.submission
	attempts := p.attempts
	submittedAt := p.submittedAt
	c.mu.Unlock()

	if submission == ids.Empty {
		// First attempt still in flight; nothing to check yet.
		if attempts == 0 {
			return
		}
		c.resubmit(ctx, p)
		return
	}

	confirmed, err := c.wallet.IsConfirmed(ctx, submission)
	if err != nil {
		c.logger.Warn("confirmation check failed",
			log.Stringer("envelopeID", p.env.ID),
			log.Err(err),
		)
		return
	}
	if confirmed {
		c.metrics.numConfirmed.Inc()
		c.logger.Debug("envelope confirmed",
			log.Stringer("envelopeID", p.env.ID),
		)
		c.finish(p, nil)
		return
	}
	if c.clock.Time().Sub(submittedAt) >= c.cfg.ConfirmTimeout {
		c.resubmit(ctx, p)
	}
}

// resubmit pushes the identical envelope bytes again. The envelope id is
// unchanged, so the receiver deduplicates if both submissions land.
func (c *Connector) resubmit(ctx context.Context, p *pendingSubmission) {
	c.mu.Lock()
	if _, ok := c.pending[p.env.ID]; !ok {
		c.mu.Unlock()
		return
	}
	p.retries++
	retries := p.retries
	c.mu.Unlock()

	if retries > c.cfg.RetryCeiling {
		c.metrics.numAbandoned.Inc()
		c.logger.Error("abandoning envelope past retry ceiling",
			log.Stringer("envelopeID", p.env.ID),
			log.Stringer("recipient", p.env.Recipient),
			log.Int("retries", retries-1),
		)
		c.finish(p, ErrDeliveryAbandoned)
		return
	}

	c.metrics.numRetried.Inc()
	c.logger.Info("resubmitting unconfirmed envelope",
		log.Stringer("envelopeID", p.env.ID),
		log.Int("retry", retries),
	)

	id, err := c.wallet.Submit(ctx, p.env.Recipient, p.bytes)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[p.env.ID]; !ok {
		return
	}
	p.attempts++
	if err != nil {
		p.submission = ids.Empty
		c.logger.Warn("envelope resubmission failed",
			log.Stringer("envelopeID", p.env.ID),
			log.Err(err),
		)
		return
	}
	p.submission = id
	p.submittedAt = c.clock.Time()
}

func (c *Connector) finish(p *pendingSubmission, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[p.env.ID]; !ok {
		return
	}
	delete(c.pending, p.env.ID)
	c.metrics.numPending.Set(float64(len(c.pending)))
	p.done <- err
	close(p.done)
}

// HandleRaw processes one inbound ledger delivery. Undecodable, misaddressed
// and unverifiable payloads are dropped with a log line and a nil return so
// the caller advances its checkpoint past them. A non-nil return means a
// consumer failed and the envelope was intentionally left unprocessed; a
// redelivery will retry it.
func (c *Connector) HandleRaw(d wallet.Delivery) error {
	env, err := message.Parse(d.Payload)
	if err != nil {
		c.metrics.numMalformed.Inc()
		c.logger.Debug("dropping undecodable payload",
			log.Stringer("sender", d.Sender),
			log.Err(err),
		)
		return nil
	}
	// The id binds dedup to the sender and sequence; a payload carrying a
	// mismatched id could defeat dedup or shadow another envelope.
	if env.ID != message.EnvelopeID(env.Sender, env.Seq) {
		c.metrics.numMalformed.Inc()
		c.logger.Warn("dropping envelope with forged id",
			log.Stringer("sender", env.Sender),
			log.Stringer("envelopeID", env.ID),
		)
		return nil
	}
	if env.Recipient != c.self {
		c.logger.Debug("dropping misaddressed envelope",
			log.Stringer("recipient", env.Recipient),
			log.Stringer("envelopeID", env.ID),
		)
		return nil
	}

	key, ok := c.keys[env.Sender]
	if !ok {
		c.metrics.numInvalidSigs.Inc()
		c.logger.Warn("dropping envelope from unverifiable sender",
			log.Stringer("sender", env.Sender),
			log.Stringer("envelopeID", env.ID),
		)
		return nil
	}
	signingBytes, err := env.SigningBytes()
	if err != nil {
		c.metrics.numMalformed.Inc()
		return nil
	}
	if !c.provider.Verify(key, signingBytes, env.Signature) {
		c.metrics.numInvalidSigs.Inc()
		c.logger.Warn("dropping envelope with invalid signature",
			log.Stringer("sender", env.Sender),
			log.Stringer("envelopeID", env.ID),
		)
		return nil
	}

	c.mu.Lock()
	duplicate := c.processed.Contains(env.ID)
	consumers := make([]message.Consumer, len(c.consumers))
	copy(consumers, c.consumers)
	c.mu.Unlock()

	if duplicate {
		c.metrics.numDuplicates.Inc()
		c.logger.Debug("dropping redelivered envelope",
			log.Stringer("envelopeID", env.ID),
		)
		return nil
	}

	if err := c.dispatch(env, consumers); err != nil {
		return err
	}

	c.mu.Lock()
	c.processed.Add(env.ID)
	c.mu.Unlock()
	return nil
}

// dispatch decodes the payload and hands it to every consumer. A failing
// consumer never blocks the later ones; the errors are joined.
func (c *Connector) dispatch(env *message.Envelope, consumers []message.Consumer) error {
	var errs []error
	switch env.Kind {
	case message.KindVote:
		rec, err := c.serializer.UnmarshalVote(env.Payload)
		if err != nil {
			return c.dropMalformed(env, err)
		}
		for _, consumer := range consumers {
			errs = append(errs, consumer.HandleVote(env, rec))
		}
	case message.KindVoting:
		def, err := c.serializer.UnmarshalVoting(env.Payload)
		if err != nil {
			return c.dropMalformed(env, err)
		}
		for _, consumer := range consumers {
			errs = append(errs, consumer.HandleVoting(env, def))
		}
	case message.KindResult:
		res, err := c.serializer.UnmarshalResult(env.Payload)
		if err != nil {
			return c.dropMalformed(env, err)
		}
		for _, consumer := range consumers {
			errs = append(errs, consumer.HandleResult(env, res))
		}
	default:
		return c.dropMalformed(env, errors.New("unknown message kind"))
	}

	for _, err := range errs {
		if err != nil {
			c.metrics.numConsumerErrors.Inc()
			c.logger.Error("consumer failed to handle envelope",
				log.Stringer("envelopeID", env.ID),
				log.Stringer("kind", env.Kind),
				log.Err(err),
			)
		}
	}
	return errors.Join(errs...)
}

func (c *Connector) dropMalformed(env *message.Envelope, err error) error {
	c.metrics.numMalformed.Inc()
	c.logger.Warn("dropping malformed payload",
		log.Stringer("sender", env.Sender),
		log.Stringer("kind", env.Kind),
		log.Stringer("envelopeID", env.ID),
		log.Err(err),
	)
	return nil
}
