// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/ballot/crypto"
	"github.com/luxfi/ballot/message"
	"github.com/luxfi/ballot/serializer"
	"github.com/luxfi/ballot/utils/timer/mockable"
	"github.com/luxfi/ballot/voting"
	"github.com/luxfi/ballot/wallet"
)

type testNode struct {
	key  *secp256k1.PrivateKey
	addr ids.ShortID
	w    *wallet.MockWallet
	conn *Connector
}

type testNetwork struct {
	clock *mockable.Clock
	hub   *wallet.Hub
	nodes []*testNode
}

func newTestNetwork(t *testing.T, numNodes int, cfg Config) *testNetwork {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))
	hub := wallet.NewHub(clock)

	keys := make([]*secp256k1.PrivateKey, numNodes)
	keyTable := make(map[ids.ShortID]*secp256k1.PublicKey, numNodes)
	for i := range keys {
		key, err := secp256k1.NewPrivateKey()
		require.NoError(err)
		keys[i] = key
		keyTable[key.PublicKey().Address()] = key.PublicKey()
	}

	serde, err := serializer.New(serializer.Compact)
	require.NoError(err)

	n := &testNetwork{clock: clock, hub: hub}
	for _, key := range keys {
		w := hub.NewWallet(key.PublicKey().Address())
		conn, err := New(Params{
			Log:        log.NewNoOpLogger(),
			Clock:      clock,
			Config:     cfg,
			Wallet:     w,
			Serializer: serde,
			Provider:   crypto.NewProvider(false),
			Key:        key,
			Keys:       keyTable,
			Registerer: metric.NewRegistry(),
		})
		require.NoError(err)
		n.nodes = append(n.nodes, &testNode{
			key:  key,
			addr: key.PublicKey().Address(),
			w:    w,
			conn: conn,
		})
	}
	return n
}

// quietConfig keeps the background sweep loop out of the way so tests drive
// Sweep deterministically.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour
	cfg.ConfirmTimeout = 0
	return cfg
}

type captureConsumer struct {
	votes   []*voting.VoteRecord
	votings []*voting.Voting
	results []*voting.TallyResult

	failVotes int
}

func (c *captureConsumer) HandleVote(_ *message.Envelope, rec *voting.VoteRecord) error {
	if c.failVotes > 0 {
		c.failVotes--
		return context.DeadlineExceeded
	}
	c.votes = append(c.votes, rec)
	return nil
}

func (c *captureConsumer) HandleVoting(_ *message.Envelope, def *voting.Voting) error {
	c.votings = append(c.votings, def)
	return nil
}

func (c *captureConsumer) HandleResult(_ *message.Envelope, res *voting.TallyResult) error {
	c.results = append(c.results, res)
	return nil
}

func testVote(voter ids.ShortID, ts int64) *voting.VoteRecord {
	return &voting.VoteRecord{
		VotingID:   ids.GenerateTestID(),
		QuestionID: 1,
		Voter:      voter,
		Choice:     "yes",
		Timestamp:  ts,
	}
}

// waitDelivered blocks until the hub holds [n] deliveries for [node].
func (tn *testNetwork) waitDelivered(t *testing.T, node *testNode, n int) {
	require.Eventually(t, func() bool {
		deliveries, _, err := node.w.FetchNew(context.Background(), 0)
		return err == nil && len(deliveries) >= n
	}, time.Second, 5*time.Millisecond)
}

func TestSendVoteConfirmedAndDelivered(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	require.NoError(sender.conn.Start())
	defer func() {
		_ = sender.conn.Stop()
	}()

	rec := testVote(sender.addr, n.clock.UnixMilli())
	receipt, err := sender.conn.SendVote(receiver.addr, rec)
	require.NoError(err)
	require.Equal(message.EnvelopeID(sender.addr, 1), receipt.EnvelopeID)

	n.waitDelivered(t, receiver, 1)

	// Instant confirmation backend: one sweep resolves the receipt.
	sender.conn.Sweep(context.Background())
	require.NoError(<-receipt.Done)

	poller := NewInboundPoller(log.NewNoOpLogger(), receiver.w, receiver.conn, time.Hour, 0)
	poller.Poll(context.Background())

	require.Len(consumer.votes, 1)
	require.Equal(rec.Voter, consumer.votes[0].Voter)
	require.Equal("yes", consumer.votes[0].Choice)
	require.Equal(wallet.Checkpoint(1), poller.Checkpoint())
}

func TestRetryUntilConfirmed(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]
	sender.w.ConfirmAfterChecks = 2

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	require.NoError(sender.conn.Start())
	defer func() {
		_ = sender.conn.Stop()
	}()

	receipt, err := sender.conn.SendVote(receiver.addr, testVote(sender.addr, n.clock.UnixMilli()))
	require.NoError(err)
	n.waitDelivered(t, receiver, 1)

	// Two sweeps find the submission unconfirmed and resubmit it unchanged;
	// the third finds it confirmed.
	sender.conn.Sweep(context.Background())
	sender.conn.Sweep(context.Background())
	select {
	case <-receipt.Done:
		require.FailNow("receipt resolved before confirmation")
	default:
	}
	sender.conn.Sweep(context.Background())
	require.NoError(<-receipt.Done)

	// Every resubmission landed on the ledger.
	deliveries, _, err := receiver.w.FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Len(deliveries, 3)

	// The receiver deduplicates the redeliveries down to one dispatch.
	for _, d := range deliveries {
		require.NoError(receiver.conn.HandleRaw(d))
	}
	require.Len(consumer.votes, 1)
}

func TestAbandonPastRetryCeiling(t *testing.T) {
	require := require.New(t)

	cfg := quietConfig()
	cfg.RetryCeiling = 2
	n := newTestNetwork(t, 2, cfg)
	sender, receiver := n.nodes[0], n.nodes[1]
	sender.w.ConfirmAfterChecks = -1 // never confirms

	require.NoError(sender.conn.Start())
	defer func() {
		_ = sender.conn.Stop()
	}()

	receipt, err := sender.conn.SendVote(receiver.addr, testVote(sender.addr, n.clock.UnixMilli()))
	require.NoError(err)
	n.waitDelivered(t, receiver, 1)

	sender.conn.Sweep(context.Background()) // retry 1
	sender.conn.Sweep(context.Background()) // retry 2
	sender.conn.Sweep(context.Background()) // past the ceiling

	require.ErrorIs(<-receipt.Done, ErrDeliveryAbandoned)

	// Abandoned means gone from the pending set: further sweeps are no-ops.
	sender.conn.Sweep(context.Background())
	deliveries, _, err := receiver.w.FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Len(deliveries, 3) // initial + 2 retries
}

func TestSubmitFailureRetriedBySweep(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]
	sender.w.FailNextSubmits = 1

	require.NoError(sender.conn.Start())
	defer func() {
		_ = sender.conn.Stop()
	}()

	receipt, err := sender.conn.SendVote(receiver.addr, testVote(sender.addr, n.clock.UnixMilli()))
	require.NoError(err)

	// Wait for the failed first attempt to land.
	require.Eventually(func() bool {
		sender.conn.mu.Lock()
		defer sender.conn.mu.Unlock()
		for _, p := range sender.conn.pending {
			return p.attempts == 1
		}
		return false
	}, time.Second, 5*time.Millisecond)

	sender.conn.Sweep(context.Background()) // resubmits
	n.waitDelivered(t, receiver, 1)
	sender.conn.Sweep(context.Background()) // confirms
	require.NoError(<-receipt.Done)
}

func TestStopResolvesOutstandingReceipts(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]
	sender.w.ConfirmAfterChecks = -1

	require.NoError(sender.conn.Start())

	receipt, err := sender.conn.SendVote(receiver.addr, testVote(sender.addr, n.clock.UnixMilli()))
	require.NoError(err)
	n.waitDelivered(t, receiver, 1)

	require.NoError(sender.conn.Stop())
	require.ErrorIs(<-receipt.Done, ErrConnectorClosed)

	_, err = sender.conn.SendVote(receiver.addr, testVote(sender.addr, 0))
	require.ErrorIs(err, ErrNotRunning)
	require.ErrorIs(sender.conn.Stop(), ErrNotRunning)
}

// signedDelivery builds the raw wire form of a vote envelope from [sender],
// bypassing the connector's outbound path.
func signedDelivery(
	t *testing.T,
	sender *testNode,
	recipient ids.ShortID,
	seq uint64,
	rec *voting.VoteRecord,
) wallet.Delivery {
	require := require.New(t)

	serde, err := serializer.New(serializer.Compact)
	require.NoError(err)
	payload, err := serde.MarshalVote(rec)
	require.NoError(err)

	env := message.NewEnvelope(sender.addr, recipient, seq, message.KindVote, rec.Timestamp, payload)
	signingBytes, err := env.SigningBytes()
	require.NoError(err)
	env.Signature, err = crypto.NewProvider(false).Sign(sender.key, signingBytes)
	require.NoError(err)
	envBytes, err := env.Bytes()
	require.NoError(err)

	return wallet.Delivery{Payload: envBytes, Sender: sender.addr}
}

func TestHandleRawDeduplicates(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	d := signedDelivery(t, sender, receiver.addr, 7, testVote(sender.addr, 123))
	require.NoError(receiver.conn.HandleRaw(d))
	require.NoError(receiver.conn.HandleRaw(d))

	require.Len(consumer.votes, 1)
}

func TestHandleRawDropsInvalidSignature(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	d := signedDelivery(t, sender, receiver.addr, 1, testVote(sender.addr, 123))

	// Corrupt the signed region.
	tampered := make([]byte, len(d.Payload))
	copy(tampered, d.Payload)
	tampered[len(tampered)-1] ^= 0xff

	require.NoError(receiver.conn.HandleRaw(wallet.Delivery{
		Payload: tampered,
		Sender:  sender.addr,
	}))
	require.Empty(consumer.votes)
}

func TestHandleRawDropsUnknownSender(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	receiver := n.nodes[1]

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	strangerKey, err := secp256k1.NewPrivateKey()
	require.NoError(err)
	stranger := &testNode{key: strangerKey, addr: strangerKey.PublicKey().Address()}

	d := signedDelivery(t, stranger, receiver.addr, 1, testVote(stranger.addr, 123))
	require.NoError(receiver.conn.HandleRaw(d))
	require.Empty(consumer.votes)
}

func TestHandleRawDropsForgedEnvelopeID(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	serde, err := serializer.New(serializer.Compact)
	require.NoError(err)
	payload, err := serde.MarshalVote(testVote(sender.addr, 123))
	require.NoError(err)

	env := message.NewEnvelope(sender.addr, receiver.addr, 1, message.KindVote, 123, payload)
	env.ID = ids.GenerateTestID()
	signingBytes, err := env.SigningBytes()
	require.NoError(err)
	env.Signature, err = crypto.NewProvider(false).Sign(sender.key, signingBytes)
	require.NoError(err)
	envBytes, err := env.Bytes()
	require.NoError(err)

	require.NoError(receiver.conn.HandleRaw(wallet.Delivery{
		Payload: envBytes,
		Sender:  sender.addr,
	}))
	require.Empty(consumer.votes)
}

func TestHandleRawDropsGarbage(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1, quietConfig())
	receiver := n.nodes[0]

	consumer := &captureConsumer{}
	receiver.conn.AddConsumer(consumer)

	require.NoError(receiver.conn.HandleRaw(wallet.Delivery{
		Payload: []byte("not an envelope"),
		Sender:  ids.GenerateTestShortID(),
	}))
	require.Empty(consumer.votes)
}

func TestConsumerFailureAllowsRedelivery(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	consumer := &captureConsumer{failVotes: 1}
	receiver.conn.AddConsumer(consumer)

	d := signedDelivery(t, sender, receiver.addr, 1, testVote(sender.addr, 123))

	// First delivery fails in the consumer and must not be marked processed.
	require.Error(receiver.conn.HandleRaw(d))
	require.Empty(consumer.votes)

	// The redelivery goes through.
	require.NoError(receiver.conn.HandleRaw(d))
	require.Len(consumer.votes, 1)
}

func TestPollerHoldsCheckpointOnConsumerFailure(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	consumer := &captureConsumer{failVotes: 1}
	receiver.conn.AddConsumer(consumer)

	d := signedDelivery(t, sender, receiver.addr, 1, testVote(sender.addr, 123))
	_, err := sender.w.Submit(context.Background(), receiver.addr, d.Payload)
	require.NoError(err)

	poller := NewInboundPoller(log.NewNoOpLogger(), receiver.w, receiver.conn, time.Hour, 0)

	poller.Poll(context.Background())
	require.Equal(wallet.Checkpoint(0), poller.Checkpoint())
	require.Empty(consumer.votes)

	poller.Poll(context.Background())
	require.Equal(wallet.Checkpoint(1), poller.Checkpoint())
	require.Len(consumer.votes, 1)
}

func TestSeqResumesAcrossRestart(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2, quietConfig())
	sender, receiver := n.nodes[0], n.nodes[1]

	require.NoError(sender.conn.Start())
	receipt, err := sender.conn.SendVote(receiver.addr, testVote(sender.addr, 1))
	require.NoError(err)
	require.Equal(message.EnvelopeID(sender.addr, 1), receipt.EnvelopeID)
	n.waitDelivered(t, receiver, 1)
	sender.conn.Sweep(context.Background())
	require.NoError(<-receipt.Done)
	require.NoError(sender.conn.Stop())

	// A restarted connector resumes from the persisted sequence, so its next
	// envelope id does not collide with an already processed one.
	serde, err := serializer.New(serializer.Compact)
	require.NoError(err)
	restarted, err := New(Params{
		Log:        log.NewNoOpLogger(),
		Clock:      n.clock,
		Config:     quietConfig(),
		Wallet:     sender.w,
		Serializer: serde,
		Provider:   crypto.NewProvider(false),
		Key:        sender.key,
		Keys:       map[ids.ShortID]*secp256k1.PublicKey{},
		InitialSeq: sender.conn.Seq(),
		Registerer: metric.NewRegistry(),
	})
	require.NoError(err)
	require.NoError(restarted.Start())
	defer func() {
		_ = restarted.Stop()
	}()

	receipt2, err := restarted.SendVote(receiver.addr, testVote(sender.addr, 2))
	require.NoError(err)
	require.Equal(message.EnvelopeID(sender.addr, 2), receipt2.EnvelopeID)
}
