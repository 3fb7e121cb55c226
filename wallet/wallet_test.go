// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/utils/timer/mockable"
)

func TestMockWalletDeliversToRecipient(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	hub := NewHub(clock)

	alice := ids.GenerateTestShortID()
	bob := ids.GenerateTestShortID()
	aliceWallet := hub.NewWallet(alice)
	bobWallet := hub.NewWallet(bob)

	id, err := aliceWallet.Submit(context.Background(), bob, []byte("hello"))
	require.NoError(err)
	require.NotEqual(ids.Empty, id)

	// Not addressed to alice, so her stream stays empty.
	deliveries, checkpoint, err := aliceWallet.FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Empty(deliveries)
	require.Equal(Checkpoint(0), checkpoint)

	deliveries, checkpoint, err = bobWallet.FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Len(deliveries, 1)
	require.Equal([]byte("hello"), deliveries[0].Payload)
	require.Equal(alice, deliveries[0].Sender)

	// Advancing the checkpoint must not redeliver.
	deliveries, _, err = bobWallet.FetchNew(context.Background(), checkpoint)
	require.NoError(err)
	require.Empty(deliveries)
}

func TestMockWalletConfirmation(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	hub := NewHub(clock)

	alice := ids.GenerateTestShortID()
	w := hub.NewWallet(alice)
	w.ConfirmAfterChecks = 2

	id, err := w.Submit(context.Background(), ids.GenerateTestShortID(), []byte("x"))
	require.NoError(err)

	for i := 0; i < 2; i++ {
		confirmed, err := w.IsConfirmed(context.Background(), id)
		require.NoError(err)
		require.False(confirmed)
	}
	confirmed, err := w.IsConfirmed(context.Background(), id)
	require.NoError(err)
	require.True(confirmed)

	// An id this wallet never issued is simply unconfirmed.
	confirmed, err = w.IsConfirmed(context.Background(), ids.GenerateTestID())
	require.NoError(err)
	require.False(confirmed)
}

func TestMockWalletSubmitFailure(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	w := NewHub(clock).NewWallet(ids.GenerateTestShortID())
	w.FailNextSubmits = 1

	_, err := w.Submit(context.Background(), ids.GenerateTestShortID(), []byte("x"))
	require.ErrorIs(err, ErrTransport)

	_, err = w.Submit(context.Background(), ids.GenerateTestShortID(), []byte("x"))
	require.NoError(err)
}

func TestMockWalletStopped(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	w := NewHub(clock).NewWallet(ids.GenerateTestShortID())
	require.NoError(w.Stop())
	require.NoError(w.Stop())

	_, err := w.Submit(context.Background(), ids.GenerateTestShortID(), nil)
	require.ErrorIs(err, ErrStopped)
	_, _, err = w.FetchNew(context.Background(), 0)
	require.ErrorIs(err, ErrStopped)
	_, err = w.IsConfirmed(context.Background(), ids.GenerateTestID())
	require.ErrorIs(err, ErrStopped)
}

func TestLedgerConfirmationLag(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	ledger, err := NewLedger(memdb.New(), clock, 5*time.Second)
	require.NoError(err)
	defer func() {
		require.NoError(ledger.Close())
	}()

	alice := ids.GenerateTestShortID()
	bob := ids.GenerateTestShortID()
	aliceWallet := ledger.NewWallet(alice)
	bobWallet := ledger.NewWallet(bob)

	id, err := aliceWallet.Submit(context.Background(), bob, []byte("hello"))
	require.NoError(err)

	confirmed, err := aliceWallet.IsConfirmed(context.Background(), id)
	require.NoError(err)
	require.False(confirmed)

	// Unconfirmed entries are invisible to the recipient and the checkpoint
	// holds so the entry is retried on the next poll.
	deliveries, checkpoint, err := bobWallet.FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Empty(deliveries)
	require.Equal(Checkpoint(0), checkpoint)

	clock.Set(time.Unix(1005, 0))

	confirmed, err = aliceWallet.IsConfirmed(context.Background(), id)
	require.NoError(err)
	require.True(confirmed)

	deliveries, checkpoint, err = bobWallet.FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Len(deliveries, 1)
	require.Equal([]byte("hello"), deliveries[0].Payload)
	require.Equal(alice, deliveries[0].Sender)
	require.Equal(Checkpoint(1), checkpoint)

	deliveries, _, err = bobWallet.FetchNew(context.Background(), checkpoint)
	require.NoError(err)
	require.Empty(deliveries)
}

func TestLedgerReopenKeepsHead(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	db := memdb.New()

	ledger, err := NewLedger(db, clock, 0)
	require.NoError(err)

	alice := ids.GenerateTestShortID()
	bob := ids.GenerateTestShortID()
	w := ledger.NewWallet(alice)
	firstID, err := w.Submit(context.Background(), bob, []byte("one"))
	require.NoError(err)

	// Reopen on the same database; the log index must continue, not restart.
	reopened, err := NewLedger(db, clock, 0)
	require.NoError(err)

	secondID, err := reopened.NewWallet(alice).Submit(context.Background(), bob, []byte("two"))
	require.NoError(err)
	require.NotEqual(firstID, secondID)

	deliveries, checkpoint, err := reopened.NewWallet(bob).FetchNew(context.Background(), 0)
	require.NoError(err)
	require.Len(deliveries, 2)
	require.Equal([]byte("one"), deliveries[0].Payload)
	require.Equal([]byte("two"), deliveries[1].Payload)
	require.Equal(Checkpoint(2), checkpoint)
}

func TestLedgerWalletStopLeavesLedgerOpen(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	ledger, err := NewLedger(memdb.New(), clock, 0)
	require.NoError(err)

	alice := ledger.NewWallet(ids.GenerateTestShortID())
	bob := ledger.NewWallet(ids.GenerateTestShortID())

	require.NoError(alice.Stop())
	_, err = alice.Submit(context.Background(), ids.GenerateTestShortID(), nil)
	require.ErrorIs(err, ErrStopped)

	// Other wallets on the same ledger keep working.
	_, err = bob.Submit(context.Background(), ids.GenerateTestShortID(), []byte("x"))
	require.NoError(err)

	require.NoError(ledger.Close())
	_, err = bob.Submit(context.Background(), ids.GenerateTestShortID(), []byte("x"))
	require.ErrorIs(err, ErrStopped)
}
