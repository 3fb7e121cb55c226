// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/ballot/config"
	"github.com/luxfi/ballot/connector"
	"github.com/luxfi/ballot/crypto"
	"github.com/luxfi/ballot/nodes"
	"github.com/luxfi/ballot/registry"
	"github.com/luxfi/ballot/serializer"
	"github.com/luxfi/ballot/utils/timer/mockable"
	"github.com/luxfi/ballot/voting"
	"github.com/luxfi/ballot/wallet"
)

func runFunc(c *cobra.Command, args []string) error {
	cfg, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	return run(c.Context(), cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.NewLogger("ballot")
	clock := &mockable.Clock{}
	provider := crypto.NewProvider(cfg.MockCrypto)

	key, err := provider.LoadPrivateKey(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load node key: %w", err)
	}
	self := key.PublicKey().Address()

	participants, err := registry.NewFileRegistry(cfg.RegistryPath).Participants()
	if err != nil {
		return err
	}
	keyTable := registry.BuildKeyTable(logger, provider, participants)

	serde, err := serializer.New(cfg.Serializer)
	if err != nil {
		return err
	}

	// The ledgerdb backend and the organizer's audit log share one database.
	var db database.Database
	switch {
	case cfg.Backend == wallet.BackendLedgerDB:
		db, err = badgerdb.New(cfg.DBPath, nil, "", nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	case cfg.Role == config.RoleOrganizer:
		db, err = badgerdb.New(cfg.DBPath, nil, "", nil)
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
	}

	var w wallet.Wallet
	switch cfg.Backend {
	case wallet.BackendMock:
		w = wallet.NewHub(clock).NewWallet(self)
	case wallet.BackendLedgerDB:
		ledger, err := wallet.NewLedger(db, clock, cfg.ConfirmationLag)
		if err != nil {
			return err
		}
		defer func() {
			_ = ledger.Close()
		}()
		w = ledger.NewWallet(self)
	}
	if cfg.Backend != wallet.BackendLedgerDB && db != nil {
		defer func() {
			_ = db.Close()
		}()
	}

	store := nodes.NewStore(cfg.StatePath)
	registerer := metric.NewRegistry()

	logger.Info("starting ballot node",
		log.String("role", string(cfg.Role)),
		log.Stringer("address", self),
		log.String("backend", cfg.Backend),
		log.String("serializer", cfg.Serializer),
		log.Bool("mockCrypto", cfg.MockCrypto),
		log.Int("participants", len(participants)),
	)

	switch cfg.Role {
	case config.RoleClient:
		return runClient(ctx, cfg, logger, clock, w, serde, provider, key, keyTable, store, registerer)
	case config.RoleRelay:
		return runRelay(ctx, cfg, logger, clock, w, serde, provider, key, keyTable, store, registerer)
	case config.RoleOrganizer:
		return runOrganizer(ctx, cfg, logger, clock, w, serde, provider, key, keyTable, store, registerer, db)
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
}

func runClient(
	ctx context.Context,
	cfg *config.Config,
	logger log.Logger,
	clock *mockable.Clock,
	w wallet.Wallet,
	serde serializer.Serializer,
	provider crypto.Provider,
	key *secp256k1.PrivateKey,
	keyTable map[ids.ShortID]*secp256k1.PublicKey,
	store *nodes.Store,
	registerer metric.Registerer,
) error {
	restored, found, err := nodes.LoadClientState(store)
	if err != nil {
		return err
	}
	if !found {
		restored = nil
	}

	var seq uint64
	var checkpoint wallet.Checkpoint
	if restored != nil {
		seq = restored.Seq
		checkpoint = restored.Checkpoint
	}

	conn, err := connector.New(connector.Params{
		Log:        logger,
		Clock:      clock,
		Config:     cfg.Connector(),
		Wallet:     w,
		Serializer: serde,
		Provider:   provider,
		Key:        key,
		Keys:       keyTable,
		InitialSeq: seq,
		Registerer: registerer,
	})
	if err != nil {
		return err
	}

	client := nodes.NewClient(nodes.ClientParams{
		Log:      logger,
		Clock:    clock,
		Conn:     conn,
		Store:    store,
		Upstream: cfg.Upstream,
		Restored: restored,
	})
	conn.AddConsumer(client)

	poller := connector.NewInboundPoller(logger, w, conn, cfg.PollInterval, checkpoint)

	if err := conn.Start(); err != nil {
		return err
	}
	client.Resume()
	if err := poller.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	err = poller.Stop()
	client.RecordProgress(poller.Checkpoint())
	stopErr := conn.Stop()
	if err != nil {
		return err
	}
	return stopErr
}

func runRelay(
	ctx context.Context,
	cfg *config.Config,
	logger log.Logger,
	clock *mockable.Clock,
	w wallet.Wallet,
	serde serializer.Serializer,
	provider crypto.Provider,
	key *secp256k1.PrivateKey,
	keyTable map[ids.ShortID]*secp256k1.PublicKey,
	store *nodes.Store,
	registerer metric.Registerer,
) error {
	restored, found, err := nodes.LoadRelayState(store)
	if err != nil {
		return err
	}
	if !found {
		restored = nil
	}

	var seq uint64
	var checkpoint wallet.Checkpoint
	if restored != nil {
		seq = restored.Seq
		checkpoint = restored.Checkpoint
	}

	conn, err := connector.New(connector.Params{
		Log:        logger,
		Clock:      clock,
		Config:     cfg.Connector(),
		Wallet:     w,
		Serializer: serde,
		Provider:   provider,
		Key:        key,
		Keys:       keyTable,
		InitialSeq: seq,
		Registerer: registerer,
	})
	if err != nil {
		return err
	}

	relay := nodes.NewRelay(nodes.RelayParams{
		Log:        logger,
		Conn:       conn,
		Store:      store,
		Upstream:   cfg.Upstream,
		Downstream: cfg.Downstream,
		Restored:   restored,
	})
	conn.AddConsumer(relay)

	poller := connector.NewInboundPoller(logger, w, conn, cfg.PollInterval, checkpoint)

	if err := conn.Start(); err != nil {
		return err
	}
	relay.Resume()
	if err := poller.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	err = poller.Stop()
	relay.RecordProgress(poller.Checkpoint())
	stopErr := conn.Stop()
	if err != nil {
		return err
	}
	return stopErr
}

func runOrganizer(
	ctx context.Context,
	cfg *config.Config,
	logger log.Logger,
	clock *mockable.Clock,
	w wallet.Wallet,
	serde serializer.Serializer,
	provider crypto.Provider,
	key *secp256k1.PrivateKey,
	keyTable map[ids.ShortID]*secp256k1.PublicKey,
	store *nodes.Store,
	registerer metric.Registerer,
	db database.Database,
) error {
	restored, found, err := nodes.LoadOrganizerState(store)
	if err != nil {
		return err
	}
	if !found {
		restored = nil
	}

	var seq uint64
	var checkpoint wallet.Checkpoint
	if restored != nil {
		seq = restored.Seq
		checkpoint = restored.Checkpoint
	}

	conn, err := connector.New(connector.Params{
		Log:        logger,
		Clock:      clock,
		Config:     cfg.Connector(),
		Wallet:     w,
		Serializer: serde,
		Provider:   provider,
		Key:        key,
		Keys:       keyTable,
		InitialSeq: seq,
		Registerer: registerer,
	})
	if err != nil {
		return err
	}

	schedule, err := loadSchedule(cfg.SchedulePath)
	if err != nil {
		return err
	}

	var sink nodes.ResultSink
	if cfg.ResultPath != "" {
		sink = nodes.NewFileResultSink(cfg.ResultPath)
	}
	if db == nil {
		db = memdb.New()
	}

	org := nodes.NewOrganizer(nodes.OrganizerParams{
		Log:           logger,
		Clock:         clock,
		Conn:          conn,
		Store:         store,
		Downstream:    cfg.Downstream,
		Schedule:      schedule,
		TallyDelay:    cfg.TallyDelay,
		TallyInterval: cfg.TallyInterval,
		AuditDB:       db,
		Sink:          sink,
		Restored:      restored,
	})
	conn.AddConsumer(org)

	poller := connector.NewInboundPoller(logger, w, conn, cfg.PollInterval, checkpoint)

	if err := conn.Start(); err != nil {
		return err
	}
	if err := org.Start(); err != nil {
		return err
	}
	if err := poller.Start(); err != nil {
		return err
	}

	votings, err := loadVotings(cfg.VotingPath, cfg.AdjustVotingTime, clock)
	if err != nil {
		return err
	}
	for _, def := range votings {
		err := org.OpenVoting(def)
		switch {
		case err == nil:
		case errors.Is(err, nodes.ErrVotingExists):
			// Already restored from the snapshot.
		default:
			logger.Error("failed to open voting",
				log.Stringer("votingID", def.ID),
				log.Err(err),
			)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	err = poller.Stop()
	org.RecordProgress(poller.Checkpoint())
	orgErr := org.Stop()
	stopErr := conn.Stop()
	if err != nil {
		return err
	}
	if orgErr != nil {
		return orgErr
	}
	return stopErr
}

// loadVotings reads voting definitions from a JSON file. With [adjust] set,
// every window is shifted to start now while keeping its duration.
func loadVotings(path string, adjust bool, clock *mockable.Clock) ([]*voting.Voting, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voting definitions: %w", err)
	}
	var defs []*voting.Voting
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse voting definitions: %w", err)
	}
	if adjust {
		now := clock.UnixMilli()
		for i, def := range defs {
			defs[i] = def.AdjustTo(now)
		}
	}
	return defs, nil
}

func loadSchedule(path string) (*nodes.Schedule, error) {
	if path == "" {
		return nodes.NewSchedule(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}
	var entries []nodes.ScheduleEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}
	return nodes.NewSchedule(entries), nil
}
