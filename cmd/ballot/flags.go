// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/config"
)

const (
	RoleKey             = "role"
	BackendKey          = "backend"
	SerializerKey       = "serializer"
	MockCryptoKey       = "mock-crypto"
	PrivateKeyKey       = "private-key"
	UpstreamKey         = "upstream"
	DownstreamKey       = "downstream"
	PollIntervalKey     = "poll-interval"
	SweepIntervalKey    = "sweep-interval"
	ConfirmTimeoutKey   = "confirm-timeout"
	RetryCeilingKey     = "retry-ceiling"
	ConfirmationLagKey  = "confirmation-lag"
	SendPoolSizeKey     = "send-pool-size"
	TallyDelayKey       = "tally-delay"
	TallyIntervalKey    = "tally-interval"
	AdjustVotingTimeKey = "adjust-voting-time"
	RegistryKey         = "registry"
	StateKey            = "state"
	DBKey               = "db-dir"
	VotingsKey          = "votings"
	ScheduleKey         = "schedule"
	ResultsKey          = "results"
)

func AddFlags(flags *pflag.FlagSet) {
	defaults := config.DefaultConfig()

	flags.String(RoleKey, string(defaults.Role), "Node role: client, relay or organizer")
	flags.String(BackendKey, defaults.Backend, "Ledger backend: mock or ledgerdb")
	flags.String(SerializerKey, defaults.Serializer, "Wire format: compact or iso20022")
	flags.Bool(MockCryptoKey, false, "Replace signing with payload digests (protocol tests only)")
	flags.String(PrivateKeyKey, "", "Hex-encoded signing key of this node (required)")
	flags.String(UpstreamKey, "", "Upstream node address (required for client and relay)")
	flags.StringSlice(DownstreamKey, nil, "Direct child addresses (relay and organizer)")
	flags.Duration(PollIntervalKey, defaults.PollInterval, "Inbound ledger poll interval")
	flags.Duration(SweepIntervalKey, defaults.SweepInterval, "Outbound confirmation sweep interval")
	flags.Duration(ConfirmTimeoutKey, defaults.ConfirmTimeout, "Unconfirmed submission age before resubmission")
	flags.Int(RetryCeilingKey, defaults.RetryCeiling, "Resubmissions per envelope before abandoning")
	flags.Duration(ConfirmationLagKey, defaults.ConfirmationLag, "Simulated confirmation latency of the ledgerdb backend")
	flags.Int(SendPoolSizeKey, defaults.SendPoolSize, "Concurrent ledger submissions")
	flags.Duration(TallyDelayKey, defaults.TallyDelay, "Grace period after a voting ends before the tally")
	flags.Duration(TallyIntervalKey, defaults.TallyInterval, "Tally deadline check interval")
	flags.Bool(AdjustVotingTimeKey, false, "Shift loaded voting windows to start now")
	flags.String(RegistryKey, defaults.RegistryPath, "Participant registry file")
	flags.String(StateKey, defaults.StatePath, "Node state snapshot file")
	flags.String(DBKey, defaults.DBPath, "Database directory (ledgerdb backend and organizer audit log)")
	flags.String(VotingsKey, "", "Voting definitions to open at startup (organizer)")
	flags.String(ScheduleKey, "", "Client availability schedule file (organizer)")
	flags.String(ResultsKey, "", "Append computed or received results to this file")
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*config.Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()

	role, err := flags.GetString(RoleKey)
	if err != nil {
		return nil, err
	}
	cfg.Role = config.Role(role)

	if cfg.Backend, err = flags.GetString(BackendKey); err != nil {
		return nil, err
	}
	if cfg.Serializer, err = flags.GetString(SerializerKey); err != nil {
		return nil, err
	}
	if cfg.MockCrypto, err = flags.GetBool(MockCryptoKey); err != nil {
		return nil, err
	}
	if cfg.PrivateKey, err = flags.GetString(PrivateKeyKey); err != nil {
		return nil, err
	}

	upstream, err := flags.GetString(UpstreamKey)
	if err != nil {
		return nil, err
	}
	if upstream != "" {
		if cfg.Upstream, err = ids.ShortFromString(upstream); err != nil {
			return nil, fmt.Errorf("invalid upstream address: %w", err)
		}
	}

	downstream, err := flags.GetStringSlice(DownstreamKey)
	if err != nil {
		return nil, err
	}
	for _, child := range downstream {
		addr, err := ids.ShortFromString(child)
		if err != nil {
			return nil, fmt.Errorf("invalid downstream address %q: %w", child, err)
		}
		cfg.Downstream = append(cfg.Downstream, addr)
	}

	if cfg.PollInterval, err = flags.GetDuration(PollIntervalKey); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = flags.GetDuration(SweepIntervalKey); err != nil {
		return nil, err
	}
	if cfg.ConfirmTimeout, err = flags.GetDuration(ConfirmTimeoutKey); err != nil {
		return nil, err
	}
	if cfg.RetryCeiling, err = flags.GetInt(RetryCeilingKey); err != nil {
		return nil, err
	}
	if cfg.ConfirmationLag, err = flags.GetDuration(ConfirmationLagKey); err != nil {
		return nil, err
	}
	if cfg.SendPoolSize, err = flags.GetInt(SendPoolSizeKey); err != nil {
		return nil, err
	}
	if cfg.TallyDelay, err = flags.GetDuration(TallyDelayKey); err != nil {
		return nil, err
	}
	if cfg.TallyInterval, err = flags.GetDuration(TallyIntervalKey); err != nil {
		return nil, err
	}
	if cfg.AdjustVotingTime, err = flags.GetBool(AdjustVotingTimeKey); err != nil {
		return nil, err
	}
	if cfg.RegistryPath, err = flags.GetString(RegistryKey); err != nil {
		return nil, err
	}
	if cfg.StatePath, err = flags.GetString(StateKey); err != nil {
		return nil, err
	}
	if cfg.DBPath, err = flags.GetString(DBKey); err != nil {
		return nil, err
	}
	if cfg.VotingPath, err = flags.GetString(VotingsKey); err != nil {
		return nil, err
	}
	if cfg.SchedulePath, err = flags.GetString(ScheduleKey); err != nil {
		return nil, err
	}
	if cfg.ResultPath, err = flags.GetString(ResultsKey); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
