// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config collects the foundational parameters of a ballot node.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/connector"
	"github.com/luxfi/ballot/serializer"
	"github.com/luxfi/ballot/wallet"
)

// Role selects the node behavior.
type Role string

const (
	RoleClient    Role = "client"
	RoleRelay     Role = "relay"
	RoleOrganizer Role = "organizer"
)

type Config struct {
	Role Role `json:"role"`

	// Backend names the ledger transport, Serializer the wire format. Both
	// must match across the whole network.
	Backend    string `json:"backend"`
	Serializer string `json:"serializer"`

	// MockCrypto replaces signing with payload digests for protocol tests.
	MockCrypto bool `json:"mockCrypto"`

	// PrivateKey is this node's hex-encoded signing key.
	PrivateKey string `json:"privateKey"`

	// Upstream receives everything a client or relay sends up. Ignored by
	// the organizer.
	Upstream ids.ShortID `json:"upstream"`

	// Downstream lists the direct children of a relay or the organizer.
	Downstream []ids.ShortID `json:"downstream"`

	// PollInterval paces the inbound ledger poll, SweepInterval the
	// outbound confirmation sweep.
	PollInterval  time.Duration `json:"pollInterval"`
	SweepInterval time.Duration `json:"sweepInterval"`

	// ConfirmTimeout is how long a submission may stay unconfirmed before
	// resubmission; RetryCeiling caps resubmissions.
	ConfirmTimeout time.Duration `json:"confirmTimeout"`
	RetryCeiling   int           `json:"retryCeiling"`

	// ConfirmationLag is the simulated latency of the ledgerdb backend.
	ConfirmationLag time.Duration `json:"confirmationLag"`

	// SendPoolSize caps concurrent ledger submissions.
	SendPoolSize int `json:"sendPoolSize"`

	// TallyDelay is the grace period after a voting ends before the
	// organizer tallies; TallyInterval is how often deadlines are checked.
	TallyDelay    time.Duration `json:"tallyDelay"`
	TallyInterval time.Duration `json:"tallyInterval"`

	// AdjustVotingTime shifts loaded voting windows to start now, keeping
	// their duration. Used when replaying canned voting files.
	AdjustVotingTime bool `json:"adjustVotingTime"`

	RegistryPath string `json:"registryPath"`
	StatePath    string `json:"statePath"`
	DBPath       string `json:"dbPath"`
	VotingPath   string `json:"votingPath"`
	SchedulePath string `json:"schedulePath"`
	ResultPath   string `json:"resultPath"`
}

func DefaultConfig() Config {
	return Config{
		Role:            RoleClient,
		Backend:         wallet.BackendMock,
		Serializer:      serializer.Compact,
		PollInterval:    time.Second,
		SweepInterval:   time.Second,
		ConfirmTimeout:  180 * time.Second,
		RetryCeiling:    10,
		ConfirmationLag: 2 * time.Second,
		SendPoolSize:    20,
		TallyDelay:      60 * time.Second,
		TallyInterval:   time.Second,
		RegistryPath:    "registry.json",
		StatePath:       "state.json",
		DBPath:          "db",
	}
}

// Connector maps the delivery-related fields onto a connector configuration.
func (c *Config) Connector() connector.Config {
	return connector.Config{
		SweepInterval:  c.SweepInterval,
		ConfirmTimeout: c.ConfirmTimeout,
		RetryCeiling:   c.RetryCeiling,
		SendPoolSize:   c.SendPoolSize,
	}
}

func (c *Config) Validate() error {
	switch c.Role {
	case RoleClient, RoleRelay:
		if c.Upstream == ids.ShortEmpty {
			return fmt.Errorf("role %q requires an upstream address", c.Role)
		}
	case RoleOrganizer:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}

	switch c.Backend {
	case wallet.BackendMock, wallet.BackendLedgerDB:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.PrivateKey == "" {
		return errors.New("a private key is required")
	}
	if c.PollInterval <= 0 || c.SweepInterval <= 0 {
		return errors.New("poll and sweep intervals must be positive")
	}
	if c.SendPoolSize <= 0 {
		return errors.New("send pool size must be positive")
	}
	if c.RetryCeiling < 0 {
		return errors.New("retry ceiling must not be negative")
	}
	return nil
}
