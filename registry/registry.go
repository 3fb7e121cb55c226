// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry provides the participant registry: the closed, known set
// of network members and their public keys. The registry is loaded once at
// startup and treated as a read-only snapshot for the process lifetime.
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ballot/crypto"
)

// Participant is one known network member. A participant without a public
// key is still addressable but its messages can never be verified, so they
// are dropped on receipt.
type Participant struct {
	Address   ids.ShortID `json:"address"`
	Name      string      `json:"name"`
	PublicKey string      `json:"publicKey"` // hex, empty means unverifiable
}

// Registry yields the participant snapshot.
type Registry interface {
	Participants() ([]Participant, error)
}

var _ Registry = (*FileRegistry)(nil)

// FileRegistry reads participants from a JSON file.
type FileRegistry struct {
	path string
}

func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

func (r *FileRegistry) Participants() ([]Participant, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read participant registry: %w", err)
	}
	var participants []Participant
	if err := json.Unmarshal(raw, &participants); err != nil {
		return nil, fmt.Errorf("failed to parse participant registry: %w", err)
	}
	return participants, nil
}

// Static wraps an in-memory participant list; used by tests and simulations.
type Static []Participant

func (s Static) Participants() ([]Participant, error) {
	return s, nil
}

// BuildKeyTable parses every participant's public key with [provider].
// A key that fails to parse is fatal for that participant only: the failure
// is logged and the participant is left out of the table, which makes its
// messages unverifiable.
func BuildKeyTable(
	logger log.Logger,
	provider crypto.Provider,
	participants []Participant,
) map[ids.ShortID]*secp256k1.PublicKey {
	keys := make(map[ids.ShortID]*secp256k1.PublicKey, len(participants))
	for _, participant := range participants {
		if participant.PublicKey == "" {
			continue
		}
		key, err := provider.LoadPublicKey(participant.PublicKey)
		if err != nil {
			logger.Error("failed to load participant public key",
				log.Stringer("participant", participant.Address),
				log.Err(err),
			)
			continue
		}
		keys[participant.Address] = key
	}
	return keys
}
