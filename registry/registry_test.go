// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/ballot/crypto"
)

func TestFileRegistry(t *testing.T) {
	require := require.New(t)

	want := []Participant{
		{Address: ids.GenerateTestShortID(), Name: "organizer"},
		{Address: ids.GenerateTestShortID(), Name: "relay west"},
	}
	raw, err := json.Marshal(want)
	require.NoError(err)

	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(os.WriteFile(path, raw, 0o600))

	got, err := NewFileRegistry(path).Participants()
	require.NoError(err)
	require.Equal(want, got)
}

func TestFileRegistryMissingFile(t *testing.T) {
	_, err := NewFileRegistry(filepath.Join(t.TempDir(), "missing.json")).Participants()
	require.ErrorContains(t, err, "failed to read participant registry")
}

func TestFileRegistryMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileRegistry(path).Participants()
	require.ErrorContains(t, err, "failed to parse participant registry")
}

func TestBuildKeyTable(t *testing.T) {
	require := require.New(t)

	provider := crypto.NewProvider(false)
	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	verified := Participant{
		Address:   key.PublicKey().Address(),
		Name:      "holder",
		PublicKey: hex.EncodeToString(key.PublicKey().Bytes()),
	}
	unverifiable := Participant{
		Address: ids.GenerateTestShortID(),
		Name:    "observer",
	}
	broken := Participant{
		Address:   ids.GenerateTestShortID(),
		Name:      "corrupt",
		PublicKey: "not hex",
	}

	keys := BuildKeyTable(
		log.NewNoOpLogger(),
		provider,
		[]Participant{verified, unverifiable, broken},
	)

	// Only the parsable key makes the table; the others stay unverifiable.
	require.Len(keys, 1)
	require.Contains(keys, verified.Address)
	require.Equal(verified.Address, keys[verified.Address].Address())
}
