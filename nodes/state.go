// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package nodes implements the three node roles of the vote network: clients
// cast and forward, relays aggregate a branch of the hierarchy, and the
// organizer runs votings and computes tallies. All roles persist their state
// on every mutation and refuse further work once persistence fails.
package nodes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// ErrPersistence marks a failed state save. A node that hits it latches the
// failure and rejects all further mutations, so no acknowledged work can be
// lost to a dead disk.
var ErrPersistence = errors.New("state persistence failed")

// Store reads and writes one node's state snapshot. Writes are atomic: a
// crash mid-save leaves the previous snapshot intact.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load decodes the snapshot into [v]. A missing file is a fresh start, not an
// error; the return reports whether a snapshot existed.
func (s *Store) Load(v any) (bool, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to parse state snapshot: %w", err)
	}
	return true, nil
}

// Save atomically replaces the snapshot with [v].
func (s *Store) Save(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Join(ErrPersistence, err)
	}
	if err := renameio.WriteFile(s.path, raw, 0o600); err != nil {
		return errors.Join(ErrPersistence, err)
	}
	return nil
}
