// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package serializer converts domain objects to and from their wire
// representation. Formats are interchangeable and selected once at startup by
// configuration name, never by payload inspection: the connector is handed a
// Serializer and stays format-agnostic.
package serializer

import (
	"errors"
	"fmt"

	"github.com/luxfi/ballot/voting"
)

const (
	// Compact is the linear-codec binary format used inside the network.
	Compact = "compact"
	// ISO20022 is the standards-based financial-messaging XML format used
	// when talking to regulatory consumers.
	ISO20022 = "iso20022"
)

// ErrMalformedMessage is returned when a payload cannot be decoded. Malformed
// payloads are dropped and logged by the receiver; they are never fatal.
var ErrMalformedMessage = errors.New("malformed message")

// Serializer is the codec contract shared by every format.
type Serializer interface {
	MarshalVoting(*voting.Voting) ([]byte, error)
	UnmarshalVoting([]byte) (*voting.Voting, error)

	MarshalVote(*voting.VoteRecord) ([]byte, error)
	UnmarshalVote([]byte) (*voting.VoteRecord, error)

	MarshalResult(*voting.TallyResult) ([]byte, error)
	UnmarshalResult([]byte) (*voting.TallyResult, error)
}

// New returns the serializer registered under [name].
func New(name string) (Serializer, error) {
	switch name {
	case Compact:
		return CompactSerializer{}, nil
	case ISO20022:
		return ISO20022Serializer{}, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}
