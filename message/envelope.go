// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package message defines the signed, addressed envelope that carries every
// domain message across the ledger, and the consumer contract the node roles
// implement to receive them.
package message

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// Kind tags the domain payload carried by an envelope so the receiver knows
// which deserializer to apply. The tag is part of the signed bytes.
type Kind uint32

const (
	KindVote Kind = iota + 1
	KindVoting
	KindResult
)

func (k Kind) String() string {
	switch k {
	case KindVote:
		return "vote"
	case KindVoting:
		return "voting"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope wraps a serialized domain message for ledger transport.
//
// The id is globally unique per sender: it is derived from the sender address
// and a per-sender sequence number assigned in increasing order of submission.
// A retried submission reuses the envelope unchanged, so receivers can
// deduplicate on the id no matter how often the ledger redelivers.
type Envelope struct {
	Sender    ids.ShortID `serialize:"true" json:"sender"`
	Recipient ids.ShortID `serialize:"true" json:"recipient"`
	ID        ids.ID      `serialize:"true" json:"id"`
	Seq       uint64      `serialize:"true" json:"seq"`
	Kind      Kind        `serialize:"true" json:"kind"`
	Timestamp int64       `serialize:"true" json:"timestamp"` // sender-declared, unix milliseconds
	Payload   []byte      `serialize:"true" json:"payload"`
	Signature []byte      `serialize:"true" json:"signature"`
}

// NewEnvelope builds an unsigned envelope. [seq] must be monotone per sender.
func NewEnvelope(
	sender ids.ShortID,
	recipient ids.ShortID,
	seq uint64,
	kind Kind,
	timestamp int64,
	payload []byte,
) *Envelope {
	return &Envelope{
		Sender:    sender,
		Recipient: recipient,
		ID:        EnvelopeID(sender, seq),
		Seq:       seq,
		Kind:      kind,
		Timestamp: timestamp,
		Payload:   payload,
	}
}

// EnvelopeID derives the unique envelope id for [sender]'s [seq]'th message.
func EnvelopeID(sender ids.ShortID, seq uint64) ids.ID {
	preimage := make([]byte, ids.ShortIDLen+8)
	copy(preimage, sender[:])
	binary.BigEndian.PutUint64(preimage[ids.ShortIDLen:], seq)
	return hash.ComputeHash256Array(preimage)
}

// SigningBytes returns the canonical byte form covered by the signature:
// the envelope serialized with an empty signature field.
func (e *Envelope) SigningBytes() ([]byte, error) {
	unsigned := *e
	unsigned.Signature = nil
	return c.Marshal(codecVersion, &unsigned)
}

// Bytes returns the full wire form of the envelope.
func (e *Envelope) Bytes() ([]byte, error) {
	return c.Marshal(codecVersion, e)
}

// Parse decodes an envelope from its wire form.
func Parse(b []byte) (*Envelope, error) {
	env := &Envelope{}
	if _, err := c.Unmarshal(b, env); err != nil {
		return nil, errors.Join(ErrMalformedEnvelope, err)
	}
	return env, nil
}
