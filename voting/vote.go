// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"github.com/luxfi/ids"
)

// VoteRecord is one voter's choice on one question of one voting. At most one
// record per (voting, question, voter) is ever counted: a later record for the
// same triple supersedes the earlier one if and only if its sender-declared
// timestamp is newer.
type VoteRecord struct {
	VotingID   ids.ID      `serialize:"true" json:"votingID"`
	QuestionID uint32      `serialize:"true" json:"questionID"`
	Voter      ids.ShortID `serialize:"true" json:"voter"`
	Choice     string      `serialize:"true" json:"choice"`

	// Timestamp is the sender-declared creation time in unix milliseconds.
	// It is the authoritative ordering source for last-writer-wins; ledger
	// confirmation times are ignored for conflict resolution.
	Timestamp int64 `serialize:"true" json:"timestamp"`

	// EnvelopeID is the id of the envelope that first carried this record.
	// Retried submissions reuse it, which is what makes receiver-side
	// deduplication possible.
	EnvelopeID ids.ID `serialize:"true" json:"envelopeID"`

	// Endorsements lists the holders the record passed through on its way
	// up the hierarchy, in forwarding order. Advisory metadata only.
	Endorsements []ids.ShortID `serialize:"true" json:"endorsements"`
}

// Key identifies the (voting, question, voter) slot this record occupies.
func (r *VoteRecord) Key() VoteKey {
	return VoteKey{
		VotingID:   r.VotingID,
		QuestionID: r.QuestionID,
		Voter:      r.Voter,
	}
}

// Supersedes reports whether this record replaces [other] under
// last-writer-wins. Records for different slots never supersede each other.
func (r *VoteRecord) Supersedes(other *VoteRecord) bool {
	if other == nil {
		return true
	}
	if r.Key() != other.Key() {
		return false
	}
	return r.Timestamp > other.Timestamp
}

// VoteKey is the comparable identity of a vote slot.
type VoteKey struct {
	VotingID   ids.ID
	QuestionID uint32
	Voter      ids.ShortID
}
