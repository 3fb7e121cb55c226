// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"github.com/luxfi/ids"
)

// Type describes the flavor of a voting (general meeting, board poll, ...).
// It is carried verbatim on the wire and never interpreted by the engine.
type Type string

const (
	TypeGeneralMeeting Type = "GMET"
	TypeBoardPoll      Type = "BPOL"
)

// Answer is one selectable option of a question.
type Answer struct {
	ID   uint32 `serialize:"true" json:"id"`
	Text string `serialize:"true" json:"text"`
}

// Question is a single item on a voting agenda. Question order is significant
// and preserved by every codec.
type Question struct {
	ID      uint32   `serialize:"true" json:"id"`
	Text    string   `serialize:"true" json:"text"`
	Answers []Answer `serialize:"true" json:"answers"`
}

// Voting is a ballot definition created by an organizer. It is immutable once
// the voting window opens; the only rewrite allowed is the one-shot time
// adjustment applied at load via [Voting.AdjustTo].
type Voting struct {
	ID        ids.ID     `serialize:"true" json:"id"`
	Name      string     `serialize:"true" json:"name"`
	Type      Type       `serialize:"true" json:"type"`
	Begin     int64      `serialize:"true" json:"begin"` // unix milliseconds
	End       int64      `serialize:"true" json:"end"`   // unix milliseconds
	Security  string     `serialize:"true" json:"security"`
	Questions []Question `serialize:"true" json:"questions"`
}

// AdjustTo returns a copy of the voting whose window starts at [now] and
// keeps the original duration. Used when a pre-produced voting file is loaded
// with schedule shifting enabled.
func (v *Voting) AdjustTo(now int64) *Voting {
	adjusted := *v
	adjusted.Begin = now
	adjusted.End = now + (v.End - v.Begin)
	return &adjusted
}

// IsOpenAt reports whether [t] falls inside the voting window.
func (v *Voting) IsOpenAt(t int64) bool {
	return t >= v.Begin && t < v.End
}
