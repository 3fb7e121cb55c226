// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestAdjustToKeepsDuration(t *testing.T) {
	require := require.New(t)

	def := &Voting{
		ID:    ids.GenerateTestID(),
		Begin: 1_000,
		End:   61_000,
	}

	adjusted := def.AdjustTo(500_000)
	require.Equal(int64(500_000), adjusted.Begin)
	require.Equal(int64(560_000), adjusted.End)

	// The original is untouched.
	require.Equal(int64(1_000), def.Begin)
	require.Equal(int64(61_000), def.End)
}

func TestIsOpenAt(t *testing.T) {
	require := require.New(t)

	def := &Voting{Begin: 100, End: 200}

	require.False(def.IsOpenAt(99))
	require.True(def.IsOpenAt(100))
	require.True(def.IsOpenAt(199))
	require.False(def.IsOpenAt(200))
}

func TestSupersedes(t *testing.T) {
	require := require.New(t)

	votingID := ids.GenerateTestID()
	voter := ids.GenerateTestShortID()
	rec := &VoteRecord{
		VotingID:   votingID,
		QuestionID: 1,
		Voter:      voter,
		Timestamp:  100,
	}

	require.True(rec.Supersedes(nil))

	older := &VoteRecord{VotingID: votingID, QuestionID: 1, Voter: voter, Timestamp: 99}
	require.True(rec.Supersedes(older))
	require.False(older.Supersedes(rec))

	// Equal timestamps: first writer keeps the slot.
	tied := &VoteRecord{VotingID: votingID, QuestionID: 1, Voter: voter, Timestamp: 100}
	require.False(rec.Supersedes(tied))
	require.False(tied.Supersedes(rec))

	// A different slot is never superseded.
	otherQuestion := &VoteRecord{VotingID: votingID, QuestionID: 2, Voter: voter, Timestamp: 1}
	require.False(rec.Supersedes(otherQuestion))
	otherVoter := &VoteRecord{VotingID: votingID, QuestionID: 1, Voter: ids.GenerateTestShortID(), Timestamp: 1}
	require.False(rec.Supersedes(otherVoter))
}

func TestTally(t *testing.T) {
	require := require.New(t)

	votingID := ids.GenerateTestID()
	records := []*VoteRecord{
		{VotingID: votingID, QuestionID: 2, Voter: ids.GenerateTestShortID(), Choice: "no"},
		{VotingID: votingID, QuestionID: 1, Voter: ids.GenerateTestShortID(), Choice: "yes"},
		{VotingID: votingID, QuestionID: 1, Voter: ids.GenerateTestShortID(), Choice: "yes"},
		{VotingID: votingID, QuestionID: 1, Voter: ids.GenerateTestShortID(), Choice: "abstain"},
		// A record for another voting never counts.
		{VotingID: ids.GenerateTestID(), QuestionID: 1, Voter: ids.GenerateTestShortID(), Choice: "yes"},
	}

	res := Tally(votingID, records, 12345)
	require.Equal(votingID, res.VotingID)
	require.Equal(int64(12345), res.ComputedAt)

	// Questions ascending, choices lexicographic.
	require.Len(res.Tallies, 2)
	require.Equal(uint32(1), res.Tallies[0].QuestionID)
	require.Equal(uint32(2), res.Tallies[1].QuestionID)
	require.Equal([]ChoiceCount{
		{Choice: "abstain", Count: 1},
		{Choice: "yes", Count: 2},
	}, res.Tallies[0].Counts)

	require.Equal(uint64(2), res.Count(1, "yes"))
	require.Equal(uint64(1), res.Count(2, "no"))
	require.Zero(res.Count(1, "no"))
	require.Zero(res.Count(3, "yes"))
}

func TestTallyEmpty(t *testing.T) {
	require := require.New(t)

	res := Tally(ids.GenerateTestID(), nil, 1)
	require.Empty(res.Tallies)
	require.Zero(res.Count(1, "yes"))
}
