// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/voting"
)

func TestNewUnknownFormat(t *testing.T) {
	_, err := New("csv")
	require.ErrorContains(t, err, "unknown serializer")
}

func TestVotingRoundTrip(t *testing.T) {
	def := &voting.Voting{
		ID:       ids.GenerateTestID(),
		Name:     "annual general meeting",
		Type:     voting.TypeGeneralMeeting,
		Begin:    1_700_000_000_000,
		End:      1_700_003_600_000,
		Security: "ACME",
		Questions: []voting.Question{
			{
				ID:   1,
				Text: "approve the annual report",
				Answers: []voting.Answer{
					{ID: 1, Text: "yes"},
					{ID: 2, Text: "no"},
				},
			},
			{
				ID:   2,
				Text: "elect the board",
				Answers: []voting.Answer{
					{ID: 1, Text: "for"},
					{ID: 2, Text: "against"},
					{ID: 3, Text: "abstain"},
				},
			},
		},
	}

	for _, name := range []string{Compact, ISO20022} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			serde, err := New(name)
			require.NoError(err)

			b, err := serde.MarshalVoting(def)
			require.NoError(err)
			got, err := serde.UnmarshalVoting(b)
			require.NoError(err)

			require.Equal(def, got)
		})
	}
}

func TestVoteRoundTrip(t *testing.T) {
	rec := &voting.VoteRecord{
		VotingID:   ids.GenerateTestID(),
		QuestionID: 7,
		Voter:      ids.GenerateTestShortID(),
		Choice:     "yes",
		Timestamp:  1_700_000_123_456,
		EnvelopeID: ids.GenerateTestID(),
		Endorsements: []ids.ShortID{
			ids.GenerateTestShortID(),
			ids.GenerateTestShortID(),
		},
	}

	for _, name := range []string{Compact, ISO20022} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			serde, err := New(name)
			require.NoError(err)

			b, err := serde.MarshalVote(rec)
			require.NoError(err)
			got, err := serde.UnmarshalVote(b)
			require.NoError(err)

			require.Equal(rec, got)
			// The endorsement chain keeps its hop order.
			require.Equal(rec.Endorsements, got.Endorsements)
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	res := &voting.TallyResult{
		VotingID:   ids.GenerateTestID(),
		ComputedAt: 1_700_000_999_000,
		Tallies: []voting.QuestionTally{
			{
				QuestionID: 1,
				Counts: []voting.ChoiceCount{
					{Choice: "no", Count: 3},
					{Choice: "yes", Count: 5},
				},
			},
		},
	}

	for _, name := range []string{Compact, ISO20022} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			serde, err := New(name)
			require.NoError(err)

			b, err := serde.MarshalResult(res)
			require.NoError(err)
			got, err := serde.UnmarshalResult(b)
			require.NoError(err)

			require.Equal(res, got)
		})
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	for _, name := range []string{Compact, ISO20022} {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			serde, err := New(name)
			require.NoError(err)

			_, err = serde.UnmarshalVote([]byte("garbage"))
			require.ErrorIs(err, ErrMalformedMessage)
			_, err = serde.UnmarshalVoting([]byte("garbage"))
			require.ErrorIs(err, ErrMalformedMessage)
			_, err = serde.UnmarshalResult([]byte("garbage"))
			require.ErrorIs(err, ErrMalformedMessage)
		})
	}
}

// The formats are selected by configuration, never sniffed: a compact payload
// must not decode under the XML serializer and vice versa.
func TestFormatsAreNotInterchangeable(t *testing.T) {
	require := require.New(t)

	rec := &voting.VoteRecord{
		VotingID:  ids.GenerateTestID(),
		Voter:     ids.GenerateTestShortID(),
		Choice:    "yes",
		Timestamp: 1,
	}

	compact, err := New(Compact)
	require.NoError(err)
	iso, err := New(ISO20022)
	require.NoError(err)

	b, err := compact.MarshalVote(rec)
	require.NoError(err)
	_, err = iso.UnmarshalVote(b)
	require.ErrorIs(err, ErrMalformedMessage)

	b, err = iso.MarshalVote(rec)
	require.NoError(err)
	_, err = compact.UnmarshalVote(b)
	require.ErrorIs(err, ErrMalformedMessage)
}
