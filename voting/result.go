// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package voting

import (
	"sort"

	"github.com/luxfi/ids"
)

// ChoiceCount is the number of accepted votes for one choice.
type ChoiceCount struct {
	Choice string `serialize:"true" json:"choice"`
	Count  uint64 `serialize:"true" json:"count"`
}

// QuestionTally aggregates the accepted votes of one question.
type QuestionTally struct {
	QuestionID uint32        `serialize:"true" json:"questionID"`
	Counts     []ChoiceCount `serialize:"true" json:"counts"`
}

// TallyResult is the final aggregation of a voting. It is computed at most
// once and immutable thereafter.
type TallyResult struct {
	VotingID   ids.ID          `serialize:"true" json:"votingID"`
	Tallies    []QuestionTally `serialize:"true" json:"tallies"`
	ComputedAt int64           `serialize:"true" json:"computedAt"` // unix milliseconds
}

// Tally aggregates [records] into a TallyResult for [votingID]. The caller is
// expected to have already applied last-writer-wins; every record passed in
// counts. Output ordering is deterministic: questions ascending, choices
// lexicographic.
func Tally(votingID ids.ID, records []*VoteRecord, computedAt int64) *TallyResult {
	perQuestion := make(map[uint32]map[string]uint64)
	for _, rec := range records {
		if rec.VotingID != votingID {
			continue
		}
		counts, ok := perQuestion[rec.QuestionID]
		if !ok {
			counts = make(map[string]uint64)
			perQuestion[rec.QuestionID] = counts
		}
		counts[rec.Choice]++
	}

	result := &TallyResult{
		VotingID:   votingID,
		ComputedAt: computedAt,
	}
	for questionID, counts := range perQuestion {
		tally := QuestionTally{QuestionID: questionID}
		for choice, count := range counts {
			tally.Counts = append(tally.Counts, ChoiceCount{
				Choice: choice,
				Count:  count,
			})
		}
		sort.Slice(tally.Counts, func(i, j int) bool {
			return tally.Counts[i].Choice < tally.Counts[j].Choice
		})
		result.Tallies = append(result.Tallies, tally)
	}
	sort.Slice(result.Tallies, func(i, j int) bool {
		return result.Tallies[i].QuestionID < result.Tallies[j].QuestionID
	})
	return result
}

// Count returns the accepted count for (questionID, choice), or 0.
func (r *TallyResult) Count(questionID uint32, choice string) uint64 {
	for _, tally := range r.Tallies {
		if tally.QuestionID != questionID {
			continue
		}
		for _, c := range tally.Counts {
			if c.Choice == choice {
				return c.Count
			}
		}
	}
	return 0
}
