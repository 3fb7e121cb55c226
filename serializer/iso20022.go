// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serializer

import (
	"encoding/xml"
	"errors"

	"github.com/luxfi/ids"

	"github.com/luxfi/ballot/voting"
)

var _ Serializer = ISO20022Serializer{}

// ISO20022Serializer renders domain objects as ISO-20022-shaped XML documents:
// votings as meeting notifications, vote records as meeting instructions and
// tally results as meeting result disseminations. Only the fields the network
// needs are populated; the element naming follows the standard's message
// abbreviations so downstream regulatory tooling can ingest the documents.
type ISO20022Serializer struct{}

type isoMeetingNotification struct {
	XMLName  xml.Name        `xml:"MtgNtfctn"`
	MtgID    string          `xml:"MtgRef>MtgId"`
	Name     string          `xml:"MtgRef>Desc"`
	Type     string          `xml:"MtgRef>Tp"`
	Begin    int64           `xml:"MtgDtls>DtAndTm>FrDtTm"`
	End      int64           `xml:"MtgDtls>DtAndTm>ToDtTm"`
	Security string          `xml:"Scty>Id"`
	Agenda   []isoResolution `xml:"Rsltn"`
}

type isoResolution struct {
	ID      uint32      `xml:"IssrLabl"`
	Text    string      `xml:"Desc"`
	Choices []isoChoice `xml:"VoteOptn"`
}

type isoChoice struct {
	ID   uint32 `xml:"OptnNb"`
	Text string `xml:"Desc"`
}

type isoMeetingInstruction struct {
	XMLName    xml.Name `xml:"MtgInstr"`
	MtgID      string   `xml:"MtgRef>MtgId"`
	Resolution uint32   `xml:"VoteDtls>RsltnLabl"`
	Voter      string   `xml:"AcctDtls>AcctOwnr>Id"`
	Choice     string   `xml:"VoteDtls>VoteOptn"`
	Timestamp  int64    `xml:"VoteDtls>DtTm"`
	EnvelopeID string   `xml:"InstrId"`
	Chain      []string `xml:"Intrmy>Id"`
}

type isoMeetingResult struct {
	XMLName    xml.Name        `xml:"MtgRsltDssmntn"`
	MtgID      string          `xml:"MtgRef>MtgId"`
	ComputedAt int64           `xml:"DssmntnDtTm"`
	Tallies    []isoVoteResult `xml:"VoteRslt"`
}

type isoVoteResult struct {
	Resolution uint32         `xml:"RsltnLabl"`
	Counts     []isoVoteCount `xml:"VoteFigrs"`
}

type isoVoteCount struct {
	Choice string `xml:"VoteOptn"`
	Count  uint64 `xml:"NbOfVotes"`
}

func (ISO20022Serializer) MarshalVoting(def *voting.Voting) ([]byte, error) {
	doc := isoMeetingNotification{
		MtgID:    def.ID.String(),
		Name:     def.Name,
		Type:     string(def.Type),
		Begin:    def.Begin,
		End:      def.End,
		Security: def.Security,
	}
	for _, q := range def.Questions {
		res := isoResolution{ID: q.ID, Text: q.Text}
		for _, a := range q.Answers {
			res.Choices = append(res.Choices, isoChoice{ID: a.ID, Text: a.Text})
		}
		doc.Agenda = append(doc.Agenda, res)
	}
	return xml.Marshal(doc)
}

func (ISO20022Serializer) UnmarshalVoting(b []byte) (*voting.Voting, error) {
	doc := isoMeetingNotification{}
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	votingID, err := ids.FromString(doc.MtgID)
	if err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	def := &voting.Voting{
		ID:       votingID,
		Name:     doc.Name,
		Type:     voting.Type(doc.Type),
		Begin:    doc.Begin,
		End:      doc.End,
		Security: doc.Security,
	}
	for _, res := range doc.Agenda {
		q := voting.Question{ID: res.ID, Text: res.Text}
		for _, choice := range res.Choices {
			q.Answers = append(q.Answers, voting.Answer{ID: choice.ID, Text: choice.Text})
		}
		def.Questions = append(def.Questions, q)
	}
	return def, nil
}

func (ISO20022Serializer) MarshalVote(rec *voting.VoteRecord) ([]byte, error) {
	doc := isoMeetingInstruction{
		MtgID:      rec.VotingID.String(),
		Resolution: rec.QuestionID,
		Voter:      rec.Voter.String(),
		Choice:     rec.Choice,
		Timestamp:  rec.Timestamp,
		EnvelopeID: rec.EnvelopeID.String(),
	}
	for _, holder := range rec.Endorsements {
		doc.Chain = append(doc.Chain, holder.String())
	}
	return xml.Marshal(doc)
}

func (ISO20022Serializer) UnmarshalVote(b []byte) (*voting.VoteRecord, error) {
	doc := isoMeetingInstruction{}
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	votingID, err := ids.FromString(doc.MtgID)
	if err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	voter, err := ids.ShortFromString(doc.Voter)
	if err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	envelopeID, err := ids.FromString(doc.EnvelopeID)
	if err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	rec := &voting.VoteRecord{
		VotingID:   votingID,
		QuestionID: doc.Resolution,
		Voter:      voter,
		Choice:     doc.Choice,
		Timestamp:  doc.Timestamp,
		EnvelopeID: envelopeID,
	}
	for _, holder := range doc.Chain {
		addr, err := ids.ShortFromString(holder)
		if err != nil {
			return nil, errors.Join(ErrMalformedMessage, err)
		}
		rec.Endorsements = append(rec.Endorsements, addr)
	}
	return rec, nil
}

func (ISO20022Serializer) MarshalResult(res *voting.TallyResult) ([]byte, error) {
	doc := isoMeetingResult{
		MtgID:      res.VotingID.String(),
		ComputedAt: res.ComputedAt,
	}
	for _, tally := range res.Tallies {
		iso := isoVoteResult{Resolution: tally.QuestionID}
		for _, count := range tally.Counts {
			iso.Counts = append(iso.Counts, isoVoteCount{
				Choice: count.Choice,
				Count:  count.Count,
			})
		}
		doc.Tallies = append(doc.Tallies, iso)
	}
	return xml.Marshal(doc)
}

func (ISO20022Serializer) UnmarshalResult(b []byte) (*voting.TallyResult, error) {
	doc := isoMeetingResult{}
	if err := xml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	votingID, err := ids.FromString(doc.MtgID)
	if err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	res := &voting.TallyResult{
		VotingID:   votingID,
		ComputedAt: doc.ComputedAt,
	}
	for _, tally := range doc.Tallies {
		qt := voting.QuestionTally{QuestionID: tally.Resolution}
		for _, count := range tally.Counts {
			qt.Counts = append(qt.Counts, voting.ChoiceCount{
				Choice: count.Choice,
				Count:  count.Count,
			})
		}
		res.Tallies = append(res.Tallies, qt)
	}
	return res, nil
}
