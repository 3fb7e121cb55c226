// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serializer

import (
	"errors"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
	"github.com/luxfi/constants"

	"github.com/luxfi/ballot/utils"
	"github.com/luxfi/ballot/voting"
)

const (
	codecVersion   = 0
	maxPayloadSize = 256 * constants.KiB
)

var c codec.Manager

func init() {
	c = codec.NewManager(maxPayloadSize)
	lc := linearcodec.NewDefault()

	err := utils.Err(
		lc.RegisterType(&voting.Voting{}),
		lc.RegisterType(&voting.VoteRecord{}),
		lc.RegisterType(&voting.TallyResult{}),
		c.RegisterCodec(codecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}

var _ Serializer = CompactSerializer{}

// CompactSerializer is the internal binary format.
type CompactSerializer struct{}

func (CompactSerializer) MarshalVoting(def *voting.Voting) ([]byte, error) {
	return c.Marshal(codecVersion, def)
}

func (CompactSerializer) UnmarshalVoting(b []byte) (*voting.Voting, error) {
	def := &voting.Voting{}
	if _, err := c.Unmarshal(b, def); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	return def, nil
}

func (CompactSerializer) MarshalVote(rec *voting.VoteRecord) ([]byte, error) {
	return c.Marshal(codecVersion, rec)
}

func (CompactSerializer) UnmarshalVote(b []byte) (*voting.VoteRecord, error) {
	rec := &voting.VoteRecord{}
	if _, err := c.Unmarshal(b, rec); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	return rec, nil
}

func (CompactSerializer) MarshalResult(res *voting.TallyResult) ([]byte, error) {
	return c.Marshal(codecVersion, res)
}

func (CompactSerializer) UnmarshalResult(b []byte) (*voting.TallyResult, error) {
	res := &voting.TallyResult{}
	if _, err := c.Unmarshal(b, res); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	return res, nil
}
