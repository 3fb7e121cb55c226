// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package message

import (
	"github.com/luxfi/log"

	"github.com/luxfi/ballot/voting"
)

var _ Consumer = NoopConsumer{}

// Consumer receives verified, deduplicated, decoded messages from the
// connector. A connector dispatches to its consumers in registration order; a
// failure in one consumer never prevents dispatch to the next.
type Consumer interface {
	HandleVote(env *Envelope, rec *voting.VoteRecord) error
	HandleVoting(env *Envelope, def *voting.Voting) error
	HandleResult(env *Envelope, res *voting.TallyResult) error
}

// NoopConsumer drops everything it receives.
type NoopConsumer struct {
	Log log.Logger
}

func (h NoopConsumer) HandleVote(env *Envelope, _ *voting.VoteRecord) error {
	h.Log.Debug("dropping unexpected vote message",
		log.Stringer("sender", env.Sender),
		log.Stringer("envelopeID", env.ID),
	)
	return nil
}

func (h NoopConsumer) HandleVoting(env *Envelope, _ *voting.Voting) error {
	h.Log.Debug("dropping unexpected voting message",
		log.Stringer("sender", env.Sender),
		log.Stringer("envelopeID", env.ID),
	)
	return nil
}

func (h NoopConsumer) HandleResult(env *Envelope, _ *voting.TallyResult) error {
	h.Log.Debug("dropping unexpected result message",
		log.Stringer("sender", env.Sender),
		log.Stringer("envelopeID", env.ID),
	)
	return nil
}
