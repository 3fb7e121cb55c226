// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package nodes

import (
	"encoding/json"
	"os"

	"github.com/luxfi/log"

	"github.com/luxfi/ballot/message"
	"github.com/luxfi/ballot/voting"
)

// ResultSink receives finalized tally results, typically to hand them to an
// external system (a regulator feed, a web frontend, a printer).
type ResultSink interface {
	PublishResult(*voting.TallyResult) error
}

var _ message.Consumer = (*ResultRecorder)(nil)

// ResultRecorder decorates a consumer with result publication: results are
// first handled by the wrapped consumer and, only if that succeeds, forwarded
// to the sink. Sink failures are logged and swallowed so an external outage
// never stalls message processing.
type ResultRecorder struct {
	log   log.Logger
	inner message.Consumer
	sink  ResultSink
}

func NewResultRecorder(logger log.Logger, inner message.Consumer, sink ResultSink) *ResultRecorder {
	return &ResultRecorder{
		log:   logger,
		inner: inner,
		sink:  sink,
	}
}

func (r *ResultRecorder) HandleVote(env *message.Envelope, rec *voting.VoteRecord) error {
	return r.inner.HandleVote(env, rec)
}

func (r *ResultRecorder) HandleVoting(env *message.Envelope, def *voting.Voting) error {
	return r.inner.HandleVoting(env, def)
}

func (r *ResultRecorder) HandleResult(env *message.Envelope, res *voting.TallyResult) error {
	if err := r.inner.HandleResult(env, res); err != nil {
		return err
	}
	if err := r.sink.PublishResult(res); err != nil {
		r.log.Error("result sink failed",
			log.Stringer("votingID", res.VotingID),
			log.Err(err),
		)
	}
	return nil
}

var _ ResultSink = (*FileResultSink)(nil)

// FileResultSink appends results to a JSON-lines file.
type FileResultSink struct {
	path string
}

func NewFileResultSink(path string) *FileResultSink {
	return &FileResultSink{path: path}
}

func (s *FileResultSink) PublishResult(res *voting.TallyResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(raw, '\n'))
	return err
}
