// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package connector

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/ballot/wallet"
)

// Inbound receives raw ledger deliveries. A nil return consumes the delivery;
// an error leaves it for redelivery.
type Inbound interface {
	HandleRaw(d wallet.Delivery) error
}

// InboundPoller pulls new deliveries off a wallet at a fixed interval and
// hands them to an Inbound sink. The checkpoint advances only after a whole
// batch is handed off, so a crash mid-batch redelivers it; the sink's
// deduplication makes that harmless.
type InboundPoller struct {
	logger   log.Logger
	wallet   wallet.Wallet
	sink     Inbound
	interval time.Duration

	mu         sync.Mutex
	checkpoint wallet.Checkpoint
	running    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInboundPoller resumes polling from [checkpoint].
func NewInboundPoller(
	logger log.Logger,
	w wallet.Wallet,
	sink Inbound,
	interval time.Duration,
	checkpoint wallet.Checkpoint,
) *InboundPoller {
	return &InboundPoller{
		logger:     logger,
		wallet:     w,
		sink:       sink,
		interval:   interval,
		checkpoint: checkpoint,
	}
}

// Checkpoint returns the current read position, for persistence.
func (p *InboundPoller) Checkpoint() wallet.Checkpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkpoint
}

func (p *InboundPoller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop halts polling after the in-flight iteration completes.
func (p *InboundPoller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *InboundPoller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Poll(p.ctx)
		}
	}
}

// Poll fetches and dispatches one batch. Transport and sink errors are logged
// and leave the checkpoint where it was; the next poll retries.
func (p *InboundPoller) Poll(ctx context.Context) {
	p.mu.Lock()
	since := p.checkpoint
	p.mu.Unlock()

	deliveries, next, err := p.wallet.FetchNew(ctx, since)
	if err != nil {
		p.logger.Warn("inbound fetch failed",
			log.Uint64("checkpoint", uint64(since)),
			log.Err(err),
		)
		return
	}

	for _, d := range deliveries {
		if err := p.sink.HandleRaw(d); err != nil {
			p.logger.Warn("inbound delivery not consumed, will redeliver",
				log.Stringer("sender", d.Sender),
				log.Err(err),
			)
			return
		}
	}

	p.mu.Lock()
	p.checkpoint = next
	p.mu.Unlock()
}
