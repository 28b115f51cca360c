// Package poller drives the pipeline on a fixed interval. Cycles are
// non-reentrant: a fire that arrives while the previous cycle is still
// running is coalesced, and a fire delayed past the misfire grace is skipped
// rather than queued.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maildesk/maildesk-go/internal/logging"
	"github.com/maildesk/maildesk-go/internal/mail"
	"github.com/maildesk/maildesk-go/internal/pipeline"
	"github.com/maildesk/maildesk-go/internal/store"
)

// Defaults matching the production schedule.
const (
	DefaultInterval   = 1 * time.Minute
	DefaultGrace      = 60 * time.Second
	DefaultBatchLimit = 10
)

// Processor handles one fetched message. Satisfied by *pipeline.Coordinator.
type Processor interface {
	ProcessMessage(ctx context.Context, msg mail.RawMessage) (*store.Ticket, error)
}

// Config holds the poller schedule knobs.
type Config struct {
	// Interval between fires (default 1 minute).
	Interval time.Duration

	// Grace is the misfire grace period: a fire delayed less than this
	// still runs once; delayed more, it is skipped (default 60s).
	Grace time.Duration

	// BatchLimit caps how many messages one cycle fetches (default 10).
	BatchLimit int
}

// Poller periodically fetches a batch of messages and dispatches them to the
// processor one at a time.
type Poller struct {
	fetcher   mail.Fetcher
	processor Processor
	cfg       Config
}

// New builds a Poller. Zero config fields select the defaults.
func New(fetcher mail.Fetcher, processor Processor, cfg Config) (*Poller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("poller: fetcher must not be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("poller: processor must not be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	return &Poller{fetcher: fetcher, processor: processor, cfg: cfg}, nil
}

// Run blocks, firing RunOnce on every interval tick until ctx is cancelled.
// Cycles run synchronously on this goroutine, which is what makes the
// trigger non-reentrant: ticks arriving mid-cycle sit in the ticker's
// one-slot buffer and are dropped or skipped by the grace check afterwards.
func (p *Poller) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("poller: starting",
		"interval", p.cfg.Interval,
		"grace", p.cfg.Grace,
		"batch_limit", p.cfg.BatchLimit)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poller: stopped")
			return
		case fired := <-ticker.C:
			if delay := time.Since(fired); delay > p.cfg.Grace {
				log.Warn("poller: fire delayed past grace period, skipping",
					"delay", delay)
				continue
			}
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single fetch-and-dispatch cycle. Batch-level failures
// are logged, never returned: the next scheduled fire must still happen.
// Shutdown is checked between messages; in-flight calls finish naturally.
func (p *Poller) RunOnce(ctx context.Context) {
	log := logging.FromContext(ctx)

	msgs, err := p.fetcher.Fetch(ctx, p.cfg.BatchLimit)
	if err != nil {
		log.Error("poller: mailbox fetch failed", "error", err)
		return
	}
	if len(msgs) == 0 {
		log.Debug("poller: no new messages")
		return
	}
	log.Info("poller: dispatching batch", "messages", len(msgs))

	for _, msg := range msgs {
		select {
		case <-ctx.Done():
			log.Info("poller: shutdown requested, abandoning rest of batch")
			return
		default:
		}

		if _, err := p.processor.ProcessMessage(ctx, msg); err != nil {
			// The coordinator has already logged the details; a skip is
			// routine, anything else is worth a second line.
			if !errors.Is(err, pipeline.ErrSkipped) {
				log.Error("poller: message processing failed",
					"message_id", msg.MessageID, "error", err)
			}
		}
	}
}
