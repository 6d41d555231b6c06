package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/core/ports/driving"
	"github.com/custodia-labs/keep/internal/logger"
)

// Ensure Processor implements the interface.
var _ driving.Processor = (*Processor)(nil)

// ProcessorLockName is the advisory lock held while a processor runs.
const ProcessorLockName = "processor"

// WatchFunc starts watching a file for writes.
type WatchFunc func(path string) (driven.ChangeNotifier, error)

// Processor drains the pending queue through a Keeper. At most one
// processor runs per store; the lock is released when the process exits.
type Processor struct {
	keeper *Keeper
	locker driven.Locker
	watch  WatchFunc
	cfg    domain.ProcessorSettings
}

// NewProcessor creates a processor. watch may be nil, in which case the
// daemon polls.
func NewProcessor(keeper *Keeper, locker driven.Locker, watch WatchFunc) *Processor {
	cfg := keeper.Config().Processor
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = domain.DefaultKeeperConfig().Processor.PollInterval
	}
	return &Processor{
		keeper: keeper,
		locker: locker,
		watch:  watch,
		cfg:    cfg,
	}
}

// RunOnce processes at most limit items. limit <= 0 uses the batch size.
func (p *Processor) RunOnce(ctx context.Context, limit int) (domain.ProcessStats, error) {
	unlock, err := p.lock()
	if err != nil {
		return domain.ProcessStats{}, err
	}
	defer unlock()

	if limit <= 0 {
		limit = p.cfg.BatchSize
	}
	return p.batch(ctx, newRunLog(), limit)
}

// Drain processes batches until the queue is empty, ctx is cancelled, or
// a batch makes no progress.
func (p *Processor) Drain(ctx context.Context) (domain.ProcessStats, error) {
	unlock, err := p.lock()
	if err != nil {
		return domain.ProcessStats{}, err
	}
	defer unlock()

	return p.drain(ctx, newRunLog())
}

// Run drains the queue, then waits for writes to the queue file and drains
// again until ctx is cancelled. A poll interval covers missed events.
func (p *Processor) Run(ctx context.Context) error {
	unlock, err := p.lock()
	if err != nil {
		return err
	}
	defer unlock()

	log := newRunLog()
	log.Info("Processor started")

	var changes <-chan struct{}
	if p.watch != nil {
		n, err := p.watch(p.keeper.pending.Path())
		if err != nil {
			log.Warnf("Watching queue failed, polling every %s: %v", p.cfg.PollInterval, err)
		} else {
			defer n.Close()
			changes = n.Changes()
		}
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.drain(ctx, log); err != nil && ctx.Err() == nil {
			log.Warnf("Processing failed: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Info("Processor stopped")
			return nil
		case <-changes:
		case <-ticker.C:
		}
	}
}

func (p *Processor) drain(ctx context.Context, log *logger.Entry) (domain.ProcessStats, error) {
	var total domain.ProcessStats
	for ctx.Err() == nil {
		stats, err := p.batch(ctx, log, p.cfg.BatchSize)
		total.Add(stats)
		if err != nil {
			return total, err
		}
		if stats.Total() == 0 || stats.Total() == stats.Failed {
			break
		}
	}
	if total.Total() > 0 {
		log.Infof("Processed %d, failed %d, abandoned %d, stale %d",
			total.Processed, total.Failed, total.Abandoned, total.Stale)
	}
	return total, nil
}

// batch dequeues and processes one batch. An interrupt lets the batch
// finish; items it did not reach stay queued.
func (p *Processor) batch(ctx context.Context, log *logger.Entry, limit int) (domain.ProcessStats, error) {
	var stats domain.ProcessStats
	work := context.WithoutCancel(ctx)
	defer p.keeper.providers.Release()

	items, err := p.keeper.pending.Dequeue(work, limit)
	if err != nil {
		return stats, fmt.Errorf("dequeueing: %w", err)
	}

	for _, item := range items {
		itemLog := log.WithFields(logger.Fields{
			"id":      item.ID,
			"task":    item.TaskType,
			"attempt": item.Attempts,
		})

		if item.Attempts > p.cfg.MaxAttempts {
			itemLog.Warnf("Abandoned after %d attempts: %s", item.Attempts-1, item.LastError)
			p.complete(work, item)
			stats.Abandoned++
			continue
		}

		err := p.keeper.process(work, item)
		switch {
		case err == nil:
			p.complete(work, item)
			stats.Processed++
		case errors.Is(err, errStale):
			itemLog.Debugf("Dropped: %v", err)
			p.complete(work, item)
			stats.Stale++
		case item.Attempts >= p.cfg.MaxAttempts:
			itemLog.Warnf("Abandoned after %d attempts: %v", item.Attempts, err)
			p.complete(work, item)
			stats.Abandoned++
		default:
			itemLog.Debugf("Failed: %v", err)
			if rerr := p.keeper.pending.RecordFailure(work, item.ID, item.Collection, item.TaskType, err.Error()); rerr != nil {
				itemLog.Warnf("Recording failure: %v", rerr)
			}
			stats.Failed++
		}
	}
	return stats, nil
}

func (p *Processor) complete(ctx context.Context, item domain.PendingItem) {
	if err := p.keeper.pending.Complete(ctx, item.ID, item.Collection, item.TaskType); err != nil {
		logger.Warn("Completing %s %s: %v", item.TaskType, item.ID, err)
	}
}

// newRunLog returns a logger tagged with a fresh run id.
func newRunLog() *logger.Entry {
	return logger.With(logger.Fields{"run": uuid.NewString()[:8]})
}

// lock takes the processor lock, returning its release.
func (p *Processor) lock() (func(), error) {
	if p.locker == nil {
		return func() {}, nil
	}
	l, err := p.locker.TryLock(ProcessorLockName)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, domain.ErrProcessorRunning
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Unlock(); err != nil {
			logger.Warn("Releasing processor lock: %v", err)
		}
	}, nil
}
