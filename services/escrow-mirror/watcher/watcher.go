package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nervix/native/fees"
	"nervix/observability"
	"nervix/rpc"
	"nervix/services/escrow-mirror/models"
	"nervix/services/escrow-mirror/nodeclient"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 200
)

// Snapshot is the latest ledger state observed by the watcher.
type Snapshot struct {
	Info       rpc.ContractInfoResult
	ObservedAt time.Time
}

// Schedule returns the fee schedule carried by the snapshot.
func (s Snapshot) Schedule() fees.Schedule {
	return s.Info.Fees.Schedule()
}

type Config struct {
	PollInterval time.Duration
	// Timeout bounds every node call made during a poll.
	Timeout   time.Duration
	BatchSize int
	Logger    *slog.Logger
}

// Watcher polls the ledger node, keeps the latest parameter snapshot in
// memory, persists changed snapshots and relays new events to subscribers.
type Watcher struct {
	node   nodeclient.NodeClient
	store  *models.Store
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
	cursor   uint64
	loaded   bool

	subsMu sync.Mutex
	subs   map[chan rpc.EventJSON]struct{}
}

func New(node nodeclient.NodeClient, store *models.Store, cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		node:   node,
		store:  store,
		cfg:    cfg,
		logger: logger,
		nowFn:  time.Now,
		subs:   make(map[chan rpc.EventJSON]struct{}),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if w.node == nil || w.store == nil {
		return
	}
	_ = w.Poll(ctx)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.Poll(ctx)
		}
	}
}

// Poll performs one refresh of the snapshot and the event relay.
func (w *Watcher) Poll(ctx context.Context) error {
	infoErr := w.refreshSnapshot(ctx)
	eventsErr := w.relayEvents(ctx)
	err := errors.Join(infoErr, eventsErr)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	observability.Mirror().RecordPoll(outcome, w.nowFn())
	if err != nil {
		w.logger.Warn("ledger poll failed", slog.String("outcome", outcome), slog.Any("error", err))
	}
	return err
}

func (w *Watcher) refreshSnapshot(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	info, err := w.node.ContractInfo(callCtx)
	if err != nil {
		return err
	}
	now := w.nowFn().UTC()
	w.mu.Lock()
	w.snapshot = &Snapshot{Info: *info, ObservedAt: now}
	w.mu.Unlock()

	written, err := w.store.SaveSnapshotIfChanged(ctx, models.ScheduleSnapshot{
		Owner:              info.Owner,
		Treasury:           info.Treasury,
		Vault:              info.Vault,
		Paused:             info.Paused,
		EscrowCount:        info.EscrowCount,
		TaskBps:            info.Fees.TaskBps,
		SettlementBps:      info.Fees.SettlementBps,
		TransferBps:        info.Fees.TransferBps,
		DiscountBps:        info.Fees.OpenClawDiscountBps,
		TotalFeesCollected: info.TotalFeesCollected,
		ObservedAt:         now,
	})
	if err != nil {
		return err
	}
	if written {
		w.logger.Info("ledger snapshot changed",
			slog.Uint64("escrow_count", uint64(info.EscrowCount)),
			slog.Bool("paused", info.Paused))
	}
	return nil
}

func (w *Watcher) relayEvents(ctx context.Context) error {
	w.mu.Lock()
	if !w.loaded {
		cursor, err := w.store.EventCursor(ctx)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		w.cursor = cursor
		w.loaded = true
	}
	from := w.cursor
	w.mu.Unlock()

	for {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		evts, err := w.node.EventsSince(callCtx, from, w.cfg.BatchSize)
		cancel()
		if err != nil {
			return err
		}
		fresh := evts[:0]
		for _, evt := range evts {
			if evt.Seq >= from {
				fresh = append(fresh, evt)
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := w.store.AppendEvents(ctx, fresh, w.nowFn().UTC()); err != nil {
			return err
		}
		for _, evt := range fresh {
			w.publish(evt)
			from = evt.Seq + 1
		}
		w.mu.Lock()
		w.cursor = from
		w.mu.Unlock()
		if len(evts) < w.cfg.BatchSize {
			return nil
		}
	}
}

// Snapshot returns the latest snapshot, if any poll has succeeded.
func (w *Watcher) Snapshot() (Snapshot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.snapshot == nil {
		return Snapshot{}, false
	}
	return *w.snapshot, true
}

// Cursor returns the next event sequence the watcher will fetch.
func (w *Watcher) Cursor() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cursor
}

// Subscribe registers for relayed events. Slow subscribers drop events rather
// than stall the watcher.
func (w *Watcher) Subscribe(buffer int) (<-chan rpc.EventJSON, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan rpc.EventJSON, buffer)
	w.subsMu.Lock()
	w.subs[ch] = struct{}{}
	w.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.subsMu.Lock()
			delete(w.subs, ch)
			w.subsMu.Unlock()
			close(ch)
		})
	}
}

func (w *Watcher) publish(evt rpc.EventJSON) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- evt:
		default:
			w.logger.Warn("dropping event for slow subscriber", slog.Uint64("seq", evt.Seq))
		}
	}
}
