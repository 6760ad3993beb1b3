package audit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// AsyncConfig tunes the asynchronous pipeline
type AsyncConfig struct {
	// Shards is the number of ordered queues. Entries of one actor always
	// land on the same shard.
	Shards int
	// QueueSize bounds each shard
	QueueSize int
	// EnqueueTimeout caps how long Record waits for room on a full shard
	EnqueueTimeout time.Duration
	// Retries is how many extra attempts a failed write gets
	Retries int
	// RetryBackoff is the pause before the first retry, doubled per retry
	RetryBackoff time.Duration
	// FailureThreshold is the count of consecutive failed writes after which
	// the sink reports unhealthy
	FailureThreshold int
	// SinkName labels metrics and logs
	SinkName string
}

// DefaultAsyncConfig returns default configuration
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Shards:           16,
		QueueSize:        1024,
		EnqueueTimeout:   5 * time.Second,
		Retries:          2,
		RetryBackoff:     50 * time.Millisecond,
		FailureThreshold: 5,
		SinkName:         "default",
	}
}

type queued struct {
	entry *Entry
	// barrier is closed by the worker once every earlier item on the shard
	// is written; entry is nil for barriers
	barrier chan struct{}
}

// AsyncLogger moves writes off the decision path. Each actor's entries are
// written in the order they were recorded; Drain waits until everything an
// actor recorded so far is durable.
type AsyncLogger struct {
	sink    Logger
	cfg     AsyncConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	shards []chan queued
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	depth               atomic.Int64
	consecutiveFailures atomic.Int64
	totalFailures       atomic.Int64
	written             atomic.Int64
	lastError           atomic.Value // string
}

// NewAsyncLogger starts the shard workers writing to sink
func NewAsyncLogger(sink Logger, cfg AsyncConfig, logger *observability.Logger, metrics *observability.Metrics) *AsyncLogger {
	def := DefaultAsyncConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = def.EnqueueTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SinkName == "" {
		cfg.SinkName = def.SinkName
	}
	if logger == nil {
		logger = observability.Default()
	}

	a := &AsyncLogger{
		sink:    sink,
		cfg:     cfg,
		logger:  logger.WithField("sink", cfg.SinkName),
		metrics: metrics,
		shards:  make([]chan queued, cfg.Shards),
	}
	a.lastError.Store("")

	for i := range a.shards {
		a.shards[i] = make(chan queued, cfg.QueueSize)
		a.wg.Add(1)
		go a.run(a.shards[i])
	}

	return a
}

func (a *AsyncLogger) shardFor(actorKey string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actorKey))
	return int(h.Sum32() % uint32(len(a.shards)))
}

// Record implements Logger. It returns once the entry is queued; write
// failures surface through Healthy and the metrics.
func (a *AsyncLogger) Record(ctx context.Context, entry *Entry) error {
	stamp(entry)
	cp := *entry

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	idx := a.shardFor(cp.ActorKey())
	if t := trackerFrom(ctx); t != nil {
		t.add(idx)
	}

	timer := time.NewTimer(a.cfg.EnqueueTimeout)
	defer timer.Stop()

	a.metrics.SetAuditQueueDepth(int(a.depth.Add(1)))
	select {
	case a.shards[idx] <- queued{entry: &cp}:
		return nil
	case <-timer.C:
		a.metrics.SetAuditQueueDepth(int(a.depth.Add(-1)))
		a.fail(errors.New("audit queue full"))
		return fmt.Errorf("audit queue full for %s", cp.ActorKey())
	}
}

func (a *AsyncLogger) run(ch chan queued) {
	defer a.wg.Done()
	for item := range ch {
		if item.barrier != nil {
			close(item.barrier)
			continue
		}
		a.write(item.entry)
		a.metrics.SetAuditQueueDepth(int(a.depth.Add(-1)))
	}
}

func (a *AsyncLogger) write(e *Entry) {
	defer observability.RecoverPanic(a.logger, "audit writer")

	backoff := a.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= a.cfg.Retries; attempt++ {
		if attempt > 0 && backoff > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = a.sink.Record(ctx, e)
		cancel()
		if err == nil {
			break
		}
	}

	a.metrics.ObserveAuditWrite(a.cfg.SinkName, err)
	if err != nil {
		a.fail(err)
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"entry_id":  e.ID,
			"actor":     e.ActorKey(),
			"operation": string(e.Operation),
		}).Error("audit entry could not be written")
		return
	}
	a.written.Add(1)
	a.consecutiveFailures.Store(0)
}

func (a *AsyncLogger) fail(err error) {
	a.totalFailures.Add(1)
	a.lastError.Store(err.Error())
	if n := a.consecutiveFailures.Add(1); n == int64(a.cfg.FailureThreshold) {
		a.logger.WithField("consecutive_failures", n).Error("audit sink is unhealthy")
	}
}

// Drain blocks until every entry recorded for actorKey before the call is
// written or has failed, or ctx ends.
func (a *AsyncLogger) Drain(ctx context.Context, actorKey string) error {
	return a.drainShards(ctx, []int{a.shardFor(actorKey)})
}

// DrainTracked waits for every shard an entry recorded under t was queued on
func (a *AsyncLogger) DrainTracked(ctx context.Context, t *Tracker) error {
	if t == nil {
		return nil
	}
	return a.drainShards(ctx, t.shards())
}

func (a *AsyncLogger) drainShards(ctx context.Context, shards []int) error {
	if len(shards) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { a.metrics.ObserveAuditDrain(time.Since(start)) }()

	barriers := make([]chan struct{}, 0, len(shards))
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		// Close already waited for the workers
		return nil
	}
	for _, idx := range shards {
		b := make(chan struct{})
		select {
		case a.shards[idx] <- queued{barrier: b}:
			barriers = append(barriers, b)
		case <-ctx.Done():
			a.mu.RUnlock()
			return ctx.Err()
		}
	}
	a.mu.RUnlock()

	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Healthy reports whether fewer than FailureThreshold writes in a row failed
func (a *AsyncLogger) Healthy() bool {
	return a.consecutiveFailures.Load() < int64(a.cfg.FailureThreshold)
}

// AsyncStats describes the pipeline
type AsyncStats struct {
	Pending             int64  `json:"pending"`
	Written             int64  `json:"written"`
	Failures            int64  `json:"failures"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// Stats returns counters of the pipeline
func (a *AsyncLogger) Stats() AsyncStats {
	return AsyncStats{
		Pending:             a.depth.Load(),
		Written:             a.written.Load(),
		Failures:            a.totalFailures.Load(),
		ConsecutiveFailures: a.consecutiveFailures.Load(),
		LastError:           a.lastError.Load().(string),
	}
}

// HealthCheck adapts Healthy to the readiness checker
func (a *AsyncLogger) HealthCheck(context.Context) observability.DependencyStatus {
	now := time.Now()
	if a.Healthy() {
		return observability.DependencyStatus{Status: observability.StatusHealthy, Timestamp: now}
	}
	stats := a.Stats()
	return observability.DependencyStatus{
		Status:    observability.StatusUnhealthy,
		Message:   fmt.Sprintf("%d consecutive audit write failures: %s", stats.ConsecutiveFailures, stats.LastError),
		Timestamp: now,
	}
}

// Close stops accepting entries, writes everything queued and closes the
// sink
func (a *AsyncLogger) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for _, ch := range a.shards {
		close(ch)
	}
	a.mu.Unlock()

	a.wg.Wait()
	return a.sink.Close()
}
