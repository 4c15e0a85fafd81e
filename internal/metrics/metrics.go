// Package metrics provides the collector handle passed into the booking orchestrator, the
// availability cache and the scheduled jobs.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
)

// Metric names emitted by this service.
const (
	BookingSuccess       = "booking.success"
	BookingConflict      = "booking.conflict"
	BookingLockExhausted = "booking.lock_exhausted"
	BookingInvalid       = "booking.validation_failed"
	BookingLatency       = "booking.latency_ms"
	CacheHit             = "cache.hit"
	CacheMiss            = "cache.miss"
	ReservationExpired   = "reservation.expired"
	ReminderSent         = "reminder.sent"
	ScheduleFailed       = "schedule.failed"
	TaskRetried          = "task.retried"
	TaskDropped          = "task.dropped"
)

// Collector records counters and timings.
type Collector interface {
	Incr(ctx context.Context, name string)
	Timing(ctx context.Context, name string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Incr(context.Context, string)                  {}
func (Nop) Timing(context.Context, string, time.Duration) {}

const (
	// batchSize caps the datums sent in one PutMetricData call.
	batchSize     = 20
	bufferSize    = 1024
	flushInterval = time.Second
	putTimeout    = 2 * time.Second
)

// CloudWatch buffers samples and publishes them from a background goroutine in batches,
// so recording a metric never waits on CloudWatch. Samples that arrive while the buffer is
// full are dropped. Failures are logged and never returned to the caller.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	logs      *zap.Logger

	datums     chan cwtypes.MetricDatum
	flushes    chan chan struct{}
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	dropped    atomic.Int64
	putTimeout time.Duration
}

// NewCloudWatch returns a collector writing to namespace and starts its publisher. Call
// Close to publish what is still buffered.
func NewCloudWatch(client aws.CloudWatchAPI, namespace string, logs *zap.Logger) *CloudWatch {
	c := &CloudWatch{
		client:     client,
		namespace:  namespace,
		logs:       logs,
		datums:     make(chan cwtypes.MetricDatum, bufferSize),
		flushes:    make(chan chan struct{}),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		putTimeout: putTimeout,
	}
	go c.run(flushInterval)
	return c
}

func (c *CloudWatch) Incr(_ context.Context, name string) {
	c.enqueue(name, 1, cwtypes.StandardUnitCount)
}

func (c *CloudWatch) Timing(_ context.Context, name string, d time.Duration) {
	c.enqueue(name, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds)
}

// Dropped returns how many samples were discarded because the buffer was full.
func (c *CloudWatch) Dropped() int64 { return c.dropped.Load() }

func (c *CloudWatch) enqueue(name string, value float64, unit cwtypes.StandardUnit) {
	now := time.Now()
	d := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &value,
		Unit:       unit,
		Timestamp:  &now,
	}
	select {
	case c.datums <- d:
	default:
		if c.dropped.Add(1) == 1 {
			c.logs.Warn("metric buffer full, dropping samples", zap.String("metric", name))
		}
	}
}

// Flush publishes everything buffered so far, or gives up when ctx is done.
func (c *CloudWatch) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case c.flushes <- ack:
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the publisher after sending what is buffered.
func (c *CloudWatch) Close(ctx context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CloudWatch) run(every time.Duration) {
	defer close(c.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, batchSize)
	drain := func() {
		for {
			select {
			case d := <-c.datums:
				batch = append(batch, d)
				if len(batch) == batchSize {
					batch = c.put(batch)
				}
			default:
				batch = c.put(batch)
				return
			}
		}
	}

	for {
		select {
		case d := <-c.datums:
			batch = append(batch, d)
			if len(batch) == batchSize {
				batch = c.put(batch)
			}
		case <-ticker.C:
			batch = c.put(batch)
		case ack := <-c.flushes:
			drain()
			close(ack)
		case <-c.done:
			drain()
			return
		}
	}
}

// put sends batch and returns it emptied for reuse.
func (c *CloudWatch) put(batch []cwtypes.MetricDatum) []cwtypes.MetricDatum {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.putTimeout)
	defer cancel()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &c.namespace,
		MetricData: append([]cwtypes.MetricDatum(nil), batch...),
	})
	if err != nil {
		c.logs.Warn("put metric data failed", zap.Int("datums", len(batch)), zap.Error(err))
	}
	return batch[:0]
}

// Recorder keeps samples in memory. Used by tests and local runs.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]int
	timings  map[string][]time.Duration
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters: map[string]int{},
		timings:  map[string][]time.Duration{},
	}
}

func (r *Recorder) Incr(_ context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name]++
}

func (r *Recorder) Timing(_ context.Context, name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[name] = append(r.timings[name], d)
}

// Count returns how many times name was incremented.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Timings returns a copy of the samples recorded for name.
func (r *Recorder) Timings(name string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timings[name]...)
}
