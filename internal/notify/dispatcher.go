package notify

import (
	"context"
	"sync"
	"time"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/metrics"
	"restaurant-pos/internal/models"
)

const deliveryTimeout = 10 * time.Second

type job struct {
	event     *models.Event
	requestID string
}

// Dispatcher hands events to a pool of workers. When the buffer is full the
// event is dropped so a slow printer never stalls a checkout.
type Dispatcher struct {
	notifier Notifier
	log      *logger.Logger
	metrics  *metrics.Metrics
	workers  int
	jobs     chan job

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started bool
}

func NewDispatcher(n Notifier, workers, buffer int, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Dispatcher{
		notifier: n,
		log:      log,
		metrics:  m,
		workers:  workers,
		jobs:     make(chan job, buffer),
	}
}

// Start launches the workers; they exit once Stop drains the queue
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(i)
	}
}

func (d *Dispatcher) run(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		d.deliver(id, j)
	}
}

func (d *Dispatcher) deliver(worker int, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	ctx = logger.WithRequestID(ctx, j.requestID)

	if err := d.notifier.Notify(ctx, j.event); err != nil {
		d.metrics.Notification("failed")
		d.log.Error("notification_failed", "Failed to deliver event", j.requestID, err, map[string]interface{}{
			"event_id":   j.event.ID,
			"event_type": j.event.Type,
			"order_id":   j.event.OrderID,
			"worker":     worker,
		})
		return
	}
	d.metrics.Notification("delivered")
	d.log.Debug("notification_delivered", "Event delivered", j.requestID, map[string]interface{}{
		"event_id":   j.event.ID,
		"event_type": j.event.Type,
	})
}

// Publish queues the event without blocking
func (d *Dispatcher) Publish(ctx context.Context, event *models.Event) {
	requestID := logger.RequestIDFromContext(ctx)
	if event.RequestID == "" {
		event.RequestID = requestID
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.Notification("dropped")
		return
	}

	select {
	case d.jobs <- job{event: event, requestID: requestID}:
	default:
		d.metrics.Notification("dropped")
		d.log.Warn("notification_dropped", "Notification buffer full", requestID, map[string]interface{}{
			"event_type": event.Type,
			"order_id":   event.OrderID,
		})
	}
}

// Stop stops accepting events and waits for queued ones until ctx expires
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
