package notifier

import (
	"context"
	"sync"
	"time"

	"dentalclinic/internal/pkg/metrics"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventAppointmentConfirmed EventType = "appointment.confirmed"
	EventAppointmentCancelled EventType = "appointment.cancelled"
	EventAppointmentExpired   EventType = "appointment.expired"
	EventPaymentFailed        EventType = "payment.failed"
	EventPaymentRefunded      EventType = "payment.refunded"
	EventReconciliation       EventType = "reconciliation.opened"
)

// Event is a best-effort message about a state change that already committed.
type Event struct {
	Type           EventType              `json:"type"`
	UserRefs       []int64                `json:"userRefs,omitempty"`
	AppointmentRef int64                  `json:"appointmentId,omitempty"`
	PaymentRef     int64                  `json:"paymentId,omitempty"`
	Emails         []string               `json:"-"`
	Subject        string                 `json:"subject"`
	Body           string                 `json:"body"`
	Data           map[string]interface{} `json:"data,omitempty"`
	At             time.Time              `json:"at"`
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Notifier is what state-changing components depend on.
type Notifier interface {
	Notify(e Event)
}

type Dispatcher struct {
	queue   chan Event
	sinks   []Sink
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	started sync.Once
}

func NewDispatcher(buffer int, log zerolog.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		queue:   make(chan Event, buffer),
		sinks:   sinks,
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "notifier").Logger(),
		metrics: m,
	}
}

// Notify enqueues e without blocking. A full queue drops the event.
func (d *Dispatcher) Notify(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.metrics.NotificationDropped()
		d.log.Warn().Str("type", string(e.Type)).Int64("appointment_id", e.AppointmentRef).Msg("notification queue full, dropping")
	}
}

// Start runs the delivery loop until Close.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		d.wg.Add(1)
		go d.loop()
	})
}

// Close stops accepting events and drains what is queued.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.Start()
	d.wg.Wait()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Deliver(ctx, e)
		cancel()
		if err != nil {
			d.log.Error().Err(err).Str("sink", s.Name()).Str("type", string(e.Type)).Msg("notification delivery failed")
		}
	}
}

// Collector buffers notifications raised inside a transaction so they are
// only dispatched after commit.
type Collector struct {
	events []Event
}

func (c *Collector) Add(e Event) {
	c.events = append(c.events, e)
}

func (c *Collector) Flush(n Notifier) {
	if n == nil {
		c.events = nil
		return
	}
	for _, e := range c.events {
		n.Notify(e)
	}
	c.events = nil
}

func (c *Collector) Events() []Event {
	return c.events
}
