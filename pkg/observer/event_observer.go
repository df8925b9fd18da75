package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event describes one step of a request/response cycle
type Event struct {
	Type      EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Token     string         `json:"token,omitempty"`
	ImageURL  string         `json:"image_url,omitempty"`
	Status    string         `json:"status,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Err       error          `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventType represents the type of client event
type EventType string

const (
	RequestSubmitted  EventType = "request_submitted"
	RequestReposted   EventType = "request_reposted"
	RequestFailed     EventType = "request_failed"
	StatusPolled      EventType = "status_polled"
	ResponseCompleted EventType = "response_completed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event Event)
	Name() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	Notify(ctx context.Context, event Event)
}

// LoggingObserver logs client events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{logger: logger}
}

// OnEvent logs the event at a level matching its outcome
func (o *LoggingObserver) OnEvent(ctx context.Context, event Event) {
	fields := logrus.Fields{
		"event_type":  event.Type,
		"token":       event.Token,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if event.ImageURL != "" {
		fields["image_url"] = event.ImageURL
	}
	if event.Status != "" {
		fields["status"] = event.Status
	}
	if event.Attempt > 0 {
		fields["attempt"] = event.Attempt
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}
	entry := o.logger.WithFields(fields)
	if event.Err != nil {
		entry = entry.WithError(event.Err)
	}

	switch event.Type {
	case RequestSubmitted:
		entry.Info("Image request submitted")
	case RequestReposted:
		entry.Info("Image request reposted")
	case RequestFailed:
		entry.Error("Image request failed")
	case StatusPolled:
		entry.Debug("Image response polled")
	case ResponseCompleted:
		entry.Info("Image response reached a final status")
	default:
		entry.Info("Client event occurred")
	}
}

func (o *LoggingObserver) Name() string {
	return "logging_observer"
}

// Metrics is a snapshot of MetricsObserver counters
type Metrics struct {
	Submitted     int64
	Reposted      int64
	Failed        int64
	Polls         int64
	Completed     int64
	AvgCompletion time.Duration
}

// MetricsObserver counts client events
type MetricsObserver struct {
	mu              sync.RWMutex
	submitted       int64
	reposted        int64
	failed          int64
	polls           int64
	completed       int64
	totalCompletion time.Duration
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles client events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.Type {
	case RequestSubmitted:
		o.submitted++
	case RequestReposted:
		o.reposted++
	case RequestFailed:
		o.failed++
	case StatusPolled:
		o.polls++
	case ResponseCompleted:
		o.completed++
		o.totalCompletion += event.Duration
	}
}

func (o *MetricsObserver) Name() string {
	return "metrics_observer"
}

// Snapshot returns current metrics
func (o *MetricsObserver) Snapshot() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := Metrics{
		Submitted: o.submitted,
		Reposted:  o.reposted,
		Failed:    o.failed,
		Polls:     o.polls,
		Completed: o.completed,
	}
	if o.completed > 0 {
		m.AvgCompletion = o.totalCompletion / time.Duration(o.completed)
	}
	return m
}

// Publisher implements Subject. Observers run synchronously in subscription order.
type Publisher struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *logrus.Logger
}

func NewPublisher(logger *logrus.Logger) *Publisher {
	return &Publisher{logger: logger}
}

// Subscribe adds an observer
func (p *Publisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes the first observer with the same name
func (p *Publisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.Name() == observer.Name() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// Notify delivers the event to every observer. A panicking observer is logged and skipped.
func (p *Publisher) Notify(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, obs := range observers {
		p.deliver(ctx, obs, event)
	}
}

func (p *Publisher) deliver(ctx context.Context, obs Observer, event Event) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.WithField("observer", obs.Name()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
