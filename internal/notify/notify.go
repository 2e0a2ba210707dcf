package notify

import (
	"context"
	"sync"
	"time"

	"doctrack.org/internal/dispatch"
	"doctrack.org/internal/obs"
)

// EventKind names a lifecycle change worth telling someone about.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventApproved    EventKind = "approved"
	EventRejected    EventKind = "rejected"
	EventRework      EventKind = "rework"
	EventResubmitted EventKind = "resubmitted"
	EventDelivered   EventKind = "delivered"
)

// Event is emitted after a state mutation commits. It carries the full
// post-transition request so notifiers never re-read the store.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Request dispatch.Request `json:"request"`
	At      time.Time        `json:"at"`
}

// Notifier delivers one event somewhere: a log line, an SNS topic, an
// email-rendering function. Delivery is best-effort; a returned error is
// counted and logged, never propagated to the transition that caused it.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

const (
	bufferSize      = 64
	deliveryTimeout = 5 * time.Second
)

// Dispatcher fans events out to registered notifiers from a background
// worker. Publish never blocks the caller: when the buffer is full the
// event is dropped and counted, because email is not part of the
// lifecycle's correctness contract.
type Dispatcher struct {
	notifiers []Notifier
	events    chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts the delivery worker over the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		notifiers: notifiers,
		events:    make(chan Event, bufferSize),
		done:      make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues an event without blocking. Call it only after the
// store mutation has committed.
func (d *Dispatcher) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	select {
	case <-d.done:
	case d.events <- evt:
	default:
		obs.NotifyDropped()
		obs.LogJSON(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "notify_event_dropped",
			"kind":  string(evt.Kind),
		})
	}
}

// Close stops the worker after draining buffered events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			for {
				select {
				case evt := <-d.events:
					d.deliver(evt)
				default:
					return
				}
			}
		case evt := <-d.events:
			d.deliver(evt)
		}
	}
}

func (d *Dispatcher) deliver(evt Event) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := n.Notify(ctx, evt)
		cancel()
		if err != nil {
			obs.NotifyFailed()
			obs.LogJSON(map[string]any{
				"ts":      time.Now().UTC().Format(time.RFC3339Nano),
				"level":   "warn",
				"msg":     "notify_delivery_failed",
				"kind":    string(evt.Kind),
				"request": evt.Request.ID,
				"error":   err.Error(),
			})
		}
	}
}

// LogNotifier writes each event as a structured log line. It is the
// default sink when no external notifier is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, evt Event) error {
	obs.LogJSON(map[string]any{
		"ts":       evt.At.Format(time.RFC3339Nano),
		"type":     "notification",
		"kind":     string(evt.Kind),
		"request":  evt.Request.ID,
		"status":   string(evt.Request.Status),
		"receiver": evt.Request.ReceiverEmail,
	})
	return nil
}
