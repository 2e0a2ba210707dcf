package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"doctrack.org/internal/dispatch"
)

type capture struct {
	mu   sync.Mutex
	evts []Event
}

func (c *capture) Notify(ctx context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evts = append(c.evts, evt)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evts)
}

type failing struct{}

func (failing) Notify(ctx context.Context, evt Event) error {
	return errors.New("smtp exploded")
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &capture{}
	d := NewDispatcher(sink)

	d.Publish(Event{Kind: EventCreated, Request: dispatch.Request{ID: "r-1"}})
	d.Publish(Event{Kind: EventApproved, Request: dispatch.Request{ID: "r-1"}})
	d.Close()

	if sink.count() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sink.count())
	}
	if sink.evts[0].Kind != EventCreated || sink.evts[1].Kind != EventApproved {
		t.Fatalf("events out of order: %v, %v", sink.evts[0].Kind, sink.evts[1].Kind)
	}
	if sink.evts[0].At.IsZero() {
		t.Fatal("expected At to be stamped on publish")
	}
}

func TestDispatcherSwallowsNotifierErrors(t *testing.T) {
	sink := &capture{}
	// A failing notifier must not stop delivery to the next one, and the
	// publisher must never see the failure.
	d := NewDispatcher(failing{}, sink)

	d.Publish(Event{Kind: EventRejected, Request: dispatch.Request{ID: "r-2"}})
	d.Publish(Event{Kind: EventRework, Request: dispatch.Request{ID: "r-3"}})
	d.Close()

	if sink.count() != 2 {
		t.Fatalf("expected 2 deliveries despite failures, got %d", sink.count())
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	sink := &capture{}
	d := NewDispatcher(sink)
	d.Close()

	d.Publish(Event{Kind: EventDelivered, Request: dispatch.Request{ID: "r-4"}})
	time.Sleep(10 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("expected no deliveries after close, got %d", sink.count())
	}
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{}, nil
}

func TestSNSNotifierPublishesEventJSON(t *testing.T) {
	fake := &fakeSNS{}
	n := NewSNSNotifier(fake, "arn:aws:sns:eu-central-1:123:doctrack-events")

	evt := Event{
		Kind:    EventApproved,
		Request: dispatch.Request{ID: "r-5", Status: dispatch.StatusApproved, TrackingNumber: "TH123"},
		At:      time.Now().UTC(),
	}
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected one publish, got %d", len(fake.inputs))
	}
	in := fake.inputs[0]
	if *in.TopicArn != "arn:aws:sns:eu-central-1:123:doctrack-events" {
		t.Fatalf("unexpected topic: %s", *in.TopicArn)
	}
	if attr, ok := in.MessageAttributes["kind"]; !ok || *attr.StringValue != "approved" {
		t.Fatalf("kind attribute missing or wrong: %v", in.MessageAttributes)
	}
}

func TestSNSNotifierWrapsErrors(t *testing.T) {
	fake := &fakeSNS{err: errors.New("throttled")}
	n := NewSNSNotifier(fake, "arn:topic")
	if err := n.Notify(context.Background(), Event{Kind: EventCreated}); err == nil {
		t.Fatal("expected error")
	}
}
