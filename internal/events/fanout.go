package events

import (
	"context"
	"encoding/json"
	"errors"

	"storefront/internal/checkout"
	"storefront/internal/realtime"
)

// Fanout delivers each event to every publisher in order.
type Fanout struct {
	publishers []checkout.Publisher
}

// NewFanout constructs a Fanout. Nil publishers are skipped.
func NewFanout(publishers ...checkout.Publisher) *Fanout {
	out := make([]checkout.Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Fanout{publishers: out}
}

// Publish forwards the event to each publisher, collecting errors so all of them get a chance to run.
func (f *Fanout) Publish(ctx context.Context, evt checkout.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcaster pushes messages to connected subscribers.
type Broadcaster interface {
	Broadcast(msg realtime.Message) bool
}

// ErrBroadcastDropped means the subscriber queue was full.
var ErrBroadcastDropped = errors.New("broadcast queue full, event dropped")

// BroadcastPublisher pushes events to WebSocket subscribers.
type BroadcastPublisher struct {
	broadcaster Broadcaster
}

// NewBroadcastPublisher constructs a BroadcastPublisher.
func NewBroadcastPublisher(b Broadcaster) *BroadcastPublisher {
	return &BroadcastPublisher{broadcaster: b}
}

func (p *BroadcastPublisher) Publish(_ context.Context, evt checkout.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if !p.broadcaster.Broadcast(realtime.Message{UserID: evt.UserID, Data: data}) {
		return ErrBroadcastDropped
	}
	return nil
}
