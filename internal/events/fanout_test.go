package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"storefront/internal/checkout"
	"storefront/internal/realtime"

	"github.com/stretchr/testify/require"
)

type spyPublisher struct {
	got []checkout.Event
	err error
}

func (s *spyPublisher) Publish(_ context.Context, evt checkout.Event) error {
	s.got = append(s.got, evt)
	return s.err
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("redis down")
	first := &spyPublisher{err: boom}
	second := &spyPublisher{}

	err := NewFanout(first, nil, second).Publish(context.Background(), paidEvent)
	require.ErrorIs(t, err, boom)
	require.Len(t, first.got, 1)
	require.Len(t, second.got, 1)
}

type spyBroadcaster struct {
	msgs []realtime.Message
	full bool
}

func (s *spyBroadcaster) Broadcast(msg realtime.Message) bool {
	if s.full {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

func TestBroadcastPublisher(t *testing.T) {
	b := &spyBroadcaster{}
	pub := NewBroadcastPublisher(b)

	require.NoError(t, pub.Publish(context.Background(), paidEvent))
	require.Len(t, b.msgs, 1)
	require.Equal(t, "u1", b.msgs[0].UserID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b.msgs[0].Data, &decoded))
	require.Equal(t, "order.paid", decoded["type"])

	b.full = true
	require.ErrorIs(t, pub.Publish(context.Background(), paidEvent), ErrBroadcastDropped)
}
