package crm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domorder "github.com/solentline/paybridge/internal/domain/order"
	domoutbox "github.com/solentline/paybridge/internal/domain/outbox"
	"github.com/solentline/paybridge/internal/observability"
)

type fakeMirror struct {
	calls int
	err   error
	last  domorder.OrderSettledEvent
}

func (f *fakeMirror) MirrorOrder(_ context.Context, evt domorder.OrderSettledEvent) error {
	f.calls++
	f.last = evt
	return f.err
}

type fakeSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func (f *fakeSubscriber) Subscribe(eventName string, h domoutbox.Handler) {
	if f.handlers == nil {
		f.handlers = map[string]domoutbox.Handler{}
	}
	f.handlers[eventName] = h
}

func TestWorkerMirrorsSettledOrders(t *testing.T) {
	mirror := &fakeMirror{}
	sub := &fakeSubscriber{}
	New(sub, mirror, observability.Nop()).Start()

	h, ok := sub.handlers["order.settled"]
	require.True(t, ok)

	evt := domorder.NewOrderSettledEvent("ord_1", "cs_1", "crm_7", 2400, "GBP")
	require.NoError(t, h(context.Background(), evt))
	assert.Equal(t, 1, mirror.calls)
	assert.Equal(t, "ord_1", mirror.last.OrderID)
}

func TestWorkerSwallowsMirrorFailures(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("crm down")}
	sub := &fakeSubscriber{}
	New(sub, mirror, observability.Nop()).Start()

	evt := domorder.NewOrderSettledEvent("ord_1", "cs_1", "", 2400, "GBP")
	err := sub.handlers["order.settled"](context.Background(), evt)
	assert.NoError(t, err)
	assert.Equal(t, 1, mirror.calls)
}

func TestWorkerIgnoresForeignEvents(t *testing.T) {
	mirror := &fakeMirror{}
	sub := &fakeSubscriber{}
	New(sub, mirror, observability.Nop()).Start()

	err := sub.handlers["order.settled"](context.Background(), fakeEvent{})
	assert.NoError(t, err)
	assert.Zero(t, mirror.calls)
}

type fakeEvent struct{}

func (fakeEvent) EventName() string { return "order.settled" }
