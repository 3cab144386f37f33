package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/booking-approval/internal/domain/event"
)

func newTestEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "bo-acme-20260101000000-abcd1234", nil)
}

func TestDispatch_RunsTypedThenWildcard(t *testing.T) {
	d := NewDispatcher(WithLogger(zaptest.NewLogger(t)))

	var order []string
	d.SubscribeNamed(AnyType, "audit", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "audit")
		return nil
	})
	d.SubscribeNamed(event.TypeWorkflowTransitioned, "history", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "history")
		return nil
	})
	d.SubscribeNamed(event.TypeWorkflowCreated, "other", func(ctx context.Context, evt *event.Event) error {
		order = append(order, "other")
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowTransitioned)))
	assert.Equal(t, []string{"history", "audit"}, order)
}

func TestDispatch_JoinsErrorsAndContinues(t *testing.T) {
	d := NewDispatcher()
	errBus := errors.New("bus down")

	var ran atomic.Int32
	d.SubscribeNamed(event.TypeWorkflowFinalized, "bus", func(ctx context.Context, evt *event.Event) error {
		ran.Add(1)
		return errBus
	})
	d.SubscribeNamed(event.TypeWorkflowFinalized, "panicky", func(ctx context.Context, evt *event.Event) error {
		ran.Add(1)
		panic("boom")
	})
	d.SubscribeNamed(event.TypeWorkflowFinalized, "history", func(ctx context.Context, evt *event.Event) error {
		ran.Add(1)
		return nil
	})

	err := d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowFinalized))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBus)
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, int32(3), ran.Load())
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.SubscribeNamed(event.TypeWorkflowCreated, "h", func(ctx context.Context, evt *event.Event) error {
		called = true
		return nil
	})
	d.Unsubscribe(event.TypeWorkflowCreated, "h")

	require.NoError(t, d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowCreated)))
	assert.False(t, called)
	assert.Empty(t, d.ListHandlers(event.TypeWorkflowCreated))
}

func TestDispatchAsync_CloseWaits(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	count := 0
	d.SubscribeNamed(event.TypeWorkflowTransitioned, "counter", func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	for i := 0; i < 10; i++ {
		d.DispatchAsync(context.Background(), newTestEvent(event.TypeWorkflowTransitioned))
	}
	require.NoError(t, d.Close())

	mu.Lock()
	assert.Equal(t, 10, count)
	mu.Unlock()

	assert.ErrorIs(t, d.Dispatch(context.Background(), newTestEvent(event.TypeWorkflowTransitioned)), ErrClosed)
	assert.Error(t, d.Close())
}

func TestListHandlers_HidesFunctions(t *testing.T) {
	d := NewDispatcher()
	d.SubscribeNamed(event.TypeWorkflowCreated, "named", func(ctx context.Context, evt *event.Event) error { return nil })

	infos := d.ListHandlers(event.TypeWorkflowCreated)
	require.Len(t, infos, 1)
	assert.Equal(t, "named", infos[0].Name)
	assert.Nil(t, infos[0].Handler)
}
