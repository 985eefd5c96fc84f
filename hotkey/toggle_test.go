package hotkey

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hold = 400 * time.Millisecond

func next(t *testing.T, actions <-chan Action) Action {
	t.Helper()
	select {
	case a := <-actions:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for action")
	}
	return 0
}

func TestWatchTap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fk := NewFake()
	clock := clockwork.NewFakeClock()
	actions := Watch(ctx, fk, clock, hold)

	fk.SimKeydown()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(hold / 2)
	fk.SimKeyup()
	assert.Equal(t, Tap, next(t, actions))

	fk.SimKeydown()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	fk.SimKeyup()
	assert.Equal(t, Tap, next(t, actions))
}

func TestWatchHold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fk := NewFake()
	clock := clockwork.NewFakeClock()
	actions := Watch(ctx, fk, clock, hold)

	fk.SimKeydown()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(hold)
	assert.Equal(t, HoldStart, next(t, actions))
	fk.SimKeyup()
	assert.Equal(t, HoldEnd, next(t, actions))
}

func TestWatchStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	actions := Watch(ctx, NewFake(), clockwork.NewFakeClock(), hold)
	cancel()
	select {
	case _, ok := <-actions:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "tap", Tap.String())
	assert.Equal(t, "hold_end", HoldEnd.String())
	assert.Equal(t, "none", Action(0).String())
}
