package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(_ context.Context, d time.Duration) {
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
}

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestRelativeFirstWaitDoesNotSleep(t *testing.T) {
	clk := newFakeClock()
	timer := New(5*time.Second, Relative, clk)

	slept := timer.Wait(context.Background())

	assert.Zero(t, slept)
	assert.Empty(t, clk.sleeps)
	end, ok := timer.LastWaitEnd()
	require.True(t, ok)
	assert.Equal(t, clk.now, end)
}

func TestRelativeSleepsRemainder(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    time.Duration
	}{
		{name: "partial", elapsed: 3 * time.Second, want: 7 * time.Second},
		{name: "none elapsed", elapsed: 0, want: 10 * time.Second},
		{name: "exactly elapsed", elapsed: 10 * time.Second, want: 0},
		{name: "over elapsed", elapsed: 25 * time.Second, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			timer := New(10*time.Second, Relative, clk)
			timer.Prime()
			t0, _ := timer.LastWaitEnd()

			clk.advance(tt.elapsed)
			callTime := clk.Now()
			slept := timer.Wait(context.Background())

			assert.Equal(t, tt.want, slept)
			end, _ := timer.LastWaitEnd()
			assert.Equal(t, callTime.Add(tt.want), end)
			assert.False(t, end.Before(t0))
		})
	}
}

func TestAbsoluteAlwaysSleepsFullDuration(t *testing.T) {
	clk := newFakeClock()
	timer := New(0, Relative, clk)
	ctx := context.Background()

	assert.Equal(t, 4*time.Second, timer.WaitFor(ctx, 4*time.Second, Absolute))
	assert.Equal(t, 4*time.Second, timer.WaitFor(ctx, 4*time.Second, Absolute))
	clk.advance(time.Minute)
	assert.Equal(t, 4*time.Second, timer.WaitFor(ctx, 4*time.Second, Absolute))

	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second, 4 * time.Second}, clk.sleeps)
}

func TestNonPositiveDurationDisablesPacingButRecordsEnd(t *testing.T) {
	clk := newFakeClock()
	timer := New(0, Relative, clk)
	ctx := context.Background()

	assert.Zero(t, timer.Wait(ctx))
	clk.advance(time.Second)
	assert.Zero(t, timer.WaitFor(ctx, -time.Second, Absolute))

	assert.Empty(t, clk.sleeps)
	end, ok := timer.LastWaitEnd()
	require.True(t, ok)
	assert.Equal(t, clk.now, end)
}

func TestLastWaitEndBeforeAnyWait(t *testing.T) {
	timer := New(time.Second, Relative, newFakeClock())
	_, ok := timer.LastWaitEnd()
	assert.False(t, ok)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "relative", Relative.String())
	assert.Equal(t, "absolute", Absolute.String())
}
