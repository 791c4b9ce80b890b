package framework

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopPollsAndPosts(t *testing.T) {
	loop := NewLoop()
	loop.Interval = time.Hour

	var polls atomic.Int32
	loop.AddPoller(PollFunc(func(ctx context.Context) error {
		polls.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	ran := make(chan LoopControl, 1)
	loop.Post(func(ctx context.Context) {
		ran <- LoopCtlFrom(ctx)
	})
	select {
	case ctl := <-ran:
		require.NotNil(t, ctl)
	case <-time.After(time.Second):
		t.Fatal("posted func not run")
	}

	before := polls.Load()
	loop.TriggerNext()
	deadline := time.Now().Add(time.Second)
	for polls.Load() == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, polls.Load() > before)

	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestLoopStopsOnRunnableError(t *testing.T) {
	failure := errors.New("link down")
	loop := NewLoop()
	loop.AddRunnable(NamedRun("failing", RunFunc(func(ctx context.Context) error {
		return failure
	})))
	loop.AddRunnable(RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, failure))
	case <-time.After(time.Second):
		t.Fatal("loop didn't stop")
	}
}

func TestLoopPollErrorKeepsRunning(t *testing.T) {
	loop := NewLoop()
	loop.Interval = time.Millisecond
	var polls atomic.Int32
	loop.AddPoller(PollFunc(func(context.Context) error {
		polls.Add(1)
		return errors.New("transient")
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, loop.Run(ctx))
	require.True(t, polls.Load() > 1)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil).Aggregate())
	e1, e2 := errors.New("e1"), errors.New("e2")
	err := errs.Add(e1).Aggregate()
	require.Equal(t, "e1", err.Error())
	err = errs.Add(e2, nil).Aggregate()
	require.Equal(t, "multiple errors:\ne1\ne2", err.Error())
	require.True(t, errors.Is(err, e2))
}

type pollRunner struct {
	polls atomic.Int32
	runs  atomic.Int32
}

func (p *pollRunner) Poll(context.Context) error {
	p.polls.Add(1)
	return nil
}

func (p *pollRunner) Run(context.Context) error {
	p.runs.Add(1)
	return errors.New("not expected to run")
}

func TestLoopAddPollerOnlyPolls(t *testing.T) {
	p := &pollRunner{}
	loop := NewLoop()
	loop.Interval = time.Millisecond
	loop.AddPoller(p)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Equal(t, context.DeadlineExceeded, loop.Run(ctx))
	require.True(t, p.polls.Load() > 1)
	require.Zero(t, p.runs.Load())
}
