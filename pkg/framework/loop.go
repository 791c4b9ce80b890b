package framework

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the polling interval when none is set.
const DefaultInterval = 10 * time.Millisecond

// Loop polls registered Pollers from a single goroutine, on a fixed interval
// or immediately when triggered. Everything a Poller owns is therefore only
// touched by one goroutine.
type Loop struct {
	Interval time.Duration

	pollers []Poller
	runners []Runnable

	hooks []func(context.Context)
	lock  sync.Mutex

	wakeUpCh chan struct{}
}

type loopCtl struct {
	*Loop
}

var (
	loopCtxKey = &Loop{}
)

// LoopCtlFrom gets LoopControl from context.
func LoopCtlFrom(ctx context.Context) LoopControl {
	ctl, _ := ctx.Value(loopCtxKey).(LoopControl)
	return ctl
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{
		Interval: DefaultInterval,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddPoller registers pollers. Only Poll is used, a Poller which is also
// Runnable must be added with AddRunnable to be started.
func (l *Loop) AddPoller(pollers ...Poller) *Loop {
	l.pollers = append(l.pollers, pollers...)
	return l
}

// AddRunnable adds Runnable implementions.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable. It returns when ctx is done or any Runnable
// stops with an error.
func (l *Loop) Run(ctx context.Context) error {
	l.lock.Lock()
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	l.lock.Unlock()

	runCtx, cancel := context.WithCancel(context.WithValue(ctx, loopCtxKey, &loopCtl{l}))
	defer cancel()

	runner := NewRunnerWith(runCtx)
	for _, r := range l.runners {
		runner.Go(&stopOnError{Runnable: r, cancel: cancel})
	}

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.runIteration(runCtx)
	for {
		select {
		case <-runCtx.Done():
			cancel()
			if err := runner.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			l.runIteration(runCtx)
		case <-l.wakeUpCh:
			l.runIteration(runCtx)
		}
	}
}

// Post implements LoopControl.
func (l *Loop) Post(fns ...func(context.Context)) {
	l.lock.Lock()
	l.hooks = append(l.hooks, fns...)
	l.lock.Unlock()
	l.TriggerNext()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	l.lock.Lock()
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	ch := l.wakeUpCh
	l.lock.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (l *Loop) runIteration(ctx context.Context) {
	l.lock.Lock()
	hooks := l.hooks
	l.hooks = nil
	l.lock.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	for _, p := range l.pollers {
		if err := p.Poll(ctx); err != nil {
			glog.Errorf("poll error: %v", err)
		}
	}
}

type stopOnError struct {
	Runnable
	cancel func()
}

func (r *stopOnError) Name() string {
	if named, ok := r.Runnable.(Named); ok {
		return named.Name()
	}
	return ""
}

func (r *stopOnError) Run(ctx context.Context) error {
	err := r.Runnable.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Warningf("%s stopped: %v", r.Name(), err)
		r.cancel()
	}
	return err
}
