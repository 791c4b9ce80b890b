// Package framework provides the cooperative polling loop and the runner
// used to host an L0 link and its helpers.
package framework

import "context"

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// Poller is called from the loop goroutine on every iteration. It must not
// block.
type Poller interface {
	Poll(context.Context) error
}

// PollFunc is the func form of Poller.
type PollFunc func(context.Context) error

// Poll implements Poller.
func (f PollFunc) Poll(ctx context.Context) error {
	return f(ctx)
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

// LoopControl exposes access to the polling loop.
type LoopControl interface {
	// Post schedules one-shot funcs to run on the loop goroutine
	// before the next iteration polls.
	Post(fns ...func(context.Context))
	// TriggerNext schedules the next iteration immediately.
	TriggerNext()
}
