package fn

import (
	"context"
	"sync"
	"time"
)

// ContextGuard is an embeddable struct that owns the quit channel and wait
// group of a long running subsystem. It can hand out contexts that are
// cancelled as soon as the subsystem shuts down, and it tracks the
// background goroutines the subsystem launches so Stop can wait on them.
type ContextGuard struct {
	// DefaultTimeout is the timeout that is applied to contexts created
	// with WithCtxQuit.
	DefaultTimeout time.Duration

	// Wg tracks every goroutine launched through Goroutine.
	Wg sync.WaitGroup

	// Quit is closed when the owning subsystem is shutting down.
	Quit chan struct{}
}

// NewContextGuard returns a guard with an open quit channel.
func NewContextGuard(defaultTimeout time.Duration) *ContextGuard {
	return &ContextGuard{
		DefaultTimeout: defaultTimeout,
		Quit:           make(chan struct{}),
	}
}

// WithCtxQuit is used to create a cancellable context that will be cancelled
// if the main quit signal is triggered or after the default timeout occurred.
func (g *ContextGuard) WithCtxQuit() (context.Context, func()) {
	timeoutCtx, cancel := context.WithTimeout(
		context.Background(), g.DefaultTimeout,
	)

	g.Wg.Add(1)
	go func() {
		defer cancel()
		defer g.Wg.Done()

		select {
		case <-g.Quit:
		case <-timeoutCtx.Done():
		}
	}()

	return timeoutCtx, cancel
}

// WithCtxQuitNoTimeout is used to create a cancellable context that will be
// cancelled if the main quit signal is triggered.
func (g *ContextGuard) WithCtxQuitNoTimeout() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())

	g.Wg.Add(1)
	go func() {
		defer cancel()
		defer g.Wg.Done()

		select {
		case <-g.Quit:
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Goroutine runs f in a new goroutine that is tracked by the wait group. The
// context handed to f is cancelled once the guard quits. Errors returned by f
// are passed to onErr if it is non-nil.
func (g *ContextGuard) Goroutine(f func(ctx context.Context) error,
	onErr func(error)) {

	g.Wg.Add(1)
	go func() {
		defer g.Wg.Done()

		ctx, cancel := g.WithCtxQuitNoTimeout()
		defer cancel()

		if err := f(ctx); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Stop closes the quit channel and waits for all tracked goroutines to exit.
// It must only be called once.
func (g *ContextGuard) Stop() {
	close(g.Quit)
	g.Wg.Wait()
}
