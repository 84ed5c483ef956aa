package badge

import (
	"context"
	"errors"
	"time"

	"github.com/ardnew/sysbadge/pkg"
)

// DefaultDebounce is the redraw window opened by the first press of a burst.
const DefaultDebounce = 500 * time.Millisecond

// Runner is the badge's main loop. Every press is applied as it arrives, but
// the panel is repainted at most once per debounce window, counted from the
// first press after the last repaint.
type Runner struct {
	badge    *Badge
	buttons  *Buttons
	debounce time.Duration
	wake     chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDebounce sets the redraw window.
func WithDebounce(d time.Duration) RunnerOption {
	return func(r *Runner) { r.debounce = d }
}

// NewRunner returns a loop applying presses from buttons to b.
func NewRunner(b *Badge, buttons *Buttons, opts ...RunnerOption) *Runner {
	r := &Runner{
		badge:    b,
		buttons:  buttons,
		debounce: DefaultDebounce,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wake asks the loop to repaint now. It never blocks.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run draws the initial screen and serves presses until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentBadge, "runner started", "debounce", r.debounce)
	r.draw(ctx)

	var window <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case btn := <-r.buttons.Presses():
			if _, err := r.badge.Press(ctx, btn); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				pkg.LogWarn(pkg.ComponentBadge, "press dropped", "button", btn.String(), "error", err)
				continue
			}
			if window == nil {
				window = time.After(r.debounce)
			}
		case <-window:
			window = nil
			r.draw(ctx)
		case <-r.wake:
			r.draw(ctx)
		}
	}
}

func (r *Runner) draw(ctx context.Context) {
	if _, err := r.badge.Draw(ctx); err != nil && !errors.Is(err, context.Canceled) {
		pkg.LogWarn(pkg.ComponentBadge, "draw failed", "error", err)
	}
}
