// Package readiness decides when a JavaScript rendered page has settled
// enough to extract from.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
)

// Signal is what a probe learned about the page.
type Signal int

const (
	// Continue means run the next probe.
	Continue Signal = iota
	// Settled means the page is stable; skip straight to the final pause.
	Settled
)

func (s Signal) String() string {
	if s == Settled {
		return "settled"
	}
	return "continue"
}

// Probe inspects a page for one readiness signal.
type Probe interface {
	Name() string
	Run(ctx context.Context, page dom.Page) (Signal, error)
}

// Step is a probe with its own time box.
type Step struct {
	Probe   Probe
	Timeout time.Duration
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Waiter runs its steps in order, then applies FinalPause.
type Waiter struct {
	Steps      []Step
	FinalPause time.Duration
	Sleep      Sleeper
	Logger     *slog.Logger
}

// Settle waits for page to settle. Probe failures and timeouts are logged and
// skipped; only cancellation of ctx is returned.
func (w *Waiter) Settle(ctx context.Context, page dom.Page) error {
	logger := w.logger()
	start := time.Now()

	for _, step := range w.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		signal, err := runStep(ctx, step, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debug("readiness probe did not pass", "probe", step.Probe.Name(), "error", err)
			continue
		}
		if signal == Settled {
			logger.Debug("page settled", "probe", step.Probe.Name())
			break
		}
	}

	sleep := w.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if err := sleep(ctx, w.FinalPause); err != nil {
		return err
	}

	logger.Debug("readiness wait finished", "elapsed", time.Since(start))
	return nil
}

func (w *Waiter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default().With("component", "readiness")
}

type stepResult struct {
	signal Signal
	err    error
}

func runStep(ctx context.Context, step Step, page dom.Page) (Signal, error) {
	if step.Timeout <= 0 {
		return step.Probe.Run(ctx, page)
	}

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		signal, err := step.Probe.Run(stepCtx, page)
		done <- stepResult{signal, err}
	}()

	select {
	case r := <-done:
		return r.signal, r.err
	case <-stepCtx.Done():
		return Continue, fmt.Errorf("%w: %s after %s", dom.ErrTimeout, step.Probe.Name(), step.Timeout)
	}
}

// LoadStateProbe waits for a browser load state.
type LoadStateProbe struct {
	State   dom.LoadState
	Timeout time.Duration
}

func (p LoadStateProbe) Name() string { return "load_state:" + string(p.State) }

func (p LoadStateProbe) Run(_ context.Context, page dom.Page) (Signal, error) {
	return Continue, page.WaitForLoadState(p.State, p.Timeout)
}

// HeightProbe measures the document height twice, Interval apart. A change
// smaller than Threshold pixels means the page is settled.
type HeightProbe struct {
	Interval  time.Duration
	Threshold float64
	Sleep     Sleeper
}

func (p HeightProbe) Name() string { return "height_stability" }

func (p HeightProbe) Run(ctx context.Context, page dom.Page) (Signal, error) {
	before, err := height(page)
	if err != nil {
		return Continue, err
	}

	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	if err := sleep(ctx, p.Interval); err != nil {
		return Continue, err
	}

	after, err := height(page)
	if err != nil {
		return Continue, err
	}

	if math.Abs(after-before) < p.Threshold {
		return Settled, nil
	}
	return Continue, nil
}

// SelectorProbe looks for any known marketplace element. Finding one is
// logged as a positive signal; it never settles the page on its own.
type SelectorProbe struct {
	Selectors   []string
	PerSelector time.Duration
	Logger      *slog.Logger
}

func (p SelectorProbe) Name() string { return "known_selectors" }

func (p SelectorProbe) Run(ctx context.Context, page dom.Page) (Signal, error) {
	for _, sel := range p.Selectors {
		if err := ctx.Err(); err != nil {
			return Continue, err
		}
		if err := page.WaitForSelector(sel, dom.SelectorAttached, p.PerSelector); err == nil {
			if p.Logger != nil {
				p.Logger.Debug("found marketplace element", "selector", sel)
			}
			return Continue, nil
		}
	}
	return Continue, fmt.Errorf("none of %d known selectors present", len(p.Selectors))
}

func height(page dom.Page) (float64, error) {
	v, err := page.Evaluate(dom.ScriptScrollHeight)
	if err != nil {
		return 0, fmt.Errorf("failed to measure page height: %w", err)
	}
	n, ok := dom.Number(v)
	if !ok {
		return 0, fmt.Errorf("unexpected page height %v", v)
	}
	return n, nil
}
