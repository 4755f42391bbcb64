package readiness

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
)

// MarkerSelectors are elements that most marketplace pages render once their
// product grid or search box is ready.
var MarkerSelectors = []string{
	"[data-widget]",
	".product-card",
	".goods-tile",
	"[data-testid]",
	".catalog-product",
	"input[type='search']",
	"input[placeholder*='поиск']",
	"input[placeholder*='search']",
}

type Config struct {
	// Budget is split between the DOM and network idle waits.
	Budget          time.Duration
	SettleInterval  time.Duration
	HeightThreshold float64
	SelectorTimeout time.Duration
	FinalPause      time.Duration
	Markers         []string
}

func DefaultConfig() Config {
	return Config{
		Budget:          15 * time.Second,
		SettleInterval:  3 * time.Second,
		HeightThreshold: 100,
		SelectorTimeout: 3 * time.Second,
		FinalPause:      2 * time.Second,
		Markers:         MarkerSelectors,
	}
}

// Default builds the standard waiter: DOM loaded, network idle, height
// stability, known selectors, then a final pause.
func Default(cfg Config, sleep Sleeper, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "readiness")
	if len(cfg.Markers) == 0 {
		cfg.Markers = MarkerSelectors
	}
	third := cfg.Budget / 3

	return &Waiter{
		Steps: []Step{
			{Probe: LoadStateProbe{State: dom.LoadStateDOMContentLoaded, Timeout: third}, Timeout: third + time.Second},
			{Probe: LoadStateProbe{State: dom.LoadStateNetworkIdle, Timeout: third}, Timeout: third + time.Second},
			{Probe: HeightProbe{Interval: cfg.SettleInterval, Threshold: cfg.HeightThreshold, Sleep: sleep}, Timeout: cfg.SettleInterval + 5*time.Second},
			{
				Probe:   SelectorProbe{Selectors: cfg.Markers, PerSelector: cfg.SelectorTimeout, Logger: logger},
				Timeout: time.Duration(len(cfg.Markers))*cfg.SelectorTimeout + time.Second,
			},
		},
		FinalPause: cfg.FinalPause,
		Sleep:      sleep,
		Logger:     logger,
	}
}

// ScrollLoader scrolls to the bottom repeatedly to trigger lazy loading and
// stops once the page height stops growing.
type ScrollLoader struct {
	Attempts  int
	Pause     time.Duration
	Threshold float64
	Sleep     Sleeper
}

// Load returns how many scrolls produced new content.
func (l ScrollLoader) Load(ctx context.Context, page dom.Page) (int, error) {
	sleep := l.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	grew := 0
	for i := 0; i < l.Attempts; i++ {
		before, err := height(page)
		if err != nil {
			return grew, err
		}
		if _, err := page.Evaluate(dom.ScriptScrollToBottom); err != nil {
			return grew, err
		}
		if err := sleep(ctx, l.Pause); err != nil {
			return grew, err
		}
		after, err := height(page)
		if err != nil {
			return grew, err
		}
		if math.Abs(after-before) < l.Threshold || after == before {
			break
		}
		grew++
	}
	return grew, nil
}
