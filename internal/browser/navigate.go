package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/readiness"
)

// Navigator loads URLs with retries and waits out anti-bot interstitials.
type Navigator struct {
	Retries int
	Timeout time.Duration
	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration
	// ChallengeSelectors mark an interstitial that must disappear before the
	// page is usable.
	ChallengeSelectors []string
	ChallengeTimeout   time.Duration
	Sleep              readiness.Sleeper
	Logger             *slog.Logger
}

func (n *Navigator) Goto(ctx context.Context, page dom.Page, url string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := n.Sleep
	if sleep == nil {
		sleep = readiness.Sleep
	}
	retries := n.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i)*n.Backoff); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := page.Goto(url, n.Timeout)
		if err == nil {
			n.waitOutChallenge(page, logger)
			return nil
		}
		lastErr = err
		logger.Error("navigation failed", "error", err, "attempt", i+1, "url", url)
	}

	return fmt.Errorf("failed after %d attempts: %w", retries, lastErr)
}

func (n *Navigator) waitOutChallenge(page dom.Page, logger *slog.Logger) {
	for _, sel := range n.ChallengeSelectors {
		el, err := page.Query(sel)
		if err != nil || el == nil {
			continue
		}
		logger.Info("anti-bot interstitial detected, waiting", "selector", sel)
		err = page.WaitForSelector(sel, dom.SelectorHidden, n.ChallengeTimeout)
		switch {
		case err == nil:
			logger.Info("anti-bot interstitial cleared")
		case errors.Is(err, dom.ErrTimeout):
			logger.Warn("anti-bot interstitial still present", "selector", sel)
		default:
			logger.Warn("failed waiting for interstitial", "error", err)
		}
	}
}

type mouseMover interface {
	MouseMove(x, y float64) error
}

// Humanize moves the pointer around and scrolls a little, the way a person
// skimming the page would.
func Humanize(ctx context.Context, page dom.Page, sleep readiness.Sleeper) error {
	if sleep == nil {
		sleep = readiness.Sleep
	}
	if m, ok := page.(mouseMover); ok {
		for i := 0; i < 3; i++ {
			if err := m.MouseMove(float64(100+i*200), float64(100+i*150)); err != nil {
				return err
			}
			if err := sleep(ctx, time.Duration(200+i*100)*time.Millisecond); err != nil {
				return err
			}
		}
	}
	if _, err := page.Evaluate("window.scrollBy(0, Math.random() * 300)"); err != nil && !errors.Is(err, dom.ErrUnsupported) {
		return err
	}
	return sleep(ctx, time.Second)
}
