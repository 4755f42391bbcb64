package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1280, opts.ViewportWidth)
	assert.Equal(t, 900, opts.ViewportHeight)
	assert.Equal(t, "ru-RU", opts.Locale)
	assert.Contains(t, opts.UserAgent, "Chrome/125")
	assert.Contains(t, opts.launchArgs(), "--disable-blink-features=AutomationControlled")
	assert.Contains(t, opts.launchArgs(), "--window-size=1280,900")
}

func TestSession_CloseWithoutInit(t *testing.T) {
	s := NewSession(nil, nil)

	assert.Equal(t, StateClosed, s.State())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_EnsureReadyHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSession(nil, nil).EnsureReady(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// flakyPage fails the first n navigations.
type flakyPage struct {
	*dom.Snapshot
	mu       sync.Mutex
	failures int
	attempts int
}

func (p *flakyPage) Goto(url string, timeout time.Duration) error {
	p.mu.Lock()
	p.attempts++
	fail := p.attempts <= p.failures
	p.mu.Unlock()
	if fail {
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	return p.Snapshot.Goto(url, timeout)
}

type sleeps struct {
	mu    sync.Mutex
	total []time.Duration
}

func (s *sleeps) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = append(s.total, d)
	return ctx.Err()
}

func TestNavigator_RetriesWithBackoff(t *testing.T) {
	page := &flakyPage{Snapshot: dom.NewSnapshot().Add("https://shop.example/", "<html><body>ok</body></html>"), failures: 2}
	sl := &sleeps{}
	n := &Navigator{Retries: 3, Backoff: time.Second, Sleep: sl.Sleep}

	require.NoError(t, n.Goto(context.Background(), page, "https://shop.example/"))

	assert.Equal(t, 3, page.attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sl.total)
	assert.Equal(t, "https://shop.example/", page.URL())
}

func TestNavigator_GivesUp(t *testing.T) {
	page := &flakyPage{Snapshot: dom.NewSnapshot(), failures: 10}
	sl := &sleeps{}
	n := &Navigator{Retries: 2, Sleep: sl.Sleep}

	err := n.Goto(context.Background(), page, "https://shop.example/")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Equal(t, 2, page.attempts)
}

func TestNavigator_WaitsOutChallenge(t *testing.T) {
	page := dom.NewSnapshot().Add("https://shop.example/", `<html><body><div class="message"><div class="loader"></div></div></body></html>`)
	n := &Navigator{Retries: 1, ChallengeSelectors: []string{".message .loader"}, ChallengeTimeout: time.Millisecond}

	require.NoError(t, n.Goto(context.Background(), page, "https://shop.example/"))
}

func TestHumanize_ScrollsStaticPage(t *testing.T) {
	page := dom.NewSnapshot().Add("https://shop.example/", "<html><body></body></html>")
	require.NoError(t, page.Goto("https://shop.example/", 0))
	sl := &sleeps{}

	require.NoError(t, Humanize(context.Background(), page, sl.Sleep))

	require.NotEmpty(t, page.Actions())
	assert.Equal(t, "scroll", page.Actions()[len(page.Actions())-1].Kind)
	assert.Equal(t, []time.Duration{time.Second}, sl.total)
}
