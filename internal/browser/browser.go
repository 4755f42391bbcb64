package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/playwright-community/playwright-go"
)

// stealthScript hides the most common automation fingerprints before any
// page script runs.
const stealthScript = `
delete navigator.__proto__.webdriver;
Object.defineProperty(navigator, 'webdriver', { get: () => false });
window.chrome = { runtime: {} };
`

type State int

const (
	StateClosed State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	ExtraArgs      []string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		ViewportWidth:  1280,
		ViewportHeight: 900,
		TimezoneID:     "Europe/Moscow",
		Locale:         "ru-RU",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "ru-RU,ru;q=0.9,en;q=0.8",
			"DNT":             "1",
		},
	}
}

func (o *Options) launchArgs() []string {
	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-infobars",
		fmt.Sprintf("--window-size=%d,%d", o.ViewportWidth, o.ViewportHeight),
	}
	return append(args, o.ExtraArgs...)
}

// Session lazily owns one playwright driver, browser, context and page.
// It is safe for concurrent use; operations are serialized by the caller.
type Session struct {
	opts   *Options
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

// NewSession creates a new browser session; the browser starts on first use
func NewSession(opts *Options, logger *slog.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EnsureReady starts the browser on first use and returns the page.
func (s *Session) EnsureReady(ctx context.Context) (dom.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady && s.page != nil {
		return &pwPage{page: s.page}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.state = StateInitializing
	if err := s.start(); err != nil {
		s.logger.Error("browser initialization failed", "error", err)
		if cerr := s.teardown(); cerr != nil {
			s.logger.Warn("cleanup after failed initialization", "error", cerr)
		}
		return nil, err
	}
	s.state = StateReady
	s.logger.Info("browser ready", "headless", s.opts.Headless, "locale", s.opts.Locale)
	return &pwPage{page: s.page}, nil
}

func (s *Session) start() error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}
	s.pw = pw

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.opts.Headless),
		Args:     s.opts.launchArgs(),
	}
	if s.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: s.opts.ProxyServer}
	}

	s.browser, err = pw.Chromium.Launch(launchOpts)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(s.opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		BypassCSP:         playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  s.opts.ViewportWidth,
			Height: s.opts.ViewportHeight,
		},
		ExtraHttpHeaders: s.opts.ExtraHeaders,
	}
	if s.opts.Locale != "" {
		contextOpts.Locale = playwright.String(s.opts.Locale)
	}
	if s.opts.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(s.opts.TimezoneID)
	}

	s.context, err = s.browser.NewContext(contextOpts)
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	if err := s.context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		return fmt.Errorf("failed to install init script: %w", err)
	}

	s.page, err = s.context.NewPage()
	if err != nil {
		return fmt.Errorf("failed to create new page: %w", err)
	}
	s.page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))
	return nil
}

// Close releases the page, context, browser and driver in that order. Every
// step is attempted even if an earlier one fails, and the session always ends
// up closed. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed && s.pw == nil {
		return nil
	}
	err := s.teardown()
	if err != nil {
		s.logger.Warn("browser closed with errors", "error", err)
	} else {
		s.logger.Info("browser closed")
	}
	return err
}

func (s *Session) teardown() error {
	var errs []error

	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	s.page, s.context, s.browser, s.pw = nil, nil, nil, nil
	s.state = StateClosed
	return errors.Join(errs...)
}
