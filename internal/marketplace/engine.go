// Package marketplace drives a browser session through arbitrary marketplace
// sites: it infers each site's structure once, then searches, filters,
// paginates and extracts products and reviews using the inferred selectors
// with fallback ladders.
package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/maltedev/marketplace-agent/internal/browser"
	"github.com/maltedev/marketplace-agent/internal/cache"
	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/events"
	"github.com/maltedev/marketplace-agent/internal/inference"
	"github.com/maltedev/marketplace-agent/internal/llm"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/ratelimit"
	"github.com/maltedev/marketplace-agent/internal/readiness"
	"github.com/maltedev/marketplace-agent/internal/sanitize"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

type Config struct {
	MaxResults        int
	MaxReviews        int
	MaxReviewsLimit   int
	ReviewsPerProduct int
	ReviewPacing      time.Duration

	ScrollAttempts  int
	LoadMoreClicks  int
	PaginationPages int

	PageLoadTimeout    time.Duration
	NavigationRetries  int
	NavigationBackoff  time.Duration
	AntiBotWaitTimeout time.Duration
	HTMLBudget         int

	TypingDelay   time.Duration
	InputPause    time.Duration
	LoadMorePause time.Duration
	ScrollPause   time.Duration
	Humanize      bool

	Readiness readiness.Config
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		MaxResults:         10,
		MaxReviews:         20,
		MaxReviewsLimit:    100,
		ReviewsPerProduct:  5,
		ReviewPacing:       time.Second,
		ScrollAttempts:     5,
		LoadMoreClicks:     3,
		PaginationPages:    3,
		PageLoadTimeout:    30 * time.Second,
		NavigationRetries:  2,
		NavigationBackoff:  2 * time.Second,
		AntiBotWaitTimeout: 15 * time.Second,
		HTMLBudget:         sanitize.DefaultBudget,
		TypingDelay:        100 * time.Millisecond,
		InputPause:         500 * time.Millisecond,
		LoadMorePause:      3 * time.Second,
		ScrollPause:        2 * time.Second,
		Humanize:           true,
		Readiness:          readiness.DefaultConfig(),
	}
}

// Deps are the collaborators of an Engine. Session and LLM are required.
type Deps struct {
	Session  dom.Session
	LLM      llm.Client
	Cache    *cache.StructureCache
	Hints    Hints
	Recorder events.Recorder
	// Sleep replaces every pause the engine takes, for tests.
	Sleep  readiness.Sleeper
	Logger *slog.Logger
}

type Engine struct {
	session   dom.Session
	inference *inference.Engine
	cache     *cache.StructureCache
	hints     Hints
	waiter    *readiness.Waiter
	navigator *browser.Navigator
	pacer     *ratelimit.AdaptiveRateLimiter
	recorder  events.Recorder
	sleep     readiness.Sleeper
	cfg       Config
	logger    *slog.Logger

	// mu serializes operations; they all share one page.
	mu sync.Mutex
}

// New creates a new marketplace engine
func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	structures := deps.Cache
	if structures == nil {
		structures = cache.New()
	}
	hints := deps.Hints
	if hints == nil {
		hints = DefaultHints()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = events.NopRecorder{}
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = readiness.Sleep
	}

	pacer := ratelimit.NewAdaptiveRateLimiter(cfg.ReviewPacing, cfg.ReviewPacing)
	pacer.WithSleeper(sleep)

	return &Engine{
		session:   deps.Session,
		inference: inference.New(deps.LLM, structures, logger),
		cache:     structures,
		hints:     hints,
		waiter:    readiness.Default(cfg.Readiness, sleep, logger),
		navigator: &browser.Navigator{
			Retries:            cfg.NavigationRetries,
			Timeout:            cfg.PageLoadTimeout,
			Backoff:            cfg.NavigationBackoff,
			ChallengeSelectors: hints.ChallengeSelectors(),
			ChallengeTimeout:   cfg.AntiBotWaitTimeout,
			Sleep:              sleep,
			Logger:             logger.With("component", "navigator"),
		},
		pacer:    pacer,
		recorder: recorder,
		sleep:    sleep,
		cfg:      cfg,
		logger:   logger.With("component", "marketplace"),
	}
}

// Cache exposes the structure cache, mainly for inspection.
func (e *Engine) Cache() *cache.StructureCache {
	return e.cache
}

// run serializes op, converts panics into internal errors and records the
// outcome.
func (e *Engine) run(ctx context.Context, run models.OperationRun, op func(ctx context.Context) models.ToolResult) (result models.ToolResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run.StartedAt = time.Now()
	logger := e.logger.With("action", run.Action)
	if run.URL != "" {
		logger = logger.With("url", run.URL)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("operation panicked", "panic", r, "stack", string(debug.Stack()))
			result = models.Failure(models.KindInternal, fmt.Sprintf("Internal error: %v", r))
		}

		run.Duration = time.Since(run.StartedAt)
		run.Success = !result.Failed()
		run.ErrorKind = result.Kind
		run.Error = result.Error
		run.Items = itemCount(result.Data)
		if run.Domain == "" {
			run.Domain = urlutil.Domain(run.URL)
		}

		if run.Success {
			logger.Info("operation completed", "items", run.Items, "duration", run.Duration)
		} else {
			logger.Warn("operation failed", "kind", run.ErrorKind, "error", run.Error, "duration", run.Duration)
		}
		if err := e.recorder.Record(context.WithoutCancel(ctx), &run); err != nil {
			logger.Error("failed to record operation", "error", err)
		}
	}()

	return op(ctx)
}

func itemCount(data any) int {
	switch v := data.(type) {
	case []models.ExtractedProduct:
		return len(v)
	case []models.ExtractedReview:
		return len(v)
	case nil:
		return 0
	default:
		return 1
	}
}

// page returns the session's page, starting the browser if needed.
func (e *Engine) page(ctx context.Context) (dom.Page, error) {
	page, err := e.session.EnsureReady(ctx)
	if err != nil {
		return nil, browserError(err, "Failed to start browser")
	}
	return page, nil
}

// open navigates to url and waits for the page to settle.
func (e *Engine) open(ctx context.Context, page dom.Page, url string) error {
	if err := e.navigator.Goto(ctx, page, url); err != nil {
		return browserError(err, "Failed to open %s", url)
	}
	return e.settle(ctx, page)
}

func (e *Engine) settle(ctx context.Context, page dom.Page) error {
	if err := e.waiter.Settle(ctx, page); err != nil {
		return browserError(err, "Page did not settle")
	}
	if e.cfg.Humanize {
		if err := browser.Humanize(ctx, page, e.sleep); err != nil {
			e.logger.Debug("humanize failed", "error", err)
		}
	}
	return nil
}

// lazyLoad scrolls to the bottom a few times so lazily rendered content is
// present, then returns to the top.
func (e *Engine) lazyLoad(ctx context.Context, page dom.Page, attempts int) {
	loader := readiness.ScrollLoader{Attempts: attempts, Pause: e.cfg.ScrollPause, Threshold: 50, Sleep: e.sleep}
	grew, err := loader.Load(ctx, page)
	if err != nil {
		e.logger.Debug("lazy load pass stopped", "error", err)
	}
	if _, err := page.Evaluate(dom.ScriptScrollToTop); err != nil {
		e.logger.Debug("scroll to top failed", "error", err)
	}
	e.logger.Debug("lazy load pass finished", "grew", grew)
}

func (e *Engine) cleanedContent(page dom.Page) (string, error) {
	html, err := page.Content()
	if err != nil {
		return "", browserError(err, "Failed to read page content")
	}
	return sanitize.Clean(html, e.cfg.HTMLBudget), nil
}

// infer runs structure inference on the current page and caches the result
// under every domain it was requested for.
func (e *Engine) infer(ctx context.Context, page dom.Page, aliases ...string) (models.InferenceResult, error) {
	cleaned, err := e.cleanedContent(page)
	if err != nil {
		return models.InferenceResult{}, err
	}

	pageURL := page.URL()
	result := e.inference.Infer(ctx, pageURL, cleaned)
	if !result.Success {
		cause := result.Err
		if cause == nil {
			cause = ErrStructureUnavailable
		}
		kind := models.KindStructureUnavailable
		if kindOf(cause) == models.KindModelMalformed {
			kind = models.KindModelMalformed
		}
		return result, newError(kind, cause, "Failed to analyze structure: %s", result.ErrorMessage)
	}

	for _, domain := range aliases {
		if domain != "" && domain != urlutil.Domain(pageURL) {
			e.cache.Put(domain, result.Structure)
		}
	}
	return result, nil
}

// structureFor returns the cached structure for domain, analyzing the current
// page on a miss.
func (e *Engine) structureFor(ctx context.Context, page dom.Page, domain string) (*models.SiteStructure, error) {
	if s, ok := e.cache.Get(domain); ok {
		return s, nil
	}
	e.logger.Info("no cached structure, analyzing page", "domain", domain)
	result, err := e.infer(ctx, page, domain)
	if err != nil {
		return nil, err
	}
	return result.Structure, nil
}

func normalizeInput(raw, missing string) (string, error) {
	if raw == "" {
		return "", inputError("%s", missing)
	}
	normalized, err := urlutil.Normalize(raw)
	if err != nil {
		return "", inputError("Invalid URL: %s", raw)
	}
	return normalized, nil
}

// Analyze opens rawURL and infers its structure.
func (e *Engine) Analyze(ctx context.Context, rawURL string) (models.InferenceResult, error) {
	target, err := normalizeInput(rawURL, "URL is required for page analysis")
	if err != nil {
		return models.InferenceResult{}, err
	}
	page, err := e.page(ctx)
	if err != nil {
		return models.InferenceResult{}, err
	}
	if err := e.open(ctx, page, target); err != nil {
		return models.InferenceResult{}, err
	}
	e.lazyLoad(ctx, page, 3)
	return e.infer(ctx, page, urlutil.Domain(target))
}

func (e *Engine) AnalyzePage(ctx context.Context, rawURL string) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionAnalyzePage, URL: rawURL}, func(ctx context.Context) models.ToolResult {
		result, err := e.Analyze(ctx, rawURL)
		if err != nil {
			return failure(err)
		}
		return models.Success(formatAnalysis(result), result)
	})
}

func (e *Engine) SearchProducts(ctx context.Context, req SearchRequest) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionSearchProducts, URL: req.URL, Query: req.Query}, func(ctx context.Context) models.ToolResult {
		products, err := e.Search(ctx, req)
		if err != nil {
			return failure(err)
		}
		header := "Found products"
		if products.Augmented {
			header = "Found products with reviews"
		}
		return models.Success(fmt.Sprintf("%s: %d\n\n%s", header, len(products.Products), models.FormatProducts(products.Products)), products.Products)
	})
}

func (e *Engine) GetProductInfo(ctx context.Context, productURL string) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionGetProductInfo, URL: productURL}, func(ctx context.Context) models.ToolResult {
		details, err := e.Product(ctx, productURL)
		if err != nil {
			return failure(err)
		}
		return models.Success(details.Format(), details)
	})
}

func (e *Engine) GetReviews(ctx context.Context, productURL string, maxReviews int) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionGetReviews, URL: productURL}, func(ctx context.Context) models.ToolResult {
		reviews, err := e.Reviews(ctx, productURL, maxReviews)
		if err != nil {
			return failure(err)
		}
		return models.Success(fmt.Sprintf("Found reviews: %d\n\n%s", len(reviews), models.FormatReviews(reviews)), reviews)
	})
}

func (e *Engine) ApplyFilters(ctx context.Context, filters map[string]string) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionApplyFilters}, func(ctx context.Context) models.ToolResult {
		applied, err := e.Filter(ctx, filters)
		if err != nil {
			return failure(err)
		}
		return models.Success("Filters applied successfully", map[string]int{"applied": applied, "requested": len(filters)})
	})
}

func (e *Engine) NavigatePage(ctx context.Context, pageNumber int) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionNavigatePage}, func(ctx context.Context) models.ToolResult {
		n, err := e.Navigate(ctx, pageNumber)
		if err != nil {
			return failure(err)
		}
		return models.Success(fmt.Sprintf("Navigated to page %d", n), map[string]int{"page": n})
	})
}

// Close shuts the browser down and forgets every cached structure. Closing a
// session that was never started succeeds.
func (e *Engine) Close(ctx context.Context) models.ToolResult {
	return e.run(ctx, models.OperationRun{Action: ActionClose}, func(ctx context.Context) models.ToolResult {
		err := e.session.Close()
		e.cache.Clear()
		if err != nil {
			return models.Failure(models.KindBrowser, fmt.Sprintf("Closing error: %v", err))
		}
		return models.Success("Browser closed successfully", nil)
	})
}
