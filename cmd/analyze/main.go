package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/maltedev/marketplace-agent/internal/browser"
	"github.com/maltedev/marketplace-agent/internal/config"
	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/llm"
	"github.com/maltedev/marketplace-agent/internal/logging"
	"github.com/maltedev/marketplace-agent/internal/marketplace"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

func main() {
	var (
		action     = flag.String("action", "analyze", "One of analyze, search, product, reviews")
		targetURL  = flag.String("url", "", "Marketplace or product URL")
		query      = flag.String("query", "", "Search query (search only)")
		maxItems   = flag.Int("max", 0, "Maximum products or reviews, 0 for the configured default")
		htmlFile   = flag.String("html", "", "Analyze a saved HTML file served at -url instead of a live browser")
		headless   = flag.Bool("headless", true, "Run browser in headless mode")
		asJSON     = flag.Bool("json", false, "Print the full result as JSON")
		outputFile = flag.String("output", "", "Write found products to a CSV file (search only)")
	)
	flag.Parse()

	if *targetURL == "" {
		fmt.Println("Please provide a URL with -url")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, "text")

	req, err := buildRequest(*action, *targetURL, *query, *maxItems)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	var session dom.Session
	if *htmlFile != "" {
		raw, err := os.ReadFile(*htmlFile)
		if err != nil {
			logger.Error("failed to read html file", "error", err)
			os.Exit(1)
		}
		pageURL, err := urlutil.Normalize(*targetURL)
		if err != nil {
			logger.Error("invalid url", "url", *targetURL)
			os.Exit(1)
		}
		session = dom.NewStaticSession(dom.NewSnapshot().Add(pageURL, string(raw)))
	} else {
		opts := browser.DefaultOptions()
		opts.Headless = *headless && cfg.Browser.Headless
		opts.Timeout = cfg.Browser.Timeout
		opts.ProxyServer = cfg.Browser.ProxyServer
		if cfg.Browser.UserAgent != "" {
			opts.UserAgent = cfg.Browser.UserAgent
		}
		session = browser.NewSession(opts, logger)
	}

	ec := marketplace.DefaultConfig()
	ec.Humanize = *htmlFile == "" && cfg.Browser.Humanize
	engine := marketplace.New(ec, marketplace.Deps{
		Session: session,
		LLM: llm.NewOpenAIClient(llm.Config{
			APIURL:     cfg.LLM.APIURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			MaxTokens:  cfg.LLM.MaxTokens,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
		}, logger),
		Logger: logger,
	})

	result := engine.Execute(ctx, req)
	if closed := engine.Close(context.WithoutCancel(ctx)); closed.Failed() {
		logger.Warn("failed to close browser", "error", closed.Error)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Error("failed to encode result", "error", err)
		}
	} else if result.Failed() {
		fmt.Printf("Error (%s): %s\n", result.Kind, result.Error)
	} else {
		fmt.Println(result.Output)
	}

	if *outputFile != "" {
		products, ok := result.Data.([]models.ExtractedProduct)
		if !ok {
			logger.Warn("no products to save", "action", req.Action)
		} else if err := saveToCSV(products, *outputFile); err != nil {
			logger.Error("failed to save CSV", "error", err)
		} else {
			logger.Info("results saved to CSV", "file", *outputFile, "count", len(products))
		}
	}

	if result.Failed() {
		os.Exit(1)
	}
}

func buildRequest(action, targetURL, query string, maxItems int) (marketplace.Request, error) {
	switch action {
	case "analyze":
		return marketplace.Request{Action: marketplace.ActionAnalyzePage, URL: targetURL}, nil
	case "search":
		if query == "" {
			return marketplace.Request{}, fmt.Errorf("search needs -query")
		}
		return marketplace.Request{Action: marketplace.ActionSearchProducts, URL: targetURL, Query: query, MaxResults: maxItems}, nil
	case "product":
		return marketplace.Request{Action: marketplace.ActionGetProductInfo, ProductURL: targetURL}, nil
	case "reviews":
		return marketplace.Request{Action: marketplace.ActionGetReviews, ProductURL: targetURL, MaxReviews: maxItems}, nil
	default:
		return marketplace.Request{}, fmt.Errorf("unknown action %q", action)
	}
}

func saveToCSV(products []models.ExtractedProduct, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Title", "Price", "Link", "Rating", "Discount", "Reviews"}); err != nil {
		return err
	}
	for _, p := range products {
		reviews := ""
		if p.Reviews != nil {
			reviews = strconv.Itoa(len(p.Reviews))
		}
		if err := writer.Write([]string{p.Title, p.Price, p.Link, p.Rating, p.Discount, reviews}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
