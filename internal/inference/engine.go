// Package inference asks a language model to describe a marketplace page as a
// selector map, and to read review links and review lists out of raw markup.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maltedev/marketplace-agent/internal/cache"
	"github.com/maltedev/marketplace-agent/internal/llm"
	"github.com/maltedev/marketplace-agent/internal/llmjson"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/maltedev/marketplace-agent/internal/urlutil"
)

var (
	// ErrMalformedResponse means no usable JSON could be recovered from the
	// model's reply.
	ErrMalformedResponse = errors.New("LLM did not return valid JSON")
	// ErrModel wraps transport and API failures of the model call.
	ErrModel = errors.New("LLM analysis error")
)

type Engine struct {
	llm    llm.Client
	cache  *cache.StructureCache
	logger *slog.Logger
}

// New creates a new inference engine backed by client
func New(client llm.Client, structures *cache.StructureCache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		llm:    client,
		cache:  structures,
		logger: logger.With("component", "inference"),
	}
}

// wireResult mirrors the JSON document the model is asked to produce.
type wireResult struct {
	Success      bool                  `json:"success"`
	Confidence   float64               `json:"confidence"`
	PageType     string                `json:"page_type"`
	Structure    *models.SiteStructure `json:"marketplace_structure"`
	ErrorMessage string                `json:"error_message"`
}

// Infer derives the site structure of pageURL from its sanitized markup. It
// never returns an error; failures are reported inside the result. A
// successful structure is cached under the page's domain.
func (e *Engine) Infer(ctx context.Context, pageURL, cleanedHTML string) models.InferenceResult {
	logger := e.logger.With("url", pageURL)

	response, err := e.llm.Ask(ctx, structurePrompt(pageURL, cleanedHTML))
	if err != nil {
		logger.Error("structure inference failed", "error", err)
		return models.InferenceResult{
			PageType:     models.PageTypeUnknown,
			ErrorMessage: fmt.Sprintf("%s: %v", ErrModel, err),
			Err:          fmt.Errorf("%w: %w", ErrModel, err),
		}
	}

	var wire wireResult
	strategy, err := llmjson.Object(response, &wire)
	if err != nil {
		logger.Warn("model response had no usable JSON", "response_length", len(response))
		return models.InferenceResult{
			PageType:     models.PageTypeUnknown,
			ErrorMessage: ErrMalformedResponse.Error(),
			Err:          ErrMalformedResponse,
		}
	}

	result := models.InferenceResult{
		Success:      wire.Success,
		Structure:    normalizeStructure(wire.Structure),
		Confidence:   clamp(wire.Confidence),
		PageType:     models.ParsePageType(wire.PageType),
		ErrorMessage: wire.ErrorMessage,
	}
	if result.Success && result.Structure == nil {
		result.Success = false
		if result.ErrorMessage == "" {
			result.ErrorMessage = "model reported success without a structure"
		}
	}
	if !result.Success && result.ErrorMessage == "" {
		result.ErrorMessage = "model could not determine the page structure"
	}

	logger.Info("structure inferred",
		"success", result.Success,
		"page_type", result.PageType,
		"confidence", result.Confidence,
		"strategy", strategy)

	if result.Success && e.cache != nil {
		if domain := urlutil.Domain(pageURL); domain != "" {
			e.cache.Put(domain, result.Structure)
		}
	}
	return result
}

func normalizeStructure(s *models.SiteStructure) *models.SiteStructure {
	if s == nil {
		return nil
	}
	if s.FilterGroups == nil {
		s.FilterGroups = []models.FilterGroup{}
	}
	for i := range s.FilterGroups {
		for j := range s.FilterGroups[i].Options {
			opt := &s.FilterGroups[i].Options[j]
			opt.Kind = models.FilterKind(strings.ToLower(strings.TrimSpace(string(opt.Kind))))
		}
	}
	if s.Navigation != nil && *s.Navigation == (models.NavigationSelectors{}) {
		s.Navigation = nil
	}
	if s.Reviews != nil && *s.Reviews == (models.ReviewSelectors{}) {
		s.Reviews = nil
	}
	return s
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
