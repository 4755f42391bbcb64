// Package llmjson pulls JSON values out of free-form language model replies.
//
// Models wrap JSON in prose, markdown fences or trailing commentary. Object and
// Array try an ordered list of extraction strategies and decode the first
// candidate that is valid JSON.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no strategy produced a decodable candidate.
var ErrNoJSON = errors.New("no valid JSON found in response")

// Strategy names the extraction step that produced a value.
type Strategy string

const (
	StrategyFenced   Strategy = "fenced"
	StrategySpan     Strategy = "span"
	StrategyBalanced Strategy = "balanced"
	StrategyAnchored Strategy = "anchored"
)

var (
	fencedObjectRe = regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```")
	fencedArrayRe  = regexp.MustCompile("(?is)```json\\s*(\\[.*?\\])\\s*```")
)

// Anchors are searched for when the whole-span strategies fail. The enclosing
// objects around each anchor are tried from the innermost outwards.
var defaultAnchors = []string{`"success"`, `"marketplace_structure"`}

// Object decodes the first JSON object found in response into v.
func Object(response string, v any) (Strategy, error) {
	candidates := []candidate{}
	if m := fencedObjectRe.FindStringSubmatch(response); m != nil {
		candidates = append(candidates, candidate{StrategyFenced, m[1]})
	}
	if s := greedySpan(response, '{', '}'); s != "" {
		candidates = append(candidates, candidate{StrategySpan, s})
	}
	if s := balancedFrom(response, strings.IndexByte(response, '{')); s != "" {
		candidates = append(candidates, candidate{StrategyBalanced, s})
	}
	for _, anchor := range defaultAnchors {
		for _, s := range enclosingObjects(response, anchor) {
			candidates = append(candidates, candidate{StrategyAnchored, s})
		}
	}
	return decodeFirst(candidates, v)
}

// Array decodes the first JSON array found in response into v.
func Array(response string, v any) (Strategy, error) {
	candidates := []candidate{}
	if m := fencedArrayRe.FindStringSubmatch(response); m != nil {
		candidates = append(candidates, candidate{StrategyFenced, m[1]})
	}
	if s := greedySpan(response, '[', ']'); s != "" {
		candidates = append(candidates, candidate{StrategySpan, s})
	}
	if s := balancedFrom(response, strings.IndexByte(response, '[')); s != "" {
		candidates = append(candidates, candidate{StrategyBalanced, s})
	}
	return decodeFirst(candidates, v)
}

type candidate struct {
	strategy Strategy
	text     string
}

func decodeFirst(candidates []candidate, v any) (Strategy, error) {
	var lastErr error
	for _, c := range candidates {
		if !json.Valid([]byte(c.text)) {
			continue
		}
		if err := json.Unmarshal([]byte(c.text), v); err != nil {
			lastErr = err
			continue
		}
		return c.strategy, nil
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoJSON, lastErr)
	}
	return "", ErrNoJSON
}

// greedySpan returns the text from the first open to the last close byte.
func greedySpan(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// balancedFrom returns the bracketed value starting at start, honoring JSON
// string literals, or "" when the brackets never balance.
func balancedFrom(s string, start int) string {
	if start < 0 || start >= len(s) {
		return ""
	}
	open := s[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// enclosingObjects lists balanced objects that contain the first occurrence
// of anchor, innermost first.
func enclosingObjects(s, anchor string) []string {
	idx := strings.Index(s, anchor)
	if idx < 0 {
		return nil
	}
	var out []string
	for i := idx; i >= 0; i-- {
		if s[i] != '{' {
			continue
		}
		obj := balancedFrom(s, i)
		if obj != "" && i+len(obj) > idx {
			out = append(out, obj)
		}
	}
	return out
}
