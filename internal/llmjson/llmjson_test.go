package llmjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	PageType   string  `json:"page_type"`
}

func TestObject(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     reply
		strategy Strategy
	}{
		{
			name:     "fenced block",
			response: "Here you go:\n```json\n{\"success\": true, \"confidence\": 0.9, \"page_type\": \"search\"}\n```\nDone.",
			want:     reply{Success: true, Confidence: 0.9, PageType: "search"},
			strategy: StrategyFenced,
		},
		{
			name:     "fence label is case insensitive",
			response: "```JSON\n{\"success\": true, \"confidence\": 0.5, \"page_type\": \"main\"}\n```",
			want:     reply{Success: true, Confidence: 0.5, PageType: "main"},
			strategy: StrategyFenced,
		},
		{
			name:     "embedded in prose",
			response: `I analyzed the page. {"success": true, "confidence": 0.7, "page_type": "category"} Hope this helps.`,
			want:     reply{Success: true, Confidence: 0.7, PageType: "category"},
			strategy: StrategySpan,
		},
		{
			name:     "trailing braces in prose break the greedy span",
			response: `{"success": false, "confidence": 0.1, "page_type": "unknown"} note: use {curly} wisely}`,
			want:     reply{Success: false, Confidence: 0.1, PageType: "unknown"},
			strategy: StrategyBalanced,
		},
		{
			name:     "braces inside strings",
			response: `result {"success": true, "confidence": 1, "page_type": "a}b{c"} and {oops}`,
			want:     reply{Success: true, Confidence: 1, PageType: "a}b{c"},
			strategy: StrategyBalanced,
		},
		{
			name:     "anchored after a broken leading object",
			response: `{not json at all} then {"success": true, "confidence": 0.4, "page_type": "product"}`,
			want:     reply{Success: true, Confidence: 0.4, PageType: "product"},
			strategy: StrategyAnchored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got reply
			strategy, err := Object(tt.response, &got)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.strategy, strategy)
		})
	}
}

func TestObject_NoJSON(t *testing.T) {
	responses := []string{
		"",
		"I could not analyze this page.",
		"{this is not json}",
		"```json\n{broken\n```",
		`"success": true`,
	}

	for _, response := range responses {
		var got reply
		_, err := Object(response, &got)
		assert.ErrorIs(t, err, ErrNoJSON, "response %q", response)
	}
}

func TestObject_TruncatedOuterObject(t *testing.T) {
	response := `{"meta": {"model": "x"}, "result": {"success": true, "confidence": 0.3, "page_type": "main"}`

	var got reply
	strategy, err := Object(response, &got)

	require.NoError(t, err)
	assert.Equal(t, StrategyAnchored, strategy)
	assert.Equal(t, reply{Success: true, Confidence: 0.3, PageType: "main"}, got)
}

type review struct {
	Author string  `json:"author"`
	Rating *string `json:"rating"`
	Text   string  `json:"text"`
}

func TestArray(t *testing.T) {
	response := "```json\n[{\"author\": \"Anna\", \"rating\": \"5\", \"text\": \"Great phone, works well\"}, {\"author\": \"Ivan\", \"rating\": null, \"text\": \"ok\"}]\n```"

	var got []review
	strategy, err := Array(response, &got)

	require.NoError(t, err)
	assert.Equal(t, StrategyFenced, strategy)
	require.Len(t, got, 2)
	assert.Equal(t, "Anna", got[0].Author)
	assert.Nil(t, got[1].Rating)
}

func TestArray_InProse(t *testing.T) {
	var got []review
	strategy, err := Array(`Reviews: [{"author": "A", "text": "Battery lasts two days"}] end`, &got)

	require.NoError(t, err)
	assert.Equal(t, StrategySpan, strategy)
	assert.Len(t, got, 1)
}

func TestArray_NoJSON(t *testing.T) {
	var got []review
	_, err := Array("No reviews on this page.", &got)
	assert.ErrorIs(t, err, ErrNoJSON)
}
