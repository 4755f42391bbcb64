package models

// ErrorKind tags a failed ToolResult so callers can reason about retries.
type ErrorKind string

const (
	KindInput                 ErrorKind = "input"
	KindStructureUnavailable  ErrorKind = "structure_unavailable"
	KindElementNotFound       ErrorKind = "element_not_found"
	KindUnsupportedNavigation ErrorKind = "unsupported_navigation"
	KindModelMalformed        ErrorKind = "model_response_malformed"
	KindBrowser               ErrorKind = "browser"
	KindInternal              ErrorKind = "internal"
)

// ToolResult is the uniform shape returned by every public operation.
// Exactly one of Output or Error is set.
type ToolResult struct {
	Output string    `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
	Kind   ErrorKind `json:"kind,omitempty"`

	// Data carries the typed payload behind Output when there is one.
	Data any `json:"data,omitempty"`
}

func Success(output string, data any) ToolResult {
	return ToolResult{Output: output, Data: data}
}

func Failure(kind ErrorKind, message string) ToolResult {
	return ToolResult{Error: message, Kind: kind}
}

func (r ToolResult) Failed() bool {
	return r.Error != ""
}
