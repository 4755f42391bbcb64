package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/marketplace-agent/internal/dom"
	"github.com/maltedev/marketplace-agent/internal/inference"
	"github.com/maltedev/marketplace-agent/internal/models"
)

var (
	ErrInput                 = errors.New("invalid input")
	ErrStructureUnavailable  = errors.New("page structure not defined")
	ErrMissingSelector       = errors.New("selector not defined")
	ErrElementNotFound       = errors.New("element not found")
	ErrUnsupportedNavigation = errors.New("navigation not supported")
	ErrBrowser               = errors.New("browser error")
)

// Error is an operation failure carrying the message shown to the caller.
type Error struct {
	Kind    models.ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind models.ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func inputError(format string, args ...any) *Error {
	return newError(models.KindInput, ErrInput, format, args...)
}

func browserError(err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: models.KindBrowser, Message: fmt.Sprintf("%s: %v", msg, err), Err: errors.Join(ErrBrowser, err)}
}

// kindOf classifies err for a ToolResult.
func kindOf(err error) models.ErrorKind {
	var opErr *Error
	switch {
	case errors.As(err, &opErr):
		return opErr.Kind
	case errors.Is(err, inference.ErrMalformedResponse):
		return models.KindModelMalformed
	case errors.Is(err, ErrInput):
		return models.KindInput
	case errors.Is(err, ErrStructureUnavailable), errors.Is(err, ErrMissingSelector):
		return models.KindStructureUnavailable
	case errors.Is(err, ErrElementNotFound):
		return models.KindElementNotFound
	case errors.Is(err, ErrUnsupportedNavigation):
		return models.KindUnsupportedNavigation
	case errors.Is(err, ErrBrowser), errors.Is(err, dom.ErrTimeout), errors.Is(err, dom.ErrNoPage),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.KindBrowser
	default:
		return models.KindInternal
	}
}

// failure turns err into a failed ToolResult.
func failure(err error) models.ToolResult {
	return models.Failure(kindOf(err), err.Error())
}
