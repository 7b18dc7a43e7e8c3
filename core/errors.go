package core

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	PipelineErrorBadInput     = "PIPELINE_ERR_BAD_INPUT"
	PipelineErrorUnauthorized = "PIPELINE_ERR_UNAUTHORIZED"
	PipelineErrorNotFound     = "PIPELINE_ERR_NOT_FOUND"
	PipelineErrorConflict     = "PIPELINE_ERR_CONFLICT"
	PipelineErrorExternal     = "PIPELINE_ERR_EXTERNAL"
	PipelineErrorInternal     = "PIPELINE_ERR_INTERNAL"
)

func NewAuthError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, PipelineErrorUnauthorized, metadata)
}

func NewNotFoundError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, PipelineErrorNotFound, metadata)
}

func NewBadInputError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, PipelineErrorBadInput, metadata)
}

func NewInternalError(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryInternal, http.StatusInternalServerError, PipelineErrorInternal, metadata)
}

// WrapExternalError marks broker and store infrastructure failures, the
// retryable class of the taxonomy.
func WrapExternalError(source error, message string, metadata map[string]any) error {
	err := goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(PipelineErrorExternal)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapAuthError(source error, message string, metadata map[string]any) error {
	err := goerrors.Wrap(source, goerrors.CategoryAuth, message).
		WithCode(http.StatusUnauthorized).
		WithTextCode(PipelineErrorUnauthorized)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// IsNotFound reports whether err carries the not-found category, regardless
// of which store produced it.
func IsNotFound(err error) bool {
	return hasCategory(err, goerrors.CategoryNotFound)
}

// IsAuthFailure reports whether err is a signature or configuration gate
// rejection that must never enqueue an event.
func IsAuthFailure(err error) bool {
	return hasCategory(err, goerrors.CategoryAuth)
}

func hasCategory(err error, category goerrors.Category) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.Category == category
}

func newError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
