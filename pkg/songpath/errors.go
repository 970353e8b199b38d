package songpath

import (
	"context"
	"errors"
	"strings"

	"github.com/dan-solli/songpath/pkg/catalog"
	"github.com/dan-solli/songpath/pkg/graph"
	"github.com/dan-solli/songpath/pkg/search"
	"github.com/dan-solli/songpath/pkg/similarity"
	"github.com/dan-solli/songpath/pkg/store"
)

// Error type constants for classification
const (
	ErrTypeNotFound      = "not_found"
	ErrTypeConfiguration = "configuration"
	ErrTypeDatabase      = "database"
	ErrTypeValidation    = "validation"
	ErrTypeTimeout       = "timeout"
	ErrTypeUnknown       = "unknown"
)

// ErrEmptyQuery is returned by FindSongs for a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// ClassifyError inspects an error and returns its type classification.
// The result is used as the error_type label in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTypeTimeout
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrNodeNotFound),
		errors.Is(err, graph.ErrNodeNotFound):
		return ErrTypeNotFound
	case errors.Is(err, similarity.ErrConfiguration):
		return ErrTypeConfiguration
	case errors.Is(err, catalog.ErrDuplicateID),
		errors.Is(err, catalog.ErrInvalidRow),
		errors.Is(err, graph.ErrSelfLoop),
		errors.Is(err, graph.ErrInvalidWeight),
		errors.Is(err, search.ErrInvalidDepth),
		errors.Is(err, store.ErrAmbiguousNode),
		errors.Is(err, ErrEmptyQuery):
		return ErrTypeValidation
	}

	// SQLite driver errors carry no sentinel
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "sql") ||
		strings.Contains(msg, "database") ||
		strings.Contains(msg, "constraint") {
		return ErrTypeDatabase
	}

	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "must be") ||
		strings.Contains(msg, "cannot be empty") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
