package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// KindClassifier retries errors that match one of kinds via errors.Is.
// Everything else fails fast. Context cancellation is never retried or
// counted against the breaker.
func KindClassifier(kinds ...error) ErrorClassifier {
	return func(err error) ErrorClassification {
		if errors.Is(err, context.Canceled) {
			return ErrorClassification{}
		}
		for _, kind := range kinds {
			if kind != nil && errors.Is(err, kind) {
				return ErrorClassification{Retryable: true, RecordFailure: true}
			}
		}
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// KindForStatus maps an upstream HTTP status to an error kind. 429 is
// ErrRateLimited for every collaborator and is never retried; callers
// throttle before sending instead.
func KindForStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return domain.ErrTemporary
	default:
		return domain.ErrInvalidInput
	}
}

// TemporaryClassifier retries ErrTemporary only.
var TemporaryClassifier = KindClassifier(domain.ErrTemporary)

// WrapCircuitOpen marks an open-circuit rejection as temporary so callers
// can report it as unavailable.
func WrapCircuitOpen(operation string, err error) error {
	if err == nil || !IsCircuitOpen(err) || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}
