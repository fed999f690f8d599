package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

// ErrJobTimeout is recorded on a job whose run outlived the job timeout.
// Its text is what clients see in the job's error field.
var ErrJobTimeout = errors.New("Job timeout")

// Class is the failure category of a job run.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassNetwork
	ClassServer
	ClassClient
	ClassTimeout
	ClassNotFound
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNetwork:
		return "network"
	case ClassServer:
		return "server"
	case ClassClient:
		return "client"
	case ClassTimeout:
		return "timeout"
	case ClassNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether a run failing with this class may be retried.
func (c Class) Retryable() bool {
	return c == ClassNetwork || c == ClassServer
}

// Classify maps an execution error to its class. Unknown errors whose text
// names a reset or timed-out socket count as network errors.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var perr *models.ProviderError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return ClassValidation
	case errors.Is(err, ErrJobTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ClassTimeout
	case errors.Is(err, store.ErrNotFound):
		return ClassNotFound
	case errors.Is(err, models.ErrProviderNetwork):
		return ClassNetwork
	case errors.As(err, &perr):
		if perr.IsServerError() {
			return ClassServer
		}
		return ClassClient
	}

	msg := err.Error()
	if strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return ClassNetwork
	}
	return ClassUnknown
}
