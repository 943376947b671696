package errors

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassConfiguration
	ClassQuota
	ClassThrottled
	ClassUnavailable
	ClassTransport
	ClassValidation
)

// ClassifiedError pairs an internal error with the short, non-technical
// message the command layer may show a user.
type ClassifiedError struct {
	Class         ErrorClass
	InternalError error
	ClientMessage string
	OperationName string
	Scope         string
	Metadata      map[string]interface{}
}

var errorPool = sync.Pool{
	New: func() interface{} {
		return &ClassifiedError{
			Metadata: make(map[string]interface{}, 4),
		}
	},
}

func (ce *ClassifiedError) release() {
	ce.Class = ClassInternal
	ce.InternalError = nil
	ce.ClientMessage = ""
	ce.OperationName = ""
	ce.Scope = ""
	for k := range ce.Metadata {
		delete(ce.Metadata, k)
	}
	errorPool.Put(ce)
}

type ErrorClassifier struct {
	logger *slog.Logger
}

func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	return &ErrorClassifier{logger: logger}
}

func (ec *ErrorClassifier) Classify(err error, operation string) *ClassifiedError {
	classified := errorPool.Get().(*ClassifiedError)
	classified.InternalError = err
	classified.OperationName = operation

	switch {
	case errors.Is(err, ErrNoCredentialForScope):
		classified.Class = ClassConfiguration
		classified.ClientMessage = "This feature is not configured. Contact an administrator."
	case errors.Is(err, ErrQuotaExhausted):
		classified.Class = ClassQuota
		classified.ClientMessage = "The API quota is used up for now. Try again in a little while."
	case errors.Is(err, ErrUpstreamThrottled):
		classified.Class = ClassThrottled
		classified.ClientMessage = "The game API is throttling us. Try again shortly."
	case errors.Is(err, ErrUpstreamUnavailable):
		classified.Class = ClassUnavailable
		classified.ClientMessage = "The game API is down right now. Try again later."
	case errors.Is(err, ErrTransportFailure):
		classified.Class = ClassTransport
		classified.ClientMessage = "Could not reach the game API. Try again later."
	case errors.Is(err, ErrInvalidRequest):
		classified.Class = ClassValidation
		classified.ClientMessage = "That request was not valid."
	default:
		classified.Class = ClassInternal
		classified.ClientMessage = "Something went wrong. Try again later."
	}

	return classified
}

// LogAndSanitize writes the full internal error to the log and returns an
// error carrying only the client-safe message.
func (ec *ErrorClassifier) LogAndSanitize(ctx context.Context, classified *ClassifiedError) error {
	defer classified.release()

	ec.logger.ErrorContext(ctx, "operation failed",
		"operation", classified.OperationName,
		"error_class", int(classified.Class),
		"internal_error", classified.InternalError.Error(),
		"scope", classified.Scope,
		"metadata", classified.Metadata,
	)

	return errors.New(classified.ClientMessage)
}
