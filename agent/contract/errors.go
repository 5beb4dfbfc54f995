package contract

import "errors"

var (
	ErrModelInvoke           = errors.New("model invoke failed")
	ErrSchemaViolation       = errors.New("model response violates schema")
	ErrPromptMissing         = errors.New("required prompt is missing")
	ErrValidation            = errors.New("validation failed")
	ErrMissingCaller         = errors.New("missing caller id")
	ErrHandlerWiring         = errors.New("handler wiring is invalid")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrMediaFetch            = errors.New("media download failed")
)
