package analyses

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrUploadFailed          = errors.New("artifact upload failed")
	ErrPollTimeout           = errors.New("poll timeout")
	ErrJobQueueNotConfigured = errors.New("job queue not configured")
)

// errValidation marks a rejected submission input.
type errValidation string

func (e errValidation) Error() string { return string(e) }

// errInference marks a provider call failure. The failed row stores the
// provider's own message; logs carry the prefixed form.
type errInference struct{ cause error }

func (e errInference) Error() string { return "inference analyze: " + e.cause.Error() }

func (e errInference) Unwrap() error { return e.cause }

// Stable machine codes persisted on failed jobs.
const (
	ErrorCodeValidation              = "VALIDATION_ERROR"
	ErrorCodeInferenceTimeout        = "INFERENCE_TIMEOUT"
	ErrorCodeInferenceSchemaMismatch = "INFERENCE_SCHEMA_MISMATCH"
	ErrorCodeInference               = "INFERENCE_ERROR"
	ErrorCodeStorage                 = "STORAGE_ERROR"
	ErrorCodeLedger                  = "LEDGER_ERROR"
	ErrorCodeInternal                = "INTERNAL_ERROR"
)
