package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// ErrorKind is the machine-readable classification recorded on terminal failures.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindInput               ErrorKind = "input_error"
	ErrorKindTransientProvider   ErrorKind = "transient_provider_error"
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindPermanentProvider   ErrorKind = "permanent_provider_error"
	ErrorKindExhaustedRetries    ErrorKind = "exhausted_retries"
	ErrorKindNoAvailableProvider ErrorKind = "no_available_provider"
	ErrorKindCancelled           ErrorKind = "cancelled"
	ErrorKindDuplicate           ErrorKind = "duplicate_suppressed"
	ErrorKindTemplateNotFound    ErrorKind = "template_not_found"
	ErrorKindTemplateRender      ErrorKind = "template_render_error"
)

func (k ErrorKind) String() string { return string(k) }
