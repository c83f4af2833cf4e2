package imageharvest

import "fmt"

// ErrorKind classifies pipeline failures. Only invalid input and
// unhandled orchestration errors fail a job; every other kind degrades
// to fewer or lower-quality results.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "invalid_input"
	KindUpstreamFetch   ErrorKind = "upstream_fetch_failure"
	KindCandidateFetch  ErrorKind = "candidate_fetch_failure"
	KindParse           ErrorKind = "parse_failure"
	KindStorage         ErrorKind = "storage_failure"
	KindWebhookDelivery ErrorKind = "webhook_delivery_failure"
	KindInternal        ErrorKind = "internal_error"
)

// PipelineError carries a failure classification alongside the wrapped
// cause. The message is user-visible; the cause is diagnostic detail.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}
