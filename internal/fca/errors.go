package fca

import "errors"

// ErrorCode identifies the class of a structural failure.
type ErrorCode string

const (
	CodeMissingEnd          ErrorCode = "missing_end"
	CodeMissingCurrency     ErrorCode = "missing_currency"
	CodeMissingTotal        ErrorCode = "missing_total"
	CodeUnbalancedSideTrips ErrorCode = "unbalanced_side_trips"
	CodeIncompleteSegment   ErrorCode = "incomplete_segment"
	CodeInvalidLeadToken    ErrorCode = "invalid_lead_token"
	CodeUnexpectedToken     ErrorCode = "unexpected_token"
	CodePatternTooLong      ErrorCode = "pattern_too_long"
)

// StructuralError describes why a pattern failed validation. Index is the
// position of the offending token in the cleaned pattern, or -1.
type StructuralError struct {
	Code    ErrorCode `json:"code"`
	Index   int       `json:"index"`
	Message string    `json:"message"`
}

func (e *StructuralError) Error() string { return e.Message }

func newError(code ErrorCode, index int, msg string) *StructuralError {
	return &StructuralError{Code: code, Index: index, Message: msg}
}

// repairable reports whether the reconstructor may attempt to fix the error.
// Parenthesis balance and oversized input are never repaired.
func (e *StructuralError) repairable() bool {
	switch e.Code {
	case CodeUnbalancedSideTrips, CodePatternTooLong:
		return false
	}
	return true
}

// HasCode reports whether err is a StructuralError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *StructuralError
	return errors.As(err, &se) && se.Code == code
}
