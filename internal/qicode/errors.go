package qicode

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a diagnostic category. Codes are stable across
// releases so tooling can match on them.
type ErrorCode string

// Construction errors (QIC1xx).
const (
	CodePulseTableFull       ErrorCode = "QIC101"
	CodeTriggerTableFull     ErrorCode = "QIC102"
	CodeCouplerOrder         ErrorCode = "QIC103"
	CodeCellNotInJob         ErrorCode = "QIC104"
	CodeElseWithoutIf        ErrorCode = "QIC105"
	CodeMalformedLoop        ErrorCode = "QIC106"
	CodeParallelArity        ErrorCode = "QIC107"
	CodeRecordingLength      ErrorCode = "QIC108"
	CodeInvalidPulse         ErrorCode = "QIC109"
	CodeJobSealed            ErrorCode = "QIC110"
	CodeParallelUnsupported  ErrorCode = "QIC111"
	CodeInvalidLiteral       ErrorCode = "QIC112"
	CodeUnsupportedOperation ErrorCode = "QIC113"
	CodeJobMisuse            ErrorCode = "QIC114"
)

// Typing errors (QIC2xx).
const (
	CodeTypeConflict   ErrorCode = "QIC201"
	CodeTypeUnresolved ErrorCode = "QIC202"
	CodeTypeIllegal    ErrorCode = "QIC203"
	CodeStateMisuse    ErrorCode = "QIC204"
)

// Analysis errors (QIC3xx).
const (
	CodeParallelMultiOffset  ErrorCode = "QIC301"
	CodeRecordingInBranch    ErrorCode = "QIC302"
	CodeUnresolvedProperties ErrorCode = "QIC303"
	CodeCellMapInvalid       ErrorCode = "QIC304"
	CodeRecordingOverflow    ErrorCode = "QIC305"
	CodeUnsimulatable        ErrorCode = "QIC306"
)

// Code generation errors (QIC4xx).
const (
	CodeRegistersExhausted    ErrorCode = "QIC401"
	CodeRegisterRelease       ErrorCode = "QIC402"
	CodeRegisterUninitialized ErrorCode = "QIC403"
	CodeOffsetTooLarge        ErrorCode = "QIC404"
	CodeWaitOutOfRange        ErrorCode = "QIC405"
	CodeConcurrentVarLength   ErrorCode = "QIC406"
)

// Packaging and loader errors (QIC5xx, QIC6xx).
const (
	CodeStoreFailed  ErrorCode = "QIC501"
	CodeLoaderFailed ErrorCode = "QIC601"
)

// Error is a structured compiler error. It carries the failing cell and
// variable where known so callers can point at the offending construct.
type Error struct {
	Code    ErrorCode
	Message string

	// Cell names the affected cell, empty when not cell-specific.
	Cell string

	// Var names the affected variable, empty when not variable-specific.
	Var string
}

func (e *Error) Error() string {
	switch {
	case e.Cell != "" && e.Var != "":
		return fmt.Sprintf("%s: %s (cell=%s, var=%s)", e.Code, e.Message, e.Cell, e.Var)
	case e.Cell != "":
		return fmt.Sprintf("%s: %s (cell=%s)", e.Code, e.Message, e.Cell)
	case e.Var != "":
		return fmt.Sprintf("%s: %s (var=%s)", e.Code, e.Message, e.Var)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, unwrapping as needed. Returns
// the empty code when err carries no *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code, unwrapping as needed.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Severity grades diagnostics that do not stop compilation.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityInfo
)

func (s Severity) String() string {
	if s == SeverityInfo {
		return "info"
	}
	return "warning"
}

// Diagnostic is a non-fatal finding accumulated during job construction and
// compilation: default-property fallbacks, timing caveats, progress-count
// accuracy notes.
type Diagnostic struct {
	Severity Severity
	Code     ErrorCode
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Diagnostic codes.
const (
	CodeDefaultProperty  ErrorCode = "QIC901"
	CodeWaitCalcTiming   ErrorCode = "QIC902"
	CodeProgressAccuracy ErrorCode = "QIC903"
	CodeLoopEndExcluded  ErrorCode = "QIC904"
)
