// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package omahaclient

import "fmt"

// UpdateCheckFailureReason classifies an UpdateCheckError for metrics
// reporting.
type UpdateCheckFailureReason int

const (
	FailureInternal UpdateCheckFailureReason = iota
	FailureNetwork
	FailureOmaha
)

func (r UpdateCheckFailureReason) String() string {
	switch r {
	case FailureInternal:
		return "Internal"
	case FailureNetwork:
		return "Network"
	case FailureOmaha:
		return "Omaha"
	default:
		return "Unknown"
	}
}

// OmahaRequestErrorKind distinguishes the ways a single request/response
// exchange with the update service can fail.
type OmahaRequestErrorKind int

const (
	// OmahaErrJSON is a request-body construction failure.
	OmahaErrJSON OmahaRequestErrorKind = iota
	// OmahaErrHTTPBuilder is a failure to construct the HTTP request.
	OmahaErrHTTPBuilder
	// OmahaErrTransport is a transport-level failure (connection, I/O).
	OmahaErrTransport
	// OmahaErrHTTPStatus is a non-success HTTP status.
	OmahaErrHTTPStatus
)

// OmahaRequestError wraps one exchange failure.
type OmahaRequestError struct {
	Kind       OmahaRequestErrorKind
	StatusCode int // meaningful only when Kind == OmahaErrHTTPStatus
	Err        error
}

func (e *OmahaRequestError) Error() string {
	switch e.Kind {
	case OmahaErrJSON:
		return fmt.Sprintf("omaha request: json: %v", e.Err)
	case OmahaErrHTTPBuilder:
		return fmt.Sprintf("omaha request: http builder: %v", e.Err)
	case OmahaErrTransport:
		return fmt.Sprintf("omaha request: transport: %v", e.Err)
	case OmahaErrHTTPStatus:
		return fmt.Sprintf("omaha request: http status %d", e.StatusCode)
	default:
		return fmt.Sprintf("omaha request: %v", e.Err)
	}
}

func (e *OmahaRequestError) Unwrap() error { return e.Err }

// retryable reports whether RetryingRequester should attempt this exchange
// again (subject to the max-attempts bound).
func (e *OmahaRequestError) retryable() bool {
	switch e.Kind {
	case OmahaErrTransport, OmahaErrHTTPStatus:
		return true
	default:
		return false
	}
}

// failureReason classifies this exchange error for metrics.
func (e *OmahaRequestError) failureReason() UpdateCheckFailureReason {
	switch e.Kind {
	case OmahaErrJSON, OmahaErrHTTPBuilder:
		return FailureInternal
	default:
		return FailureNetwork
	}
}

// ResponseParseError wraps a response-body parse failure.
type ResponseParseError struct {
	Err error
}

func (e *ResponseParseError) Error() string { return fmt.Sprintf("response parser: json: %v", e.Err) }
func (e *ResponseParseError) Unwrap() error { return e.Err }

// UpdateCheckErrorKind discriminates the UpdateCheckError sum.
type UpdateCheckErrorKind int

const (
	ErrPolicy UpdateCheckErrorKind = iota
	ErrOmahaRequest
	ErrResponseParser
	ErrInstallPlan
)

// UpdateCheckError is the terminal error of one pipeline attempt.
type UpdateCheckError struct {
	Kind     UpdateCheckErrorKind
	Decision CheckDecision      // meaningful when Kind == ErrPolicy
	Request  *OmahaRequestError // meaningful when Kind == ErrOmahaRequest
	Parse    *ResponseParseError
	Install  error // meaningful when Kind == ErrInstallPlan
}

func (e *UpdateCheckError) Error() string {
	switch e.Kind {
	case ErrPolicy:
		return fmt.Sprintf("update check denied by policy: %s", e.Decision.Kind)
	case ErrOmahaRequest:
		return e.Request.Error()
	case ErrResponseParser:
		return e.Parse.Error()
	case ErrInstallPlan:
		return fmt.Sprintf("install plan: %v", e.Install)
	default:
		return "update check: unknown error"
	}
}

// FailureReason classifies this error for UpdateCheckFailureReason metrics.
func (e *UpdateCheckError) FailureReason() UpdateCheckFailureReason {
	switch e.Kind {
	case ErrPolicy:
		return FailureInternal
	case ErrOmahaRequest:
		return e.Request.failureReason()
	case ErrResponseParser, ErrInstallPlan:
		return FailureOmaha
	default:
		return FailureInternal
	}
}

func newPolicyError(d CheckDecision) *UpdateCheckError {
	return &UpdateCheckError{Kind: ErrPolicy, Decision: d}
}

func newOmahaRequestError(e *OmahaRequestError) *UpdateCheckError {
	return &UpdateCheckError{Kind: ErrOmahaRequest, Request: e}
}

func newResponseParserError(err error) *UpdateCheckError {
	return &UpdateCheckError{Kind: ErrResponseParser, Parse: &ResponseParseError{Err: err}}
}

func newInstallPlanError(err error) *UpdateCheckError {
	return &UpdateCheckError{Kind: ErrInstallPlan, Install: err}
}
