package services

import (
	"errors"
	"fmt"
)

// Code is a stable, client-visible failure category.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyCompleted  Code = "ALREADY_COMPLETED"
	CodeAlreadyPending    Code = "ALREADY_PENDING"
	CodeAlreadyJoined     Code = "ALREADY_JOINED"
	CodeEventFull         Code = "EVENT_FULL"
	CodeExpired           Code = "EXPIRED"
	CodeLimitReached      Code = "LIMIT_REACHED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeLockBusy          Code = "LOCK_BUSY"
	CodeFraudBlocked      Code = "FRAUD_BLOCKED"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeInternal          Code = "INTERNAL"
)

// Error is a business failure with a code. Limit is set for LIMIT_REACHED.
type Error struct {
	Code    Code
	Message string
	Limit   int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so errors.Is(err, ErrLockBusy) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInsufficientFunds = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrAlreadyCompleted  = &Error{Code: CodeAlreadyCompleted, Message: "already completed"}
	ErrAlreadyPending    = &Error{Code: CodeAlreadyPending, Message: "already pending"}
	ErrAlreadyJoined     = &Error{Code: CodeAlreadyJoined, Message: "already joined"}
	ErrEventFull         = &Error{Code: CodeEventFull, Message: "event is full"}
	ErrExpired           = &Error{Code: CodeExpired, Message: "expired"}
	ErrLimitReached      = &Error{Code: CodeLimitReached, Message: "limit reached"}
	ErrRateLimited       = &Error{Code: CodeRateLimited, Message: "too many requests"}
	ErrLockBusy          = &Error{Code: CodeLockBusy, Message: "operation already in progress"}
	ErrFraudBlocked      = &Error{Code: CodeFraudBlocked, Message: "operation blocked"}
	ErrValidationFailed  = &Error{Code: CodeValidationFailed, Message: "validation failed"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(what, id string) *Error {
	return newError(CodeNotFound, "%s %s not found", what, id)
}

func validation(format string, args ...any) *Error {
	return newError(CodeValidationFailed, format, args...)
}

func limitReached(limit int, format string, args ...any) *Error {
	e := newError(CodeLimitReached, format, args...)
	e.Limit = limit
	return e
}

func internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Message: op, Cause: err}
}

// CodeOf extracts the code of err, INTERNAL for foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
