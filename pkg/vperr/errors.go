// Package vperr defines the classified errors returned by presentation verification.
// Every stage of the pipeline fails closed with exactly one of these codes.
package vperr

import (
	"errors"
	"fmt"
)

// Error codes. These are verification-level codes, not HTTP status codes.
const (
	// ErrCodeFormat indicates the token does not have the expected dot- or tilde-delimited shape.
	ErrCodeFormat = "VP_FORMAT_INVALID"

	// ErrCodeDecode indicates a segment is not valid base64url or JSON.
	ErrCodeDecode = "VP_DECODE_FAILED"

	// ErrCodeSchema indicates a decoded header or payload violates the credential or key-binding schema.
	ErrCodeSchema = "VP_SCHEMA_INVALID"

	// ErrCodeKeyNotFound indicates no key hint could be resolved, or the resolved key is unknown.
	ErrCodeKeyNotFound = "VP_KEY_NOT_FOUND"

	// ErrCodeTrustExhausted indicates no configured trust source could answer for the issuer.
	ErrCodeTrustExhausted = "VP_TRUST_EXHAUSTED"

	// ErrCodeSignature indicates signature verification of the issuer JWT or KB-JWT failed.
	ErrCodeSignature = "VP_SIGNATURE_INVALID"

	// ErrCodeChallengeMismatch indicates the KB-JWT aud or nonce does not match the verifier challenge.
	ErrCodeChallengeMismatch = "VP_CHALLENGE_MISMATCH"

	// ErrCodeFreshness indicates the KB-JWT iat lies in the future beyond the allowed skew.
	ErrCodeFreshness = "VP_NOT_FRESH"

	// ErrCodeDisclosure indicates a disclosure is not committed to by the issuer payload.
	ErrCodeDisclosure = "VP_DISCLOSURE_INVALID"

	// ErrCodeDigestMismatch indicates the KB-JWT sd_hash does not cover the presented disclosures.
	ErrCodeDigestMismatch = "VP_SD_HASH_MISMATCH"

	// ErrCodeNotSupported indicates an operation reserved for a trust model that does not exist yet.
	ErrCodeNotSupported = "VP_NOT_SUPPORTED"

	// ErrCodeConfig indicates invalid verifier or trust configuration.
	ErrCodeConfig = "VP_CONFIG_INVALID"
)

// Error represents a verification error carrying one of the VP_* codes.
type Error struct {
	// Code is one of the VP_* error codes.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError creates a new Error that wraps an underlying error.
func WrapError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for use with errors.Is.
var (
	ErrFormat            = NewError(ErrCodeFormat, "token has an invalid shape")
	ErrDecode            = NewError(ErrCodeDecode, "token segment could not be decoded")
	ErrSchema            = NewError(ErrCodeSchema, "token violates the required schema")
	ErrKeyNotFound       = NewError(ErrCodeKeyNotFound, "key not found in key store")
	ErrTrustExhausted    = NewError(ErrCodeTrustExhausted, "no trust source could answer")
	ErrSignature         = NewError(ErrCodeSignature, "signature verification failed")
	ErrChallengeMismatch = NewError(ErrCodeChallengeMismatch, "key binding does not match challenge")
	ErrFreshness         = NewError(ErrCodeFreshness, "key binding issued in the future")
	ErrDisclosure        = NewError(ErrCodeDisclosure, "disclosure not committed by issuer")
	ErrDigestMismatch    = NewError(ErrCodeDigestMismatch, "sd_hash does not match presentation")
	ErrNotSupported      = NewError(ErrCodeNotSupported, "operation not supported")
	ErrConfig            = NewError(ErrCodeConfig, "invalid configuration")
)

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var vpErr *Error
	if errors.As(err, &vpErr) {
		return vpErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an Error, or returns empty string.
func GetErrorCode(err error) string {
	if vpErr, ok := AsError(err); ok {
		return vpErr.Code
	}
	return ""
}
