// Package errcode attaches machine-readable codes to storage and adapter errors.
package errcode

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code identifies an error as "<area>.<operation>.<reason>"
type Code string

const (
	CredentialInvalidInput  Code = "credstore.credential.invalid_input"
	CredentialNotFound      Code = "credstore.credential.not_found"
	CredentialStoreFailure  Code = "credstore.credential.store_failure"
	CredentialDecodeFailure Code = "credstore.credential.decode_failure"
	CredentialWipeFailure   Code = "credstore.wipe.failure"
	CredentialCapacity      Code = "credstore.credential.exceeded"

	ProfileInvalidInput  Code = "profilestore.profile.invalid_input"
	ProfileReadFailure   Code = "profilestore.read.failure"
	ProfileWriteFailure  Code = "profilestore.write.failure"
	ProfileOpenFailure   Code = "profilestore.open.failure"
	ProfileDecodeFailure Code = "profilestore.profile.decode_failure"

	ConfigReadFailure   Code = "config.load.read_failure"
	ConfigInvalidFormat Code = "config.parse.invalid_format"
	ConfigInvalidValue  Code = "config.validate.invalid_value"

	ServerRequestInvalid  Code = "server.request.invalid_input"
	ServerInternalFailure Code = "server.internal.failure"
	ServerStartFailure    Code = "server.start.failure"
)

// New creates a coded error
func New(code Code, msg string) error {
	return oops.Code(code).New(msg)
}

// Errorf creates a coded error with a formatted message
func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrapf wraps err with a code and a formatted message. A nil err stays nil.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// Of returns the code attached to err, or "" if none
func Of(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

// Has reports whether err carries code
func Has(err error, code Code) bool {
	return err != nil && Of(err) == code
}

// IsNotFound reports whether err carries a not_found code
func IsNotFound(err error) bool {
	return reason(Of(err)) == "not_found"
}

// IsInvalidInput reports whether err carries an invalid input code
func IsInvalidInput(err error) bool {
	r := reason(Of(err))
	return r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// HTTPStatus maps a coded error to a response status
func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case reason(Of(err)) == "exceeded":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func reason(code Code) string {
	if i := strings.LastIndex(string(code), "."); i >= 0 {
		return string(code[i+1:])
	}
	return string(code)
}
