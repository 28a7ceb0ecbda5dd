package errors

import (
	"errors"
)

// Code is an OAuth2/OIDC error code as surfaced on the wire (RFC 6749 §5.2,
// RFC 6749 §4.1.2.1). Codes travel verbatim to the caller; anything internal
// collapses into CodeServerError before it leaves the server.
type Code string

const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeInvalidClient           Code = "invalid_client"
	CodeInvalidGrant            Code = "invalid_grant"
	CodeUnauthorizedClient      Code = "unauthorized_client"
	CodeUnsupportedGrantType    Code = "unsupported_grant_type"
	CodeUnsupportedResponseType Code = "unsupported_response_type"
	CodeInvalidScope            Code = "invalid_scope"
	CodeAccessDenied            Code = "access_denied"
)

const (
	CodeServerError Code = "server_error"
)

var ErrMissingKeyMaterial = errors.New("openidc: key material is required")

type Error struct {
	Code        Code
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Description != "" {
		return e.Description
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, description string) *Error {
	return &Error{
		Code:        code,
		Description: description,
	}
}

func Wrap(code Code, description string, err error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Err:         err,
	}
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

// CodeOf extracts the wire code from err. Errors that are not *Error are
// treated as internal and map to CodeServerError.
func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return CodeServerError
	}
	return typed.Code
}

func IsInternalCode(err error) bool {
	return CodeOf(err) == CodeServerError
}
