package server

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
)

const (
	statusOK    = "OK"
	statusError = "Error"
)

// OKResponse is the uniform success envelope.
type OKResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// okWithData returns a success envelope with the given payload.
func okWithData(data any) OKResponse {
	return OKResponse{
		Status: statusOK,
		Data:   data,
	}
}

// errorResponse returns an error envelope with the given message.
func errorResponse(msg string) ErrorResponse {
	return ErrorResponse{
		Status: statusError,
		Error:  msg,
	}
}

// validationError renders validator violations as a single message.
func validationError(errs validator.ValidationErrors) ErrorResponse {
	var msgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", err.Field()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("field %s must be greater than %s", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}
	return ErrorResponse{
		Status: statusError,
		Error:  strings.Join(msgs, ", "),
	}
}
