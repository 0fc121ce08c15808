package service

import (
	"fmt"
	"net/http"
)

// ServiceError is a request the service refuses, with the HTTP code the API
// answers with.
type ServiceError struct {
	Code    int
	Message string
	Field   string
}

func (e *ServiceError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewServiceError(code int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// invalidField reports a bad request caused by one input field.
func invalidField(field, format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Code:    http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
		Field:   field,
	}
}
