// Package errors maps service failures onto client-facing categories.
package errors

import (
	"errors"
	"net/http"
)

// Category classifies a ServiceError. Categories ordered before
// CategoryGeneralError are caused by the client.
type Category int

const (
	CategoryNoError Category = iota
	// CategoryDataError covers invalid payloads and parameters.
	CategoryDataError
	CategoryUnauthorized
	CategoryResourceNotFound
	// CategoryDataConflict means the request is valid but clashes with stored state.
	CategoryDataConflict
	// CategoryLocked means the request is valid but not allowed yet.
	CategoryLocked
	CategoryGeneralError
)

var categories = map[Category]struct {
	name   string
	status int
}{
	CategoryNoError:          {"CategoryNoError", http.StatusOK},
	CategoryDataError:        {"CategoryDataError", http.StatusBadRequest},
	CategoryUnauthorized:     {"CategoryUnauthorized", http.StatusUnauthorized},
	CategoryResourceNotFound: {"CategoryResourceNotFound", http.StatusNotFound},
	CategoryDataConflict:     {"CategoryDataConflict", http.StatusConflict},
	CategoryLocked:           {"CategoryLocked", http.StatusLocked},
	CategoryGeneralError:     {"CategoryGeneralError", http.StatusInternalServerError},
}

func (c Category) String() string {
	if info, ok := categories[c]; ok {
		return info.name
	}
	return categories[CategoryGeneralError].name
}

// ServiceError carries a category, the message shown to the client and the
// underlying error that is logged.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is matches any error whose text equals the client message.
func (err ServiceError) Is(target error) bool {
	return err.Message == target.Error()
}

// StatusCode returns the HTTP status for the error category.
func (err ServiceError) StatusCode() int {
	if info, ok := categories[err.Category]; ok && err.Category != CategoryNoError {
		return info.status
	}
	return http.StatusInternalServerError
}

// Is reports whether err wraps a ServiceError of category cat.
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// IsInternalError reports whether err is not a client-caused ServiceError.
func IsInternalError(err error) bool {
	var svcErr *ServiceError
	return !errors.As(err, &svcErr) || svcErr.Category >= CategoryGeneralError
}

func newError(cat Category, err error, message, fallback string) error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError hides err behind "Internal Server Error".
func GeneralError(err error) error {
	return newError(CategoryGeneralError, err, "Internal Server Error", "internal server error")
}

func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, message, "resource not found: "+message)
}

func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, message, "bad request: "+message)
}

func UnAuthorizedError(err error, message string) error {
	return newError(CategoryUnauthorized, err, message, "unauthorized")
}

func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, message, "conflict")
}

// LockedError reports a request that becomes valid later, such as a claim
// before the unlock time.
func LockedError(err error, message string) error {
	return newError(CategoryLocked, err, message, "locked")
}
