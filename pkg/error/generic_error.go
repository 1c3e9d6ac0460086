package error

import "net/http"

// GenericError is what the REST recovery middleware knows how to render.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// NotFoundError names a record that does not exist. An empty value still
// renders a readable message.
type NotFoundError string

func (err NotFoundError) Error() string {
	if err == "" {
		return "resource not found"
	}
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "NOT_FOUND"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "INTERNAL_SERVER_ERROR"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}

type ConflictError string

func (err ConflictError) Error() string {
	return string(err)
}

func (err ConflictError) ErrCode() string {
	return "CONFLICT"
}

func (err ConflictError) StatusCode() int {
	return http.StatusConflict
}

type ServiceUnavailableError string

func (err ServiceUnavailableError) Error() string {
	return string(err)
}

func (err ServiceUnavailableError) ErrCode() string {
	return "SERVICE_UNAVAILABLE"
}

func (err ServiceUnavailableError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// StateError reports an operation that is not allowed in the record's current
// state (e.g. dispatching through a channel that is not paired).
type StateError struct {
	Code    string
	Message string
}

func (err StateError) Error() string {
	return err.Message
}

func (err StateError) ErrCode() string {
	return err.Code
}

func (err StateError) StatusCode() int {
	return http.StatusUnprocessableEntity
}
