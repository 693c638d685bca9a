package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/store"
	"github.com/fentz26/hive/internal/tools"
)

// Sentinel errors for control plane operations.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("resource not found")
	ErrTaskNotFound = errors.New("task not found")
	ErrNodeNotFound = errors.New("node not found")
)

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrInvalidPriority),
		errors.Is(err, tools.ErrInvalidInitialState),
		errors.Is(err, store.ErrUnknownField),
		errors.Is(err, bus.ErrInvalidTopic):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrNodeNotFound),
		errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, bus.ErrUnknownTopic):
		return http.StatusNotFound
	case errors.Is(err, bus.ErrDuplicateTopic):
		return http.StatusConflict
	case errors.Is(err, bus.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
