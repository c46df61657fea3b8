// Package response renders the JSON envelope shared by every inbound endpoint.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
)

// GenericResponse is the {status, customer_message, code, data} envelope.
// Code mirrors the HTTP status as a string.
type GenericResponse struct {
	Status          bool   `json:"status"`
	CustomerMessage string `json:"customer_message"`
	Code            string `json:"code"`
	Data            any    `json:"data"`
}

func Success(message string, data any) GenericResponse {
	return GenericResponse{
		Status:          true,
		CustomerMessage: message,
		Code:            strconv.Itoa(http.StatusOK),
		Data:            data,
	}
}

func Failure(status int, message string) GenericResponse {
	return GenericResponse{
		Status:          false,
		CustomerMessage: message,
		Code:            strconv.Itoa(status),
	}
}

// Write serializes body with the given HTTP status.
func Write(w http.ResponseWriter, status int, body GenericResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Error maps a domain error onto its HTTP status and writes the failure envelope.
func Error(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	Write(w, status, Failure(status, err.Error()))
}

// StatusFor classifies err the way the inbound API reports it.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, pubsub.ErrTransportUnavailable),
		errors.Is(err, pubsub.ErrPublishBufferFull),
		errors.Is(err, pubsub.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
