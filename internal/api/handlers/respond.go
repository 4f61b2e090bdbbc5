package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/isdelr/vidstream-be/internal/services"
)

// APIResponse is the uniform envelope used for every response, success or
// failure.
type APIResponse struct {
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data"`
	Message    string      `json:"message"`
	Success    bool        `json:"success"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < 400,
	})
}

// respondError writes the envelope for a failed request. Service errors keep
// their status and message; anything else is reported as a 500 without
// leaking internals.
func respondError(w http.ResponseWriter, err error) {
	status := services.StatusOf(err)
	message := "Internal Server Error"
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}
	respondJSON(w, status, nil, message)
}

func respondErrorMsg(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, nil, message)
}
