package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kashima-app/kashima/core/infra/logging"
)

// Reply is the outcome of one handled call. Every response on the wire is a
// {statusCode, data?|message?} envelope; non-2xx replies always carry a
// message.
type Reply struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
}

// OK wraps a 200 payload.
func OK(data any) *Reply {
	return &Reply{StatusCode: http.StatusOK, Data: data}
}

// Status returns a bare envelope with no payload.
func Status(code int) *Reply {
	return &Reply{StatusCode: code}
}

// Err wraps a failure with a caller-visible message.
func Err(code int, message string) *Reply {
	return &Reply{StatusCode: code, Message: message}
}

func writeReply(w http.ResponseWriter, reply *Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.StatusCode)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		logging.Error("http", "failed to write response", "error", err)
	}
}
