// Package response renders the JSON envelope used by the HTTP surface:
// {"status": bool, "code": int, "message": ...}.
package response

import (
	"encoding/json"
	"net/http"
)

type okBody struct {
	Status  bool        `json:"status"`
	Code    int         `json:"code"`
	Message interface{} `json:"message"`
}

type errBody struct {
	Status  bool   `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteOK writes data wrapped in a success envelope. The HTTP status is
// always 200; the envelope carries the logical code.
func WriteOK(w http.ResponseWriter, data interface{}) {
	write(w, okBody{Status: true, Code: http.StatusOK, Message: data})
}

// WriteError writes an error envelope carrying code and message.
func WriteError(w http.ResponseWriter, code int, message string) {
	write(w, errBody{Status: false, Code: code, Message: message})
}

func write(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
