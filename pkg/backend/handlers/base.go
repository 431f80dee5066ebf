package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backend/middleware"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
)

// maxBodyBytes bounds request bodies of the admin API
const maxBodyBytes = 64 << 10

// SendSuccess sends a successful JSON response with data
func SendSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	send(w, r, http.StatusOK, backendtypes.APIResponse{Success: true, Data: data})
}

// SendError sends an error JSON response with APIError
func SendError(w http.ResponseWriter, r *http.Request, code string, message string, statusCode int) {
	send(w, r, statusCode, backendtypes.APIResponse{
		Error: &backendtypes.APIError{Code: code, Message: message},
	})
}

// SendCodedError maps an errcode error to its status and sends it
func SendCodedError(w http.ResponseWriter, r *http.Request, err error) {
	code := string(errcode.Of(err))
	if code == "" {
		code = string(errcode.ServerInternalFailure)
	}
	send(w, r, errcode.HTTPStatus(err), backendtypes.APIResponse{
		Error: &backendtypes.APIError{Code: code, Message: err.Error()},
	})
}

func send(w http.ResponseWriter, r *http.Request, statusCode int, resp backendtypes.APIResponse) {
	resp.RequestID = middleware.GetRequestID(r.Context())
	resp.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// ParseJSON parses an optional JSON body into target. An empty body leaves
// target untouched.
func ParseJSON(r *http.Request, target interface{}) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return errcode.Wrapf(err, errcode.ServerRequestInvalid, "invalid request body")
	}
	return nil
}
