package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/relves/vaultgate/pkg/types"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 100
	maxLimit     = 1000
)

// badRequest marks malformed input that never reached the governor.
type badRequest struct {
	err error
}

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func badRequestf(format string, args ...any) error {
	return &badRequest{err: fmt.Errorf(format, args...)}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Class   string `json:"class"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status and response detail.
func statusFor(err error) (int, ErrorDetail) {
	var (
		vErr *ValidationError
		bErr *badRequest
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusForbidden, ErrorDetail{Code: vErr.Code, Class: string(types.ClassAuthorization), Message: vErr.Message}
	case errors.Is(err, errMissingPrincipal):
		return http.StatusUnauthorized, ErrorDetail{Code: "UNAUTHENTICATED", Class: string(types.ClassAuthorization), Message: err.Error()}
	case errors.As(err, &bErr):
		return http.StatusBadRequest, ErrorDetail{Code: "BAD_REQUEST", Class: string(types.ClassValidation), Message: err.Error()}
	}

	d := ErrorDetail{Code: types.CodeOf(err), Class: string(types.ClassOf(err)), Message: err.Error()}
	switch types.ClassOf(err) {
	case types.ClassValidation:
		return http.StatusBadRequest, d
	case types.ClassAuthorization:
		return http.StatusForbidden, d
	case types.ClassLifecycle:
		if errors.Is(err, types.ErrResourceNotFound) || errors.Is(err, types.ErrProposalNotFound) || errors.Is(err, types.ErrEventNotFound) {
			return http.StatusNotFound, d
		}
		return http.StatusConflict, d
	case types.ClassResource:
		return http.StatusUnprocessableEntity, d
	case types.ClassExternal:
		return http.StatusBadGateway, d
	default:
		d.Message = "internal error"
		return http.StatusInternalServerError, d
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, detail := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "path", r.URL.Path, "request_id", requestID(r), "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: detail})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequestf("invalid request body: %v", err)
	}
	return nil
}

func pathProposal(r *http.Request) (uint64, error) {
	pid, err := strconv.ParseUint(r.PathValue("pid"), 10, 64)
	if err != nil {
		return 0, badRequestf("invalid proposal id %q", r.PathValue("pid"))
	}
	return pid, nil
}

// page reads the from and limit query parameters.
func page(r *http.Request) (uint64, int, error) {
	q := r.URL.Query()
	var (
		from  uint64
		limit = defaultLimit
		err   error
	)
	if v := q.Get("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 64); err != nil {
			return 0, 0, badRequestf("invalid from %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, badRequestf("invalid limit %q", v)
		}
	}
	return from, min(limit, maxLimit), nil
}
