package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"examseal/core/fault"
	"examseal/core/validation"
)

const maxBodyBytes = 1 << 20

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindUnauthenticated:
		return http.StatusUnauthorized
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindInvalidInput:
		return http.StatusBadRequest
	case fault.KindAlreadyLocked, fault.KindAlreadyFinalized, fault.KindEmptyContent:
		return http.StatusConflict
	case fault.KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	case fault.KindIndeterminate:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		s.log.ErrorContext(r.Context(), "request failed", "request_id", requestIDFrom(r.Context()), "kind", kind, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: fault.PublicMessage(err)}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody validates the body against schema, unmarshals it into v and
// checks v's struct tags.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, schema validation.Schema, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "request body too large or unreadable", err)
	}
	if err := validation.ValidatePayload(schema, raw); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return fault.New(fault.KindInvalidInput, verr.Error())
		}
		return fault.Wrap(fault.KindInternal, "validate body", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fault.Wrap(fault.KindInvalidInput, "malformed request body", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fault.New(fault.KindInvalidInput, err.Error())
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.Newf(fault.KindInvalidInput, "invalid %s %q", name, r.PathValue(name))
	}
	return id, nil
}
