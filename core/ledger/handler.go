package ledger

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Handler serves l as a ledger gateway:
//
//	POST /v1/content        register a content fingerprint
//	POST /v1/outcomes       commit an outcome fingerprint
//	GET  /v1/entries/{ref}  look up an anchored entry
//	GET  /v1/head           latest entry
//	GET  /v1/health         chain integrity check
//
// When token is non-empty every request must carry it as a bearer token.
func Handler(l *Local, token string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &gateway{l: l, log: logger.With("component", "ledger-gateway")}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/content", h.handleContent)
	mux.HandleFunc("POST /v1/outcomes", h.handleOutcome)
	mux.HandleFunc("GET /v1/entries/{ref}", h.handleEntry)
	mux.HandleFunc("GET /v1/head", h.handleHead)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	if token == "" {
		return mux
	}
	return requireToken(token, mux)
}

type gateway struct {
	l   *Local
	log *slog.Logger
}

func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *gateway) handleContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decode(w, r, &req) {
		return
	}
	ref, err := h.l.RegisterContent(r.Context(), req.SubjectID, req.Fingerprint, req.WindowStart, req.WindowEnd)
	if err != nil {
		h.fail(w, "register content", err)
		return
	}
	h.log.Info("content registered", "subject", req.SubjectID, "tx", ref)
	writeJSON(w, http.StatusOK, txResponse{TxRef: ref})
}

func (h *gateway) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decode(w, r, &req) {
		return
	}
	ref, err := h.l.CommitOutcome(r.Context(), req.SubjectID, req.PrincipalFingerprint, req.OutcomeFingerprint)
	if err != nil {
		h.fail(w, "commit outcome", err)
		return
	}
	h.log.Info("outcome committed", "subject", req.SubjectID, "tx", ref)
	writeJSON(w, http.StatusOK, txResponse{TxRef: ref})
}

func (h *gateway) handleEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.l.Lookup(r.Context(), TxRef(r.PathValue("ref")))
	if err != nil {
		h.fail(w, "lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *gateway) handleHead(w http.ResponseWriter, r *http.Request) {
	e, ok, err := h.l.Head()
	if err != nil {
		h.fail(w, "head", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "ledger is empty"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.l.VerifyChain(r.Context())
	if err != nil {
		h.log.Error("chain verification failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "entries": n, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": n})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// fail maps ledger errors onto statuses the Client classifies back.
func (h *gateway) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "entry not found"})
	case errors.Is(err, ErrRejected):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrUnavailable):
		h.log.Warn(op+" unavailable", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ledger unavailable"})
	default:
		h.log.Error(op+" failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
