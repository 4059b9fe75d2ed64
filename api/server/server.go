// Package server is the HTTP surface of the exam service.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"examseal/core/auth"
	"examseal/core/exam"
	"examseal/core/integrity"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping() error
}

// LedgerHealth is implemented by ledgers that can be probed.
type LedgerHealth interface {
	Health(ctx context.Context) error
}

// Options configure a Server.
type Options struct {
	ListenAddr      string
	Exams           *exam.Service
	Integrity       *integrity.Service
	Verifier        *auth.Verifier
	Issuer          *auth.Issuer // nil disables POST /api/login-token
	Store           Pinger
	Ledger          any // probed for LedgerHealth and ledgerHead when set
	RateLimitPerMin int // 0 disables rate limiting
	Logger          *slog.Logger
	TLSCertPath     string
	TLSKeyPath      string
}

type Server struct {
	ListenAddr string

	exams     *exam.Service
	integrity *integrity.Service
	verifier  *auth.Verifier
	issuer    *auth.Issuer
	store     Pinger
	ledger    any
	limiter   *ipLimiter
	validate  *validator.Validate
	log       *slog.Logger
	started   time.Time
	certPath  string
	keyPath   string
}

func NewServer(o Options) *Server {
	s := &Server{
		ListenAddr: o.ListenAddr,
		exams:      o.Exams,
		integrity:  o.Integrity,
		verifier:   o.Verifier,
		issuer:     o.Issuer,
		store:      o.Store,
		ledger:     o.Ledger,
		validate:   validator.New(),
		log:        o.Logger,
		started:    time.Now(),
		certPath:   o.TLSCertPath,
		keyPath:    o.TLSKeyPath,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "api")
	if o.RateLimitPerMin > 0 {
		s.limiter = newIPLimiter(o.RateLimitPerMin)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health/liveness", s.HandleLiveness)
	mux.HandleFunc("GET /health/readiness", s.HandleReadiness)
	mux.HandleFunc("GET /status", s.HandleStatus)
	mux.HandleFunc("GET /nodehealth", s.HandleNodeHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/login-token", s.handleLoginToken)

	mux.Handle("GET /api/exams/", s.authed(s.handleListExams))
	mux.Handle("POST /api/exams/", s.authed(s.handleCreateExam))
	mux.Handle("POST /api/exams/{id}/questions/", s.authed(s.handlePutQuestion))
	mux.Handle("PUT /api/exams/{id}/questions/{qid}", s.authed(s.handlePutQuestion))
	mux.Handle("DELETE /api/exams/{id}/questions/{qid}", s.authed(s.handleDeleteQuestion))
	mux.Handle("GET /api/exams/{id}/questions/", s.authed(s.handleQuestions))
	mux.Handle("POST /api/exams/{id}/start/", s.authed(s.handleStart))
	mux.Handle("POST /api/exams/{id}/lock/", s.authed(s.handleLock))
	mux.Handle("POST /api/exams/{id}/submit/", s.authed(s.handleSubmit))
	mux.Handle("GET /api/exams/{id}/verify/", s.authed(s.handleVerifyContent))
	mux.Handle("GET /api/exams/{id}/anchors/", s.authed(s.handleVerifyAnchors))
	mux.Handle("GET /api/exams/{id}/results/{sid}/verify/", s.authed(s.handleVerifyOutcome))
	mux.Handle("GET /api/exams/{id}/my-result/", s.authed(s.handleMyResult))
	mux.Handle("GET /api/exams/{id}/pending", s.authed(s.handlePending))
	mux.Handle("POST /api/exams/{id}/reconcile", s.authed(s.handleReconcile))

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.accessLog(h)
	h = requestID(h)
	return h
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if s.certPath != "" && s.keyPath != "" {
			s.log.Info("API server listening", "addr", s.ListenAddr, "https", true)
			errCh <- srv.ListenAndServeTLS(s.certPath, s.keyPath)
			return
		}
		s.log.Info("API server listening", "addr", s.ListenAddr, "https", false)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("API server shutting down")
	return srv.Shutdown(shutdownCtx)
}
