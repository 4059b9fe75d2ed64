package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"examseal/core/audit"
	"examseal/core/auth"
	"examseal/core/config"
	"examseal/core/exam"
	"examseal/core/integrity"
	"examseal/core/ledger"
	"examseal/core/storage"
)

// app holds the opened dependencies shared by the local commands.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	store     *storage.Storage
	ledger    ledger.Ledger
	local     *ledger.Local // nil in http ledger mode
	audit     audit.AuditLogger
	exams     *exam.Service
	integrity *integrity.Service
	closers   []func() error
}

func openApp() (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: cfg.NewLogger()}
	slog.SetDefault(a.log)

	var opts []storage.Option
	dek, err := cfg.DataKeyBytes()
	if err != nil {
		return nil, err
	}
	if dek != nil {
		opts = append(opts, storage.WithDataKey(dek))
	}
	a.store, err = storage.Open(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	switch cfg.LedgerMode {
	case config.LedgerHTTP:
		a.ledger = ledger.NewClient(cfg.LedgerURL, cfg.LedgerToken, cfg.LedgerTimeout)
	default:
		a.local, err = ledger.OpenLocal(cfg.LedgerDBPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, a.local.Close)
		a.ledger = a.local
	}

	sinks := []audit.AuditLogger{audit.NewSlogAuditLogger(a.log)}
	if cfg.AuditLogPath != "" {
		fl, err := audit.NewFileAuditLogger(cfg.AuditLogPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, fl)
	}
	a.audit = audit.Multi(sinks...)

	a.exams = exam.NewService(a.store, exam.WithAudit(a.audit), exam.WithLogger(a.log))
	a.integrity = integrity.NewService(a.store, a.ledger,
		integrity.WithAudit(a.audit),
		integrity.WithLogger(a.log),
		integrity.WithSubjectLocks(a.exams.SubjectLocks()),
		integrity.WithLedgerTimeout(cfg.LedgerTimeout),
	)
	return a, nil
}

func (a *app) verifier() (*auth.Verifier, error) {
	if a.cfg.JWTPublicKeyPath != "" {
		pub, err := auth.LoadRSAPublicKeyFromFile(a.cfg.JWTPublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load JWT public key: %w", err)
		}
		return &auth.Verifier{
			KeyProvider: &auth.RSAKeyProvider{PublicKey: pub},
			Issuer:      a.cfg.JWTIssuer,
			Methods:     []string{jwt.SigningMethodRS256.Alg()},
		}, nil
	}
	return auth.NewHMACVerifier([]byte(a.cfg.JWTSecret), a.cfg.JWTIssuer), nil
}

func (a *app) issuer() *auth.Issuer {
	if !a.cfg.DevTokens || a.cfg.JWTSecret == "" {
		return nil
	}
	return &auth.Issuer{Secret: []byte(a.cfg.JWTSecret), Name: a.cfg.JWTIssuer, TTL: 8 * time.Hour}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
