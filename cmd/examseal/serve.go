package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"examseal/api/server"
	"examseal/core/ledger"
)

var serveWithGateway bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the exam API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		verifier, err := a.verifier()
		if err != nil {
			return err
		}
		opts := server.Options{
			ListenAddr:      a.cfg.ListenAddr,
			Exams:           a.exams,
			Integrity:       a.integrity,
			Verifier:        verifier,
			Issuer:          a.issuer(),
			Store:           a.store,
			Ledger:          a.ledger,
			RateLimitPerMin: a.cfg.RateLimitPerMin,
			Logger:          a.log,
		}
		if a.cfg.EnableHTTPS {
			opts.TLSCertPath, opts.TLSKeyPath = a.cfg.TLSCertPath, a.cfg.TLSKeyPath
		}
		if opts.Issuer != nil {
			a.log.Warn("development token endpoint enabled")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.NewServer(opts).Start(ctx) })
		if serveWithGateway {
			if a.local == nil {
				return errors.New("--with-gateway needs LEDGER_MODE=local")
			}
			g.Go(func() error {
				return serveGateway(ctx, a.cfg.LedgerListenAddr, ledger.Handler(a.local, a.cfg.LedgerToken, a.log))
			})
		}
		return g.Wait()
	},
}

// serveGateway serves h until ctx is done.
func serveGateway(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
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
	return srv.Shutdown(shutdownCtx)
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithGateway, "with-gateway", false, "also serve the local ledger's HTTP gateway on LEDGER_LISTEN_ADDR")
	rootCmd.AddCommand(serveCmd)
}
